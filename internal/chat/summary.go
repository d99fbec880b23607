// internal/chat/summary.go

package chat

// ComputeLastMessage derives the contact-list summary for one viewer
// from a conversation's current sequence: the most recent message not
// hidden for that viewer, with its deleted-for-everyone status reflected
// in the preview. Returns false when the viewer has no visible anchor
// left (empty conversation, or every message hidden for them).
//
// Pure derivation over the store; the Reconciler maintains the published
// projection for the local viewer, but any viewer can be evaluated.
func ComputeLastMessage(store *Store, convID, viewerID string) (LastMessage, bool) {
	msg, ok := store.LastVisible(convID, viewerID)
	if !ok {
		return LastMessage{}, false
	}
	return summaryFromMessage(convID, msg), true
}

func summaryFromMessage(convID string, msg *Message) LastMessage {
	ts := msg.UpdatedAt
	if ts.IsZero() {
		ts = msg.CreatedAt
	}
	return LastMessage{
		ChatPartnerID: convID,
		MessageID:     msg.ID,
		Preview:       Preview(msg),
		Timestamp:     ts,
		Deleted:       msg.Deleted,
	}
}
