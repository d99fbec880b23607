// internal/chat/models.go

package chat

import "time"

// Side of a message relative to the local user
const (
	SideOwn  = "own"
	SidePeer = "peer"
)

// Attachment media kinds as they appear on the wire
const (
	MediaImage = "image"
	MediaAudio = "audio"
	MediaVideo = "video"
	MediaFile  = "file"
)

// Attachment is a media item assigned to a message at creation.
// Edits change text and caption only, never attachment identity.
type Attachment struct {
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
	MediaName string `json:"media_name"`
	MediaSize int64  `json:"media_size"`
}

// Message is the client-side projection of one chat message.
//
// A conversation is keyed by the peer's user id; each side of a chat
// stores its own ordered list under the other party's id. MessageID is
// stable across edits and never reused within a conversation.
type Message struct {
	ID             string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	RecipientID    string       `json:"recipient_id"`
	Text           string       `json:"text"`
	Caption        string       `json:"caption,omitempty"`
	Side           string       `json:"side"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Attachments    []Attachment `json:"attachments,omitempty"`

	// Display fields derived from the first attachment. Audio and video
	// override the generic file fields; images and files keep the caption
	// alongside them.
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileType string `json:"file_type,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`

	// Deleted is the global visibility axis: once the sender deletes a
	// message for everyone its content is redacted for every viewer, but
	// the message keeps its ordinal slot.
	Deleted bool `json:"is_deleted"`

	// hiddenFor is the local visibility axis: viewers that removed this
	// message for themselves. Never serialized, never leaves this client.
	hiddenFor map[string]bool
}

// HiddenFor reports whether the given viewer removed this message for
// themselves. Independent of the Deleted axis.
func (m *Message) HiddenFor(viewerID string) bool {
	return m.hiddenFor[viewerID]
}

// after reports whether m sorts after other. Ordering is CreatedAt with a
// MessageID tie-break so replaying the same events always yields the same
// sequence.
func (m *Message) after(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID > other.ID
	}
	return m.CreatedAt.After(other.CreatedAt)
}

// LastMessage is the per-conversation summary consumed by the contact
// list. It is derived state: recomputed after reconciliation, never
// edited directly.
type LastMessage struct {
	ChatPartnerID string    `json:"chat_partner_id"`
	MessageID     string    `json:"message_id"`
	Preview       string    `json:"message_text"`
	Timestamp     time.Time `json:"created_at"`
	Deleted       bool      `json:"is_deleted"`
}
