// internal/chat/visibility.go

package chat

import "time"

// Visibility transitions. Each axis is one-directional: there is no
// undelete on either of them, and setting one axis never touches the
// other. A message can carry both (deleted by the sender for everyone
// and separately hidden by this viewer); for display the global axis
// wins because its content is already redacted.

// MarkDeletedForAll moves the message onto the global deleted axis and
// redacts its content. The message keeps its slot in the sequence.
// Returns false when the message was already deleted for everyone.
func (m *Message) MarkDeletedForAll(at time.Time) bool {
	if m.Deleted {
		return false
	}
	m.Deleted = true
	m.Text = ""
	m.Caption = ""
	m.Attachments = nil
	m.FileURL = ""
	m.FileName = ""
	m.FileType = ""
	m.AudioURL = ""
	m.VideoURL = ""
	m.UpdatedAt = at
	return true
}

// MarkHiddenFor hides the message for a single viewer. No shared state
// changes; other viewers keep seeing the message. Returns false when it
// was already hidden for that viewer.
func (m *Message) MarkHiddenFor(viewerID string, at time.Time) bool {
	if m.hiddenFor[viewerID] {
		return false
	}
	if m.hiddenFor == nil {
		m.hiddenFor = make(map[string]bool)
	}
	m.hiddenFor[viewerID] = true
	m.UpdatedAt = at
	return true
}
