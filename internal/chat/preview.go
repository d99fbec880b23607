// internal/chat/preview.go

package chat

import "strings"

// DeletedPlaceholder is shown wherever a message's content has been
// removed for everyone.
const DeletedPlaceholder = "Message was deleted"

// Attachment preview tags
const (
	PreviewAudio = "[Audio]"
	PreviewVideo = "[Video]"
	PreviewImage = "[Image]"
	PreviewFile  = "[File]"
)

// Preview derives the short contact-list string for a message.
//
// Precedence: deleted messages always show the placeholder; messages
// with attachments show a kind tag, except that a non-empty caption or
// text accompanying an image or file wins over the tag; plain messages
// show their raw text (which may be empty). Pure function.
func Preview(m *Message) string {
	if m.Deleted {
		return DeletedPlaceholder
	}
	if len(m.Attachments) > 0 {
		switch m.Attachments[0].MediaType {
		case MediaAudio:
			return PreviewAudio
		case MediaVideo:
			return PreviewVideo
		case MediaImage:
			if t := captionText(m); t != "" {
				return t
			}
			return PreviewImage
		default:
			// Generic files and unknown kinds share the file tag.
			if t := captionText(m); t != "" {
				return t
			}
			return PreviewFile
		}
	}
	return m.Text
}

func captionText(m *Message) string {
	if t := strings.TrimSpace(m.Text); t != "" {
		return t
	}
	return strings.TrimSpace(m.Caption)
}
