// internal/chat/events.go

package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danupratama/chatsync/internal/common/utils"
)

// Wire event names as emitted by the push channel.
const (
	EventNewMessage          = "newMessage"
	EventMessageUpdated      = "messageUpdated"
	EventMessageDeleted      = "messageDeleted"
	EventMessageDeletedForMe = "messageDeletedForMe"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedEvent   = errors.New("malformed event payload")
)

// Envelope wraps every frame on the push channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AttachmentPayload is the wire shape of one media item.
type AttachmentPayload struct {
	MediaType string `json:"media_type" validate:"required,oneof=image audio video file"`
	MediaURL  string `json:"media_url" validate:"required"`
	MediaName string `json:"media_name"`
	MediaSize int64  `json:"media_size"`
}

// MessagePayload is the wire shape shared by newMessage and
// messageUpdated events.
type MessagePayload struct {
	MessageID   string              `json:"message_id" validate:"required"`
	FromUserID  string              `json:"from_user_id" validate:"required"`
	ToUserID    string              `json:"to_user_id" validate:"required"`
	MessageText string              `json:"message_text"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Attachments []AttachmentPayload `json:"attachments" validate:"omitempty,dive"`
}

// ConversationWith returns the conversation key for this payload: the
// other party's id from the local user's point of view.
func (p *MessagePayload) ConversationWith(localUserID string) string {
	if p.FromUserID == localUserID {
		return p.ToUserID
	}
	return p.FromUserID
}

// Message maps the wire payload to the internal message shape,
// classifying attachment-driven display fields and computing the side
// relative to the local user.
func (p *MessagePayload) Message(localUserID string) *Message {
	msg := &Message{
		ID:             p.MessageID,
		ConversationID: p.ConversationWith(localUserID),
		SenderID:       p.FromUserID,
		RecipientID:    p.ToUserID,
		Text:           p.MessageText,
		Side:           SidePeer,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	if p.FromUserID == localUserID {
		msg.Side = SideOwn
	}
	if len(p.Attachments) > 0 {
		for _, att := range p.Attachments {
			msg.Attachments = append(msg.Attachments, Attachment(att))
		}
		first := p.Attachments[0]
		msg.Caption = p.MessageText
		msg.FileURL = first.MediaURL
		msg.FileName = first.MediaName
		msg.FileType = first.MediaType
		switch first.MediaType {
		case MediaAudio:
			// Audio replaces the generic file fields entirely.
			msg.AudioURL = first.MediaURL
			msg.FileURL = ""
			msg.FileName = ""
			msg.FileType = ""
		case MediaVideo:
			msg.VideoURL = first.MediaURL
			msg.FileURL = ""
		}
	}
	return msg
}

// DeletePayload is the wire shape shared by both deletion events. The
// contact id names the conversation the message lives in.
type DeletePayload struct {
	MessageID string `json:"message_id" validate:"required"`
	ContactID string `json:"contactId" validate:"required"`
}

// Event is the tagged union of the four push events.
type Event interface {
	Kind() string
}

type NewMessageEvent struct{ MessagePayload }

func (NewMessageEvent) Kind() string { return EventNewMessage }

type MessageUpdatedEvent struct{ MessagePayload }

func (MessageUpdatedEvent) Kind() string { return EventMessageUpdated }

type MessageDeletedEvent struct{ DeletePayload }

func (MessageDeletedEvent) Kind() string { return EventMessageDeleted }

type MessageDeletedForMeEvent struct{ DeletePayload }

func (MessageDeletedForMeEvent) Kind() string { return EventMessageDeletedForMe }

// DecodeEvent parses and validates one push frame. Frames with an
// unknown type or missing required fields are rejected here, at the
// boundary, so the reconciliation loop only ever sees well-formed
// events.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case EventNewMessage, EventMessageUpdated:
		var payload MessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		if err := utils.ValidateStruct(&payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		if env.Type == EventNewMessage {
			return NewMessageEvent{payload}, nil
		}
		return MessageUpdatedEvent{payload}, nil

	case EventMessageDeleted, EventMessageDeletedForMe:
		var payload DeletePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		if err := utils.ValidateStruct(&payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		if env.Type == EventMessageDeleted {
			return MessageDeletedEvent{payload}, nil
		}
		return MessageDeletedForMeEvent{payload}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}
