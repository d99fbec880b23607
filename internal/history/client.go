// internal/history/client.go

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/danupratama/chatsync/internal/chat"
)

// Item is one element of the bulk history response. Same message shape
// as the push channel plus the server-side visibility flags.
type Item struct {
	MessageID   string                   `json:"message_id"`
	FromUserID  string                   `json:"from_user_id"`
	ToUserID    string                   `json:"to_user_id"`
	MessageText string                   `json:"message_text"`
	IsDeleted   bool                     `json:"is_deleted"`
	IsVisible   bool                     `json:"is_visible"`
	HiddenAt    *time.Time               `json:"hidden_at"`
	CreatedAt   time.Time                `json:"created_at"`
	ReadAt      *time.Time               `json:"read_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	Attachments []chat.AttachmentPayload `json:"attachments"`
}

// Client fetches conversation history from the request/response
// channel. Failures degrade to an empty result so the UI shows "no
// history" instead of an error state.
type Client struct {
	baseURL   string
	token     string
	localUser string
	http      *http.Client
}

func NewClient(baseURL, token, localUserID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		token:     token,
		localUser: localUserID,
		http:      &http.Client{Timeout: timeout},
	}
}

// Fetch returns the ordered history with the given contact, mapped to
// the internal message shape. Any transport or decode failure is logged
// and returns an empty slice, never an error.
func (c *Client) Fetch(ctx context.Context, contactID string) []*chat.Message {
	if contactID == "" {
		log.Println("history: empty contact id, skipping fetch")
		return nil
	}

	url := fmt.Sprintf("%s/messages/%s/with/%s", c.baseURL, c.localUser, contactID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Printf("history: building request failed: %v", err)
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("history: fetch for %s failed: %v", contactID, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("history: fetch for %s returned HTTP %d", contactID, resp.StatusCode)
		return nil
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		log.Printf("history: decoding response for %s failed: %v", contactID, err)
		return nil
	}

	messages := make([]*chat.Message, 0, len(items))
	for _, item := range items {
		messages = append(messages, c.mapItem(item))
	}
	return messages
}

// Load runs one full history cycle against the reconciler: snapshot the
// conversation's epoch, fetch, and hand the result back so the
// reconciler can decide between full replace and merge.
func (c *Client) Load(ctx context.Context, reconciler *chat.Reconciler, contactID string) {
	epoch := reconciler.BeginFetch(contactID)
	messages := c.Fetch(ctx, contactID)
	reconciler.CompleteFetch(contactID, messages, epoch)
}

func (c *Client) mapItem(item Item) *chat.Message {
	payload := chat.MessagePayload{
		MessageID:   item.MessageID,
		FromUserID:  item.FromUserID,
		ToUserID:    item.ToUserID,
		MessageText: item.MessageText,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
		Attachments: item.Attachments,
	}
	msg := payload.Message(c.localUser)
	if item.IsDeleted {
		msg.MarkDeletedForAll(item.UpdatedAt)
	}
	if !item.IsVisible {
		at := item.UpdatedAt
		if item.HiddenAt != nil {
			at = *item.HiddenAt
		}
		msg.MarkHiddenFor(c.localUser, at)
	}
	return msg
}
