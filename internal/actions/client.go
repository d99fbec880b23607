// internal/actions/client.go

package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danupratama/chatsync/internal/chat"
	"github.com/danupratama/chatsync/internal/common/utils"
)

var (
	ErrRequestFailed = errors.New("request failed")
	ErrNotFound      = errors.New("message not found")
)

// Client performs the outbound local actions against the chat server's
// REST API. Each successful action is echoed into the reconciler
// immediately so the local view reflects it without waiting for the
// push channel.
type Client struct {
	baseURL    string
	token      string
	reconciler *chat.Reconciler
	http       *http.Client
}

func NewClient(baseURL, token string, reconciler *chat.Reconciler, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		reconciler: reconciler,
		http:       &http.Client{Timeout: timeout},
	}
}

// EditRequest is the body of a message edit.
type EditRequest struct {
	MessageText string `json:"message_text" validate:"required"`
}

// EditMessage changes a message's text for both parties.
func (c *Client) EditMessage(ctx context.Context, contactID, messageID, newText string) error {
	req := EditRequest{MessageText: newText}
	if err := utils.ValidateStruct(&req); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/messages/%s", c.baseURL, messageID)
	if err := c.do(ctx, http.MethodPut, url, req, nil); err != nil {
		return fmt.Errorf("edit message %s: %w", messageID, err)
	}

	c.reconciler.ApplyLocalEdit(contactID, messageID, newText)
	return nil
}

// DeletedMessage is the server's view of a message after a
// delete-for-everyone.
type DeletedMessage struct {
	MessageID string     `json:"message_id"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at"`
}

// DeleteForAll removes a message for every participant.
func (c *Client) DeleteForAll(ctx context.Context, contactID, messageID string) (*DeletedMessage, error) {
	var out struct {
		Message string         `json:"message"`
		Data    DeletedMessage `json:"data"`
	}

	url := fmt.Sprintf("%s/messages/%s", c.baseURL, messageID)
	if err := c.do(ctx, http.MethodDelete, url, nil, &out); err != nil {
		return nil, fmt.Errorf("delete message %s: %w", messageID, err)
	}

	c.reconciler.ApplyLocalDeleteForAll(contactID, messageID)
	return &out.Data, nil
}

// HiddenMessage is the server's view of a message after a
// delete-for-me.
type HiddenMessage struct {
	MessageID string     `json:"message_id"`
	UserID    string     `json:"user_id"`
	IsVisible bool       `json:"is_visible"`
	HiddenAt  *time.Time `json:"hidden_at"`
}

// DeleteForMe hides a message for the local user only.
func (c *Client) DeleteForMe(ctx context.Context, contactID, messageID string) (*HiddenMessage, error) {
	var out struct {
		Message string        `json:"message"`
		Data    HiddenMessage `json:"data"`
	}

	url := fmt.Sprintf("%s/users/%s/messages/%s", c.baseURL, c.reconciler.LocalUserID(), messageID)
	if err := c.do(ctx, http.MethodDelete, url, nil, &out); err != nil {
		return nil, fmt.Errorf("delete message %s for me: %w", messageID, err)
	}

	c.reconciler.ApplyLocalDeleteForMe(contactID, messageID)
	return &out.Data, nil
}

// Contact is one entry of the local user's contact list.
type Contact struct {
	UserID    string    `json:"user_id"`
	ContactID string    `json:"contact_id"`
	Alias     string    `json:"alias"`
	CreatedAt time.Time `json:"created_at"`
}

// AliasRequest is the body of a contact alias update.
type AliasRequest struct {
	Alias string `json:"alias" validate:"required"`
}

// UpdateContactAlias renames a contact. Plain REST plumbing; nothing to
// reconcile.
func (c *Client) UpdateContactAlias(ctx context.Context, contactID, alias string) (*Contact, error) {
	req := AliasRequest{Alias: alias}
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}

	var out Contact
	url := fmt.Sprintf("%s/me/contacts/%s", c.baseURL, contactID)
	if err := c.do(ctx, http.MethodPut, url, req, &out); err != nil {
		return nil, fmt.Errorf("update contact %s: %w", contactID, err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, url string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
