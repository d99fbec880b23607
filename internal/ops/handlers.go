// internal/ops/handlers.go

package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/danupratama/chatsync/internal/actions"
	"github.com/danupratama/chatsync/internal/chat"
	"github.com/danupratama/chatsync/internal/common/utils"
	"github.com/danupratama/chatsync/internal/history"
)

// Handler exposes the sync engine's read contract and the outbound
// actions over a local HTTP surface, so UI processes on this machine
// can consume the reconciled state without linking the engine in.
type Handler struct {
	reconciler *chat.Reconciler
	history    *history.Client
	actions    *actions.Client
}

func NewHandler(reconciler *chat.Reconciler, historyClient *history.Client, actionsClient *actions.Client) *Handler {
	return &Handler{
		reconciler: reconciler,
		history:    historyClient,
		actions:    actionsClient,
	}
}

// OpenConversation holds a conversation open and kicks off its bulk
// history load in the background. The load resolves the fetch/live-event
// race inside the reconciler.
func (h *Handler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]

	h.reconciler.OpenConversation(contactID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.history.Load(ctx, h.reconciler, contactID)
	}()

	utils.MessageResponse(w, "conversation opened", http.StatusOK)
}

// CloseConversation releases the view's hold on a conversation.
func (h *Handler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]
	h.reconciler.CloseConversation(contactID)
	utils.MessageResponse(w, "conversation closed", http.StatusOK)
}

// GetMessages returns the local viewer's visible sequence.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]
	messages := h.reconciler.VisibleMessages(contactID, h.reconciler.LocalUserID())
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.SuccessResponse(w, messages, http.StatusOK)
}

// GetLastMessage returns the conversation's published summary.
func (h *Handler) GetLastMessage(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]
	summary, ok := h.reconciler.LastMessageSummary(contactID)
	if !ok {
		utils.ErrorResponse(w, "no summary for conversation", http.StatusNotFound)
		return
	}
	utils.SuccessResponse(w, summary, http.StatusOK)
}

// GetSummaries returns the whole contact-list projection.
func (h *Handler) GetSummaries(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, h.reconciler.Summaries(), http.StatusOK)
}

// EditMessage forwards an edit to the server and echoes it locally.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req actions.EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.actions.EditMessage(r.Context(), vars["id"], vars["messageId"], req.MessageText); err != nil {
		writeActionError(w, err)
		return
	}
	utils.MessageResponse(w, "message updated", http.StatusOK)
}

// DeleteMessage forwards a deletion. scope=me hides the message for the
// local user only; anything else deletes it for everyone.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	contactID, messageID := vars["id"], vars["messageId"]

	var err error
	if r.URL.Query().Get("scope") == "me" {
		_, err = h.actions.DeleteForMe(r.Context(), contactID, messageID)
	} else {
		_, err = h.actions.DeleteForAll(r.Context(), contactID, messageID)
	}
	if err != nil {
		writeActionError(w, err)
		return
	}
	utils.MessageResponse(w, "message deleted", http.StatusOK)
}

// UpdateContact renames a contact.
func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	contactID := mux.Vars(r)["id"]

	var req actions.AliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "invalid request", http.StatusBadRequest)
		return
	}

	contact, err := h.actions.UpdateContactAlias(r.Context(), contactID, req.Alias)
	if err != nil {
		writeActionError(w, err)
		return
	}
	utils.SuccessResponse(w, contact, http.StatusOK)
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func writeActionError(w http.ResponseWriter, err error) {
	if errors.Is(err, actions.ErrNotFound) {
		utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}
	utils.ErrorResponse(w, err.Error(), http.StatusBadGateway)
}
