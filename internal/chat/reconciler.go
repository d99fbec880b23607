// internal/chat/reconciler.go

package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPendingWindow bounds how long a mutation that arrived before
// its message may wait for the create to show up.
const DefaultPendingWindow = 30 * time.Second

// Reconciler owns a session's conversation state: it consumes push
// events and local optimistic actions, applies them to the store under
// the visibility rules, and keeps the per-conversation last-message
// summaries current. One Reconciler per client session; torn down on
// logout.
//
// Every event is processed to completion, mutation and summarization
// together, before the next one is observed. Handlers run under a
// single lock so interleaved events never see a partially-updated
// store; reads take the read side.
type Reconciler struct {
	mu        sync.RWMutex
	store     *Store
	localUser string
	summaries map[string]LastMessage
	listeners *listenerRegistry

	// Mutations that referenced a message before its create arrived,
	// kept for a bounded window and replayed when the create lands.
	pending map[pendingKey][]pendingMutation
	window  time.Duration

	// Conversations currently held open by an active view. Late history
	// responses for conversations no longer open are dropped.
	open map[string]int

	now func() time.Time
}

type pendingKey struct {
	convID    string
	messageID string
}

type pendingMutation struct {
	event    Event
	received time.Time
}

func NewReconciler(localUserID string) *Reconciler {
	return &Reconciler{
		store:     NewStore(),
		localUser: localUserID,
		summaries: make(map[string]LastMessage),
		listeners: newListenerRegistry(),
		pending:   make(map[pendingKey][]pendingMutation),
		window:    DefaultPendingWindow,
		open:      make(map[string]int),
		now:       time.Now,
	}
}

// LocalUserID returns the viewer this reconciler reconciles for.
func (r *Reconciler) LocalUserID() string {
	return r.localUser
}

// SetPendingWindow overrides how long early mutations wait for their
// create. Call before the first event is applied.
func (r *Reconciler) SetPendingWindow(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.window = d
	}
}

// Run drains the event channel until the context is cancelled. All
// application happens on this one goroutine; Apply remains safe to call
// directly as well.
func (r *Reconciler) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Apply(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Apply reconciles one event. Safe to replay: duplicate delivery leaves
// state unchanged. Failures are local, counted and logged, never
// returned.
func (r *Reconciler) Apply(ev Event) {
	r.mu.Lock()
	r.sweepPending()

	var touched []string
	switch e := ev.(type) {
	case NewMessageEvent:
		touched = r.applyNewMessage(e.MessagePayload)
	case MessageUpdatedEvent:
		touched = r.applyMessageUpdated(e)
	case MessageDeletedEvent:
		touched = r.applyMessageDeleted(e)
	case MessageDeletedForMeEvent:
		touched = r.applyMessageDeletedForMe(e)
	default:
		r.mu.Unlock()
		log.Printf("chat: dropping event with unhandled kind %q", ev.Kind())
		RecordEventDropped("unknown_type")
		return
	}
	eventsTotal.WithLabelValues(ev.Kind()).Inc()

	notes := r.collectNotifications(touched)
	r.mu.Unlock()
	deliver(notes)
}

func (r *Reconciler) applyNewMessage(p MessagePayload) []string {
	convID := p.ConversationWith(r.localUser)
	msg := p.Message(r.localUser)

	if !r.store.Append(convID, msg) {
		// At-least-once delivery; the transport redelivered a message we
		// already hold.
		duplicateMessages.Inc()
		return nil
	}

	replays := r.takePending(convID, msg.ID)
	r.refreshSummary(convID)

	for _, pm := range replays {
		pendingReplayed.Inc()
		switch e := pm.event.(type) {
		case MessageUpdatedEvent:
			r.applyMessageUpdated(e)
		case MessageDeletedEvent:
			r.applyMessageDeleted(e)
		case MessageDeletedForMeEvent:
			r.applyMessageDeletedForMe(e)
		}
	}
	return []string{convID}
}

func (r *Reconciler) applyMessageUpdated(e MessageUpdatedEvent) []string {
	p := e.MessagePayload
	convID := p.ConversationWith(r.localUser)

	msg, ok := r.store.Get(convID, p.MessageID)
	if !ok {
		unknownReferences.Inc()
		log.Printf("chat: update for unknown message %s in conversation %s", p.MessageID, convID)
		r.bufferPending(convID, p.MessageID, e)
		return nil
	}
	if msg.Deleted {
		// Edits never resurrect a message deleted for everyone.
		return nil
	}

	at := p.UpdatedAt
	if at.IsZero() {
		at = r.now()
	}
	r.store.Mutate(convID, p.MessageID, func(m *Message) {
		m.Text = p.MessageText
		if len(m.Attachments) > 0 {
			m.Caption = p.MessageText
		}
		m.UpdatedAt = at
	})

	// Editing a non-last message never changes the summary; when the
	// edited message is the current last one, the summary is recomputed
	// from it directly rather than rescanned.
	if last, ok := r.store.Last(convID); ok && last.ID == msg.ID && !last.HiddenFor(r.localUser) {
		r.summaries[convID] = summaryFromMessage(convID, last)
	}
	return []string{convID}
}

func (r *Reconciler) applyMessageDeleted(e MessageDeletedEvent) []string {
	convID := e.ContactID

	msg, ok := r.store.Get(convID, e.MessageID)
	if !ok {
		// The conversation may simply not be loaded on this client.
		unknownReferences.Inc()
		log.Printf("chat: delete for unknown message %s in conversation %s", e.MessageID, convID)
		r.bufferPending(convID, e.MessageID, e)
		return nil
	}
	if msg.Deleted {
		return nil
	}

	at := r.now()
	r.store.Mutate(convID, e.MessageID, func(m *Message) {
		m.MarkDeletedForAll(at)
	})
	r.refreshSummary(convID)
	return []string{convID}
}

func (r *Reconciler) applyMessageDeletedForMe(e MessageDeletedForMeEvent) []string {
	convID := e.ContactID

	msg, ok := r.store.Get(convID, e.MessageID)
	if !ok {
		unknownReferences.Inc()
		log.Printf("chat: hide for unknown message %s in conversation %s", e.MessageID, convID)
		r.bufferPending(convID, e.MessageID, e)
		return nil
	}
	if msg.HiddenFor(r.localUser) {
		return nil
	}

	at := r.now()
	r.store.Mutate(convID, e.MessageID, func(m *Message) {
		m.MarkHiddenFor(r.localUser, at)
	})
	r.refreshSummary(convID)
	return []string{convID}
}

// refreshSummary recomputes the published summary by scanning backward
// from the end of the sequence for the local viewer's nearest visible
// anchor. When every message is hidden for the viewer no real message
// anchors the summary, so a placeholder with a fresh identifier stands
// in.
func (r *Reconciler) refreshSummary(convID string) {
	if summary, ok := ComputeLastMessage(r.store, convID, r.localUser); ok {
		r.summaries[convID] = summary
		return
	}
	if r.store.Len(convID) == 0 {
		delete(r.summaries, convID)
		return
	}
	r.summaries[convID] = LastMessage{
		ChatPartnerID: convID,
		MessageID:     uuid.NewString(),
		Preview:       DeletedPlaceholder,
		Timestamp:     r.now(),
	}
}

// --- pending mutation buffer -------------------------------------------

func (r *Reconciler) bufferPending(convID, messageID string, ev Event) {
	key := pendingKey{convID: convID, messageID: messageID}
	r.pending[key] = append(r.pending[key], pendingMutation{event: ev, received: r.now()})
}

func (r *Reconciler) takePending(convID, messageID string) []pendingMutation {
	key := pendingKey{convID: convID, messageID: messageID}
	replays := r.pending[key]
	delete(r.pending, key)
	return replays
}

func (r *Reconciler) sweepPending() {
	cutoff := r.now().Add(-r.window)
	for key, muts := range r.pending {
		kept := muts[:0]
		for _, pm := range muts {
			if pm.received.Before(cutoff) {
				pendingExpired.Inc()
				continue
			}
			kept = append(kept, pm)
		}
		if len(kept) == 0 {
			delete(r.pending, key)
		} else {
			r.pending[key] = kept
		}
	}
}

// --- history loads ------------------------------------------------------

// BeginFetch snapshots the conversation's mutation counter when a bulk
// history fetch is issued. The caller passes it back to CompleteFetch so
// the race between in-flight fetches and live events can be resolved.
func (r *Reconciler) BeginFetch(convID string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Epoch(convID)
}

// CompleteFetch applies a bulk history response. A full replace is only
// safe when no live event touched the conversation since the fetch was
// issued; otherwise the response is merged by message-id union, keeping
// the most recently updated version of each. Responses for conversations
// no longer open are dropped.
func (r *Reconciler) CompleteFetch(convID string, msgs []*Message, epoch uint64) {
	r.mu.Lock()
	if r.open[convID] == 0 {
		r.mu.Unlock()
		historyLoads.WithLabelValues("dropped").Inc()
		log.Printf("chat: dropping late history for closed conversation %s", convID)
		return
	}

	if r.store.Epoch(convID) == epoch {
		r.store.ReplaceAll(convID, msgs, true)
		historyLoads.WithLabelValues("replace").Inc()
	} else {
		r.store.Merge(convID, msgs)
		historyLoads.WithLabelValues("merge").Inc()
	}
	r.replayPendingFor(convID)
	r.refreshSummary(convID)

	notes := r.collectNotifications([]string{convID})
	r.mu.Unlock()
	deliver(notes)
}

func (r *Reconciler) replayPendingFor(convID string) {
	for key := range r.pending {
		if key.convID != convID {
			continue
		}
		if _, ok := r.store.Get(convID, key.messageID); !ok {
			continue
		}
		for _, pm := range r.takePending(convID, key.messageID) {
			pendingReplayed.Inc()
			switch e := pm.event.(type) {
			case MessageUpdatedEvent:
				r.applyMessageUpdated(e)
			case MessageDeletedEvent:
				r.applyMessageDeleted(e)
			case MessageDeletedForMeEvent:
				r.applyMessageDeletedForMe(e)
			}
		}
	}
}

// --- local optimistic echoes -------------------------------------------

// ApplyLocalEdit reflects a locally requested edit without waiting for
// the push channel to echo it back.
func (r *Reconciler) ApplyLocalEdit(contactID, messageID, newText string) {
	r.Apply(MessageUpdatedEvent{MessagePayload{
		MessageID:   messageID,
		FromUserID:  r.localUser,
		ToUserID:    contactID,
		MessageText: newText,
		UpdatedAt:   r.now(),
	}})
}

// ApplyLocalDeleteForAll reflects a locally requested
// delete-for-everyone.
func (r *Reconciler) ApplyLocalDeleteForAll(contactID, messageID string) {
	r.Apply(MessageDeletedEvent{DeletePayload{MessageID: messageID, ContactID: contactID}})
}

// ApplyLocalDeleteForMe reflects a locally requested delete-for-me.
func (r *Reconciler) ApplyLocalDeleteForMe(contactID, messageID string) {
	r.Apply(MessageDeletedForMeEvent{DeletePayload{MessageID: messageID, ContactID: contactID}})
}

// --- view lifecycle -----------------------------------------------------

// OpenConversation marks a conversation as held open by a view, creating
// it empty on first reference. Calls are counted; CloseConversation must
// balance each one.
func (r *Reconciler) OpenConversation(convID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.conversation(convID)
	r.open[convID]++
	if r.open[convID] == 1 {
		openConversations.Inc()
	}
}

// CloseConversation releases one hold on a conversation. State is kept;
// only late fetch responses stop applying once no view holds it open.
func (r *Reconciler) CloseConversation(convID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open[convID] == 0 {
		return
	}
	r.open[convID]--
	if r.open[convID] == 0 {
		delete(r.open, convID)
		openConversations.Dec()
	}
}

// Subscribe registers a listener for a conversation's changes. The
// returned subscription must be passed to Unsubscribe on view teardown
// so no stale dispatches reach a torn-down view.
func (r *Reconciler) Subscribe(convID string, fn UpdateFunc) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeners.add(convID, fn)
}

// Unsubscribe fully deregisters a listener.
func (r *Reconciler) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners.remove(sub)
}

// --- read side ----------------------------------------------------------

// VisibleMessages returns the viewer's visible sequence as a snapshot
// slice, convenient for rendering whole conversations.
func (r *Reconciler) VisibleMessages(convID, viewerID string) []Message {
	r.mu.RLock()
	seq := r.store.VisibleSequence(convID, viewerID)
	r.mu.RUnlock()

	var out []Message
	for msg := range seq {
		out = append(out, msg)
	}
	return out
}

// LastMessageSummary returns the published summary for the local viewer.
func (r *Reconciler) LastMessageSummary(convID string) (LastMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	summary, ok := r.summaries[convID]
	return summary, ok
}

// Summaries returns the whole projection, one entry per conversation
// with a visible anchor.
func (r *Reconciler) Summaries() []LastMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LastMessage, 0, len(r.summaries))
	for _, summary := range r.summaries {
		out = append(out, summary)
	}
	return out
}

type notification struct {
	fns    []UpdateFunc
	update Update
}

func (r *Reconciler) collectNotifications(convIDs []string) []notification {
	var notes []notification
	for _, convID := range convIDs {
		fns := r.listeners.snapshot(convID)
		if len(fns) == 0 {
			continue
		}
		notes = append(notes, notification{
			fns:    fns,
			update: Update{ConversationID: convID, Summary: r.summaries[convID]},
		})
	}
	return notes
}

func deliver(notes []notification) {
	for _, note := range notes {
		for _, fn := range note.fns {
			fn(note.update)
		}
	}
}
