// internal/chat/reconciler_test.go

package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localUser = "alice"
	peer      = "bob"
)

func newTestReconciler() *Reconciler {
	return NewReconciler(localUser)
}

func peerMessage(id string, offset time.Duration, text string) NewMessageEvent {
	at := testBase.Add(offset)
	return NewMessageEvent{MessagePayload{
		MessageID:   id,
		FromUserID:  peer,
		ToUserID:    localUser,
		MessageText: text,
		CreatedAt:   at,
		UpdatedAt:   at,
	}}
}

func requireSummary(t *testing.T, r *Reconciler, convID string) LastMessage {
	t.Helper()
	summary, ok := r.LastMessageSummary(convID)
	require.True(t, ok, "expected a summary for %s", convID)
	return summary
}

func TestNewMessageUpdatesSummary(t *testing.T) {
	r := newTestReconciler()

	// Each append moves the summary to the newest message
	r.Apply(peerMessage("m1", 0, "hi"))
	assert.Equal(t, "hi", requireSummary(t, r, peer).Preview)

	r.Apply(peerMessage("m2", time.Second, "yo"))
	summary := requireSummary(t, r, peer)
	assert.Equal(t, "yo", summary.Preview)
	assert.Equal(t, "m2", summary.MessageID)
	assert.Equal(t, peer, summary.ChatPartnerID)
	assert.False(t, summary.Deleted)
}

func TestNewMessageIsIdempotent(t *testing.T) {
	r := newTestReconciler()

	r.Apply(peerMessage("m1", 0, "hi"))
	r.Apply(peerMessage("m1", 0, "hi"))

	assert.Len(t, r.VisibleMessages(peer, localUser), 1)
}

func TestOwnMessageKeyedByPeer(t *testing.T) {
	r := newTestReconciler()

	r.Apply(NewMessageEvent{MessagePayload{
		MessageID:   "m1",
		FromUserID:  localUser,
		ToUserID:    peer,
		MessageText: "sent by me",
		CreatedAt:   testBase,
	}})

	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 1)
	assert.Equal(t, SideOwn, messages[0].Side)
	assert.Equal(t, peer, requireSummary(t, r, peer).ChatPartnerID)
}

func TestEditOnlyTouchesSummaryForLastMessage(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "hi"))
	r.Apply(peerMessage("m2", time.Second, "yo"))

	// Editing m1 while m2 is last leaves the summary alone
	edit := peerMessage("m1", 0, "hi there")
	edit.UpdatedAt = testBase.Add(time.Minute)
	r.Apply(MessageUpdatedEvent{edit.MessagePayload})

	assert.Equal(t, "yo", requireSummary(t, r, peer).Preview)
	messages := r.VisibleMessages(peer, localUser)
	assert.Equal(t, "hi there", messages[0].Text)
	assert.Equal(t, []string{"m1", "m2"}, []string{messages[0].ID, messages[1].ID}, "edits never reorder")

	// Editing the last message does update the summary
	edit = peerMessage("m2", time.Second, "yo yo")
	edit.UpdatedAt = testBase.Add(2 * time.Minute)
	r.Apply(MessageUpdatedEvent{edit.MessagePayload})
	assert.Equal(t, "yo yo", requireSummary(t, r, peer).Preview)
}

func TestEditIsReplaySafe(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "hi"))

	edit := peerMessage("m1", 0, "hello")
	edit.UpdatedAt = testBase.Add(time.Minute)
	r.Apply(MessageUpdatedEvent{edit.MessagePayload})
	before := r.VisibleMessages(peer, localUser)

	r.Apply(MessageUpdatedEvent{edit.MessagePayload})
	assert.Equal(t, before, r.VisibleMessages(peer, localUser))
}

func TestDeleteForAllLastMessage(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "hi"))
	r.Apply(peerMessage("m2", time.Second, "yo"))

	// Deleting the last message for everyone surfaces the placeholder
	r.Apply(MessageDeletedEvent{DeletePayload{MessageID: "m2", ContactID: peer}})

	summary := requireSummary(t, r, peer)
	assert.Equal(t, DeletedPlaceholder, summary.Preview)
	assert.True(t, summary.Deleted)
	assert.Equal(t, "m2", summary.MessageID)

	// The message keeps its slot, content redacted, for every viewer
	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 2)
	assert.True(t, messages[1].Deleted)
	assert.Empty(t, messages[1].Text)
}

func TestDeleteForAllNonLastReassertsValidPreview(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "hi"))
	r.Apply(peerMessage("m2", time.Second, "yo"))
	r.Apply(peerMessage("m3", 2*time.Second, "newest"))

	// Deleting a raced, non-last message leaves the newest preview alone
	r.Apply(MessageDeletedEvent{DeletePayload{MessageID: "m2", ContactID: peer}})

	summary := requireSummary(t, r, peer)
	assert.Equal(t, "newest", summary.Preview)
	assert.False(t, summary.Deleted)
}

func TestDeleteForMeIsViewerLocal(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "hi"))
	r.Apply(peerMessage("m2", time.Second, "yo"))

	// m2 deleted for everyone, then m1 hidden for the local viewer only
	r.Apply(MessageDeletedEvent{DeletePayload{MessageID: "m2", ContactID: peer}})
	r.Apply(MessageDeletedForMeEvent{DeletePayload{MessageID: "m1", ContactID: peer}})

	// Local viewer: M1 gone from the sequence, M2's placeholder anchors
	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 1)
	assert.Equal(t, "m2", messages[0].ID)

	summary := requireSummary(t, r, peer)
	assert.Equal(t, DeletedPlaceholder, summary.Preview)
	assert.True(t, summary.Deleted)

	// The peer's view of the same conversation is untouched by the hide
	peerSummary, ok := ComputeLastMessage(r.store, peer, peer)
	require.True(t, ok)
	assert.Equal(t, DeletedPlaceholder, peerSummary.Preview)

	var peerIDs []string
	for msg := range r.store.VisibleSequence(peer, peer) {
		peerIDs = append(peerIDs, msg.ID)
	}
	assert.Equal(t, []string{"m1", "m2"}, peerIDs)
}

func TestDeleteForMeFallbackWhenNothingVisible(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "hi"))
	r.Apply(peerMessage("m2", time.Second, "yo"))

	r.Apply(MessageDeletedForMeEvent{DeletePayload{MessageID: "m2", ContactID: peer}})
	assert.Equal(t, "hi", requireSummary(t, r, peer).Preview)

	r.Apply(MessageDeletedForMeEvent{DeletePayload{MessageID: "m1", ContactID: peer}})

	// No real message anchors the summary anymore
	summary := requireSummary(t, r, peer)
	assert.Equal(t, DeletedPlaceholder, summary.Preview)
	assert.False(t, summary.Deleted)
	assert.NotEqual(t, "m1", summary.MessageID)
	assert.NotEqual(t, "m2", summary.MessageID)
	assert.NotEmpty(t, summary.MessageID)

	assert.Empty(t, r.VisibleMessages(peer, localUser))
}

func TestSummaryMatchesVisibleTail(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "one"))
	r.Apply(peerMessage("m2", time.Second, "two"))
	r.Apply(peerMessage("m3", 2*time.Second, "three"))
	r.Apply(MessageDeletedForMeEvent{DeletePayload{MessageID: "m3", ContactID: peer}})

	messages := r.VisibleMessages(peer, localUser)
	require.NotEmpty(t, messages)
	tail := messages[len(messages)-1]

	summary := requireSummary(t, r, peer)
	assert.Equal(t, Preview(&tail), summary.Preview)
	assert.Equal(t, tail.ID, summary.MessageID)
}

func TestDeleteUnknownMessageIsAMiss(t *testing.T) {
	r := newTestReconciler()

	// Conversation not loaded locally: counted, nothing mutated
	r.Apply(MessageDeletedEvent{DeletePayload{MessageID: "ghost", ContactID: "stranger"}})
	_, ok := r.LastMessageSummary("stranger")
	assert.False(t, ok)
	assert.Empty(t, r.VisibleMessages("stranger", localUser))
}

func TestMutationBeforeCreateIsReplayed(t *testing.T) {
	r := newTestReconciler()

	// The delete outran its create on the wire
	r.Apply(MessageDeletedEvent{DeletePayload{MessageID: "m1", ContactID: peer}})
	r.Apply(peerMessage("m1", 0, "too late"))

	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Deleted, "buffered delete must replay once the create lands")
	assert.Equal(t, DeletedPlaceholder, requireSummary(t, r, peer).Preview)
}

func TestEditUnknownMessageIsCounted(t *testing.T) {
	r := newTestReconciler()
	before := testutil.ToFloat64(unknownReferences)

	edit := peerMessage("m1", 0, "early")
	r.Apply(MessageUpdatedEvent{edit.MessagePayload})

	assert.Equal(t, before+1, testutil.ToFloat64(unknownReferences))
	assert.Empty(t, r.VisibleMessages(peer, localUser))
}

func TestEditBeforeCreateIsReplayed(t *testing.T) {
	r := newTestReconciler()

	edit := peerMessage("m1", 0, "edited")
	edit.UpdatedAt = testBase.Add(time.Minute)
	r.Apply(MessageUpdatedEvent{edit.MessagePayload})
	r.Apply(peerMessage("m1", 0, "original"))

	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 1)
	assert.Equal(t, "edited", messages[0].Text)
}

func TestBufferedMutationExpires(t *testing.T) {
	r := newTestReconciler()
	now := testBase
	r.now = func() time.Time { return now }
	r.window = time.Minute

	r.Apply(MessageDeletedEvent{DeletePayload{MessageID: "m1", ContactID: peer}})

	now = now.Add(2 * time.Minute)
	r.Apply(peerMessage("m1", 0, "fresh"))

	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 1)
	assert.False(t, messages[0].Deleted, "expired mutation must not replay")
}

func TestHistoryFullReplaceWhenUntouched(t *testing.T) {
	r := newTestReconciler()
	r.OpenConversation(peer)

	epoch := r.BeginFetch(peer)
	history := []*Message{
		testMessage("h1", 0, "old one"),
		testMessage("h2", time.Second, "old two"),
	}
	r.CompleteFetch(peer, history, epoch)

	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 2)
	assert.Equal(t, "old two", requireSummary(t, r, peer).Preview)
}

func TestHistoryMergesWhenLiveEventsRaced(t *testing.T) {
	r := newTestReconciler()
	r.OpenConversation(peer)

	epoch := r.BeginFetch(peer)
	// A live message lands while the fetch is in flight
	r.Apply(peerMessage("live", 10*time.Second, "raced in"))

	r.CompleteFetch(peer, []*Message{testMessage("h1", 0, "old one")}, epoch)

	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 2)
	assert.Equal(t, "h1", messages[0].ID)
	assert.Equal(t, "live", messages[1].ID)
	assert.Equal(t, "raced in", requireSummary(t, r, peer).Preview, "live tail must survive the fetch")
}

func TestHistoryDroppedForClosedConversation(t *testing.T) {
	r := newTestReconciler()
	r.OpenConversation(peer)
	epoch := r.BeginFetch(peer)
	r.CloseConversation(peer)

	r.CompleteFetch(peer, []*Message{testMessage("h1", 0, "late")}, epoch)

	assert.Empty(t, r.VisibleMessages(peer, localUser))
}

func TestHistoryReplaysBufferedMutations(t *testing.T) {
	r := newTestReconciler()
	r.OpenConversation(peer)

	// Deletion pushed while the history containing the message is in flight
	r.Apply(MessageDeletedEvent{DeletePayload{MessageID: "h1", ContactID: peer}})

	epoch := r.BeginFetch(peer)
	r.CompleteFetch(peer, []*Message{testMessage("h1", 0, "doomed")}, epoch)

	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].Deleted)
}

func TestLocalEchoes(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "hi"))
	r.Apply(peerMessage("m2", time.Second, "yo"))

	r.ApplyLocalEdit(peer, "m2", "yo, edited")
	assert.Equal(t, "yo, edited", requireSummary(t, r, peer).Preview)

	r.ApplyLocalDeleteForAll(peer, "m2")
	assert.Equal(t, DeletedPlaceholder, requireSummary(t, r, peer).Preview)

	r.ApplyLocalDeleteForMe(peer, "m1")
	require.Len(t, r.VisibleMessages(peer, localUser), 1)
}

func TestSubscriptionLifecycle(t *testing.T) {
	r := newTestReconciler()

	var updates []Update
	sub := r.Subscribe(peer, func(u Update) { updates = append(updates, u) })

	r.Apply(peerMessage("m1", 0, "hi"))
	require.Len(t, updates, 1)
	assert.Equal(t, peer, updates[0].ConversationID)
	assert.Equal(t, "hi", updates[0].Summary.Preview)

	// Other conversations never reach this listener
	r.Apply(NewMessageEvent{MessagePayload{
		MessageID: "x1", FromUserID: "carol", ToUserID: localUser,
		MessageText: "elsewhere", CreatedAt: testBase,
	}})
	assert.Len(t, updates, 1)

	// Full deregistration: no stale dispatches after teardown
	r.Unsubscribe(sub)
	r.Apply(peerMessage("m2", time.Second, "yo"))
	assert.Len(t, updates, 1)
}

func TestVisibleMessagesSafeDuringApply(t *testing.T) {
	r := newTestReconciler()
	r.Apply(peerMessage("m1", 0, "hi"))

	// Readers get detached copies; edits landing concurrently on the
	// socket goroutine must never touch what a reader holds.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			edit := peerMessage("m1", 0, fmt.Sprintf("edit %d", i))
			edit.UpdatedAt = testBase.Add(time.Duration(i) * time.Millisecond)
			r.Apply(MessageUpdatedEvent{edit.MessagePayload})
		}
	}()

	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 500; i++ {
			for _, msg := range r.VisibleMessages(peer, localUser) {
				_ = msg.Text
				_ = msg.HiddenFor(localUser)
			}
		}
	}()

	wg.Wait()

	messages := r.VisibleMessages(peer, localUser)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Text, "edit")
}

func TestSummaryTimestampDoesNotRegressOnAppendAndEdit(t *testing.T) {
	r := newTestReconciler()
	var last time.Time

	steps := []Event{
		peerMessage("m1", 0, "one"),
		peerMessage("m2", time.Second, "two"),
		func() Event {
			p := peerMessage("m2", time.Second, "two!").MessagePayload
			p.UpdatedAt = testBase.Add(time.Minute)
			return MessageUpdatedEvent{p}
		}(),
		peerMessage("m3", 2*time.Minute, "three"),
	}

	for _, step := range steps {
		r.Apply(step)
		summary := requireSummary(t, r, peer)
		assert.False(t, summary.Timestamp.Before(last), "summary timestamp regressed")
		last = summary.Timestamp
	}
}
