// internal/chat/listeners.go

package chat

// Update is delivered to subscribers after every reconciled mutation of
// their conversation. The summary is the published projection for the
// local viewer at the time of the mutation.
type Update struct {
	ConversationID string
	Summary        LastMessage
}

// UpdateFunc receives change notifications. Called outside the
// reconciler's lock; implementations may call back into the reconciler.
type UpdateFunc func(Update)

// Subscription identifies one registered listener so a view can fully
// deregister on teardown.
type Subscription struct {
	id     int64
	convID string
}

type listenerRegistry struct {
	byConv map[string]map[int64]UpdateFunc
	nextID int64
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{byConv: make(map[string]map[int64]UpdateFunc)}
}

func (l *listenerRegistry) add(convID string, fn UpdateFunc) *Subscription {
	l.nextID++
	if l.byConv[convID] == nil {
		l.byConv[convID] = make(map[int64]UpdateFunc)
	}
	l.byConv[convID][l.nextID] = fn
	return &Subscription{id: l.nextID, convID: convID}
}

func (l *listenerRegistry) remove(sub *Subscription) {
	if sub == nil {
		return
	}
	if fns, ok := l.byConv[sub.convID]; ok {
		delete(fns, sub.id)
		if len(fns) == 0 {
			delete(l.byConv, sub.convID)
		}
	}
}

// snapshot returns the listeners for a conversation so they can be
// invoked after the reconciler releases its lock.
func (l *listenerRegistry) snapshot(convID string) []UpdateFunc {
	fns := l.byConv[convID]
	if len(fns) == 0 {
		return nil
	}
	out := make([]UpdateFunc, 0, len(fns))
	for _, fn := range fns {
		out = append(out, fn)
	}
	return out
}
