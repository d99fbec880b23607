// internal/chat/store.go

package chat

import (
	"iter"
	"sort"
)

// Store keeps the ordered message list of every conversation, keyed by
// the peer's user id. Conversations are created empty on first
// reference and never destroyed.
//
// The Store itself is not safe for concurrent use: the Reconciler owns
// it and serializes all access.
type Store struct {
	conversations map[string]*conversation
}

type conversation struct {
	order []*Message
	index map[string]*Message

	// epoch increments on every mutation. A history fetch snapshots it
	// when issued so the response can tell whether live events landed in
	// the meantime.
	epoch uint64
}

func NewStore() *Store {
	return &Store{conversations: make(map[string]*conversation)}
}

func (s *Store) conversation(convID string) *conversation {
	conv, ok := s.conversations[convID]
	if !ok {
		conv = &conversation{index: make(map[string]*Message)}
		s.conversations[convID] = conv
	}
	return conv
}

// Epoch returns the conversation's current mutation counter.
func (s *Store) Epoch(convID string) uint64 {
	if conv, ok := s.conversations[convID]; ok {
		return conv.epoch
	}
	return 0
}

// Len returns the number of stored messages, both axes included.
func (s *Store) Len(convID string) int {
	if conv, ok := s.conversations[convID]; ok {
		return len(conv.order)
	}
	return 0
}

// Get looks up a message by id without touching it.
func (s *Store) Get(convID, messageID string) (*Message, bool) {
	conv, ok := s.conversations[convID]
	if !ok {
		return nil, false
	}
	msg, ok := conv.index[messageID]
	return msg, ok
}

// Append inserts a message at its ordered position, which is the end of
// the list whenever timestamps arrive in order. Duplicate delivery of an
// already-stored id is ignored, not re-appended. Returns false for
// duplicates.
func (s *Store) Append(convID string, msg *Message) bool {
	conv := s.conversation(convID)
	if _, exists := conv.index[msg.ID]; exists {
		return false
	}
	i := len(conv.order)
	for i > 0 && conv.order[i-1].after(msg) {
		i--
	}
	conv.order = append(conv.order, nil)
	copy(conv.order[i+1:], conv.order[i:])
	conv.order[i] = msg
	conv.index[msg.ID] = msg
	conv.epoch++
	return true
}

// Mutate applies an in-place update to a stored message. The message
// never changes ordinal position. Returns false when the id is absent.
func (s *Store) Mutate(convID, messageID string, fn func(*Message)) bool {
	conv, ok := s.conversations[convID]
	if !ok {
		return false
	}
	msg, ok := conv.index[messageID]
	if !ok {
		return false
	}
	fn(msg)
	conv.epoch++
	return true
}

// ReplaceAll swaps in a bulk history load. It only applies when the
// conversation is still empty, or when the caller forces a full resync;
// otherwise the caller must Merge so live events received while the
// fetch was in flight are not clobbered. Returns whether it applied.
func (s *Store) ReplaceAll(convID string, msgs []*Message, force bool) bool {
	conv := s.conversation(convID)
	if len(conv.order) > 0 && !force {
		return false
	}
	conv.order = conv.order[:0]
	conv.index = make(map[string]*Message, len(msgs))
	for _, msg := range msgs {
		if _, exists := conv.index[msg.ID]; exists {
			continue
		}
		conv.order = append(conv.order, msg)
		conv.index[msg.ID] = msg
	}
	sortMessages(conv.order)
	conv.epoch++
	return true
}

// Merge unions a bulk history load with messages already present,
// keeping the most recently updated version of each id. Deletion axes
// only ever accumulate: a message deleted or hidden on either side stays
// that way.
func (s *Store) Merge(convID string, msgs []*Message) {
	conv := s.conversation(convID)
	for _, incoming := range msgs {
		existing, ok := conv.index[incoming.ID]
		if !ok {
			conv.order = append(conv.order, incoming)
			conv.index[incoming.ID] = incoming
			continue
		}
		if incoming.Deleted {
			existing.MarkDeletedForAll(incoming.UpdatedAt)
		}
		for viewer := range incoming.hiddenFor {
			existing.MarkHiddenFor(viewer, incoming.UpdatedAt)
		}
		if !existing.Deleted && incoming.UpdatedAt.After(existing.UpdatedAt) {
			existing.Text = incoming.Text
			existing.Caption = incoming.Caption
			existing.UpdatedAt = incoming.UpdatedAt
		}
	}
	sortMessages(conv.order)
	conv.epoch++
}

func sortMessages(order []*Message) {
	sort.Slice(order, func(i, j int) bool {
		return order[j].after(order[i])
	})
}

// VisibleSequence yields the conversation's messages as seen by one
// viewer: messages hidden for that viewer are skipped, messages deleted
// for everyone stay in place with their content already redacted. The
// sequence is finite, lazy and restartable.
//
// Visibility is evaluated and the messages are copied when the sequence
// is created, so callers may range over it after the store's owner has
// released its lock; mutations applied in the meantime are not observed.
func (s *Store) VisibleSequence(convID, viewerID string) iter.Seq[Message] {
	var snapshot []Message
	if conv, ok := s.conversations[convID]; ok {
		for _, msg := range conv.order {
			if msg.HiddenFor(viewerID) {
				continue
			}
			m := *msg
			m.hiddenFor = nil
			snapshot = append(snapshot, m)
		}
	}
	return func(yield func(Message) bool) {
		for _, m := range snapshot {
			if !yield(m) {
				return
			}
		}
	}
}

// LastVisible scans backward for the nearest message not hidden for the
// viewer. Messages deleted for everyone still anchor the scan; callers
// inspect Deleted to decide what to show. Returns false when nothing is
// visible for this viewer.
func (s *Store) LastVisible(convID, viewerID string) (*Message, bool) {
	conv, ok := s.conversations[convID]
	if !ok {
		return nil, false
	}
	for i := len(conv.order) - 1; i >= 0; i-- {
		if conv.order[i].HiddenFor(viewerID) {
			continue
		}
		return conv.order[i], true
	}
	return nil, false
}

// Last returns the final message of the sequence regardless of
// visibility, or false for an empty conversation.
func (s *Store) Last(convID string) (*Message, bool) {
	conv, ok := s.conversations[convID]
	if !ok || len(conv.order) == 0 {
		return nil, false
	}
	return conv.order[len(conv.order)-1], true
}
