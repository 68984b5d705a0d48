package session

import (
	"slices"
	"sync"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
)

// Status is the phase of the send cycle: idle, then thinking, then typing, then idle again.
type Status string

const (
	// StatusIdle means no question is in flight and nothing is being revealed.
	StatusIdle Status = "idle"
	// StatusThinking means a question was sent and no answer has arrived yet.
	StatusThinking Status = "thinking"
	// StatusTyping means an answer arrived and is being progressively revealed.
	StatusTyping Status = "typing"
)

// State is everything the render layer needs to draw the chat. Conversations are ordered newest
// first. An empty ActiveID means new-chat mode.
type State struct {
	Conversations []models.Conversation
	ActiveID      string

	// Thinking and Typing are transient and never both true.
	Thinking        bool
	Typing          bool
	TypingMessage   string
	PendingMetadata *models.Metadata

	// PendingID is the conversation the current send cycle belongs to, which may differ from
	// ActiveID if the user switched conversations meanwhile.
	PendingID string
	// Revealed is the prefix of TypingMessage shown so far.
	Revealed string
}

// Store is the single owner of the chat state. Reads return copies, writes go through Update, and
// every write is announced to the subscribers.
type Store struct {
	mu    sync.RWMutex
	state State

	subMu  sync.Mutex
	subs   []*subscriber
	notify sync.Mutex
}

type subscriber struct {
	fn func(State)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Update applies fn to the state under the store lock and then calls every subscriber with the
// resulting snapshot. fn must not call back into the store.
func (s *Store) Update(fn func(*State)) {
	// notify serializes whole updates, so subscribers observe snapshots in commit order.
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	fn(&s.state)
	if s.state.Thinking && s.state.Typing {
		s.state.Thinking = false
	}
	snap := s.state.clone()
	s.mu.Unlock()

	s.subMu.Lock()
	subs := slices.Clone(s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
}

// Subscribe registers fn to be called after every update. fn may read the store with Snapshot but
// must not call Update. The returned function removes the subscription and is safe to call more than
// once.
func (s *Store) Subscribe(fn func(State)) func() {
	sub := &subscriber{fn: fn}

	s.subMu.Lock()
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(x *subscriber) bool { return x == sub })
	}
}

// Status reports the phase of the send cycle.
func (st State) Status() Status {
	switch {
	case st.Typing:
		return StatusTyping
	case st.Thinking:
		return StatusThinking
	default:
		return StatusIdle
	}
}

// Active returns the active conversation, if any.
func (st State) Active() (models.Conversation, bool) {
	if st.ActiveID == "" {
		return models.Conversation{}, false
	}
	return st.Conversation(st.ActiveID)
}

// Conversation looks a conversation up by id.
func (st State) Conversation(id string) (models.Conversation, bool) {
	idx := st.index(id)
	if idx == -1 {
		return models.Conversation{}, false
	}
	return st.Conversations[idx], true
}

func (st State) index(id string) int {
	return slices.IndexFunc(st.Conversations, func(c models.Conversation) bool { return c.ID == id })
}

func (st *State) appendMessage(id string, msg models.Message) bool {
	idx := st.index(id)
	if idx == -1 {
		return false
	}
	c := &st.Conversations[idx]
	c.Messages = append(c.Messages, msg)
	if msg.Timestamp.After(c.UpdatedAt) {
		c.UpdatedAt = msg.Timestamp
	}
	return true
}

func (st *State) clearReveal() {
	st.Typing = false
	st.TypingMessage = ""
	st.PendingMetadata = nil
	st.Revealed = ""
}

func (st State) clone() State {
	out := st
	if st.Conversations != nil {
		out.Conversations = make([]models.Conversation, len(st.Conversations))
		for i, c := range st.Conversations {
			out.Conversations[i] = c.Clone()
		}
	}
	if st.PendingMetadata != nil {
		md := *st.PendingMetadata
		out.PendingMetadata = &md
	}
	return out
}
