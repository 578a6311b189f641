package conversations

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
)

type ChangeKind string

const (
	ChangeAppended  ChangeKind = "appended"
	ChangeRewritten ChangeKind = "rewritten"
)

// Change describes one write to the log. Delta holds the appended suffix
// when a rewrite only extended the previous content.
type Change struct {
	Kind    ChangeKind
	Message model.Message
	Delta   string
}

// Guard is evaluated under the log lock before every write. A query whose
// guard fails has been superseded and must not touch the log.
type Guard func() bool

// Always is the guard of writers that can never go stale.
func Always() bool { return true }

// Log is the ordered, append-only conversation. Entries are never removed or
// reordered; the only in-place edit is Rewrite, which keeps the entry's ID.
type Log struct {
	mu        sync.RWMutex
	messages  []model.Message
	index     map[string]int
	listeners []func(Change)
	now       func() time.Time
}

func NewLog() *Log {
	return &Log{
		index: make(map[string]int),
		now:   time.Now,
	}
}

// Subscribe registers fn for every change. Listeners run under the log lock
// in write order, so they must not block or call back into the log.
func (l *Log) Subscribe(fn func(Change)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append adds msg at the end, assigning an ID and timestamps.
func (l *Log) Append(guard Guard, msg model.Message) (model.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if guard != nil && !guard() {
		return model.Message{}, errx.Contract(errx.ErrStaleQuery, "append for query %d", msg.QueryID)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, dup := l.index[msg.ID]; dup {
		return model.Message{}, fmt.Errorf("message %s already in log", msg.ID)
	}
	now := l.now()
	msg.CreatedAt, msg.UpdatedAt = now, now
	msg = msg.Clone()

	l.index[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg)
	l.emit(Change{Kind: ChangeAppended, Message: msg.Clone(), Delta: msg.Content})
	return msg.Clone(), nil
}

// Rewrite edits the entry id in place through update. ID, role, query and
// creation time are preserved whatever update does.
func (l *Log) Rewrite(guard Guard, id string, update func(*model.Message)) (model.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return model.Message{}, fmt.Errorf("message %s not in log", id)
	}
	cur := l.messages[i]
	if guard != nil && !guard() {
		return model.Message{}, errx.Contract(errx.ErrStaleQuery, "rewrite for query %d", cur.QueryID)
	}

	next := cur.Clone()
	update(&next)
	next.ID, next.Role, next.QueryID, next.CreatedAt = cur.ID, cur.Role, cur.QueryID, cur.CreatedAt
	next.UpdatedAt = l.now()
	l.messages[i] = next

	delta := ""
	if strings.HasPrefix(next.Content, cur.Content) {
		delta = next.Content[len(cur.Content):]
	}
	l.emit(Change{Kind: ChangeRewritten, Message: next.Clone(), Delta: delta})
	return next.Clone(), nil
}

func (l *Log) emit(c Change) {
	for _, fn := range l.listeners {
		fn(c)
	}
}

// Messages returns a copy of the whole log.
func (l *Log) Messages() []model.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Message, len(l.messages))
	for i, m := range l.messages {
		out[i] = m.Clone()
	}
	return out
}

func (l *Log) Get(id string) (model.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return model.Message{}, false
	}
	return l.messages[i].Clone(), true
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Count returns how many entries have role, optionally restricted to a query.
// A zero queryID counts every query.
func (l *Log) Count(role model.Role, queryID uint64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, m := range l.messages {
		if m.Role == role && (queryID == 0 || m.QueryID == queryID) {
			n++
		}
	}
	return n
}
