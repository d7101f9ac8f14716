// Package delivery is the client half of the channel: it reconciles pushed
// events, polled status, and locally synthesized optimistic messages into a
// single consistent conversation view.
package delivery

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/chat"
	"chat-relay/internal/notify"
)

// ViewMessage is one entry in the reconciled conversation. Local marks an
// optimistic entry that has not yet been confirmed by a pushed row; once a
// matching row arrives the entry is replaced and keyed by real id from then
// on.
type ViewMessage struct {
	ID        string
	Role      chat.MessageRole
	Content   string
	Status    chat.MessageStatus
	RequestID string
	LatencyMS int64
	Local     bool
	CreatedAt time.Time
}

// tempMatchWindow bounds how old a local temp may be and still claim an
// incoming user row as its confirmation.
const tempMatchWindow = 30 * time.Second

type View struct {
	mu       sync.Mutex
	messages []ViewMessage
}

func NewView() *View {
	return &View{}
}

// AddLocal appends an optimistic user message and returns it. The id is
// client-generated and will be discarded when the authoritative row arrives.
func (v *View) AddLocal(text string) ViewMessage {
	m := ViewMessage{
		ID:        "local-" + uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   text,
		Status:    chat.StatusDelivered,
		Local:     true,
		CreatedAt: time.Now(),
	}
	v.mu.Lock()
	v.messages = append(v.messages, m)
	v.mu.Unlock()
	return m
}

// Apply routes one pushed event. The second return reports whether the event
// closed out an in-flight request (terminal assistant update).
func (v *View) Apply(ev notify.Event) (changed bool, terminal bool) {
	switch ev.Type {
	case notify.EventInsert:
		return v.ApplyInsert(ev.Message), false
	case notify.EventUpdate:
		return v.ApplyUpdate(ev.Message)
	default:
		return false, false
	}
}

// ApplyInsert reconciles a pushed INSERT. A user row first claims a matching
// local temp (by role and normalized content, within the recency window)
// since the temp never knew the real id; after that, duplicates by id are
// no-ops. At-least-once delivery makes duplicates routine, not exceptional.
func (v *View) ApplyInsert(m chat.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if m.Role == chat.RoleUser {
		want := normalize(m.Content)
		for i := range v.messages {
			existing := &v.messages[i]
			if existing.Local && existing.Role == chat.RoleUser &&
				normalize(existing.Content) == want &&
				time.Since(existing.CreatedAt) < tempMatchWindow {
				*existing = fromRow(m)
				return true
			}
		}
	}

	for i := range v.messages {
		if v.messages[i].ID == m.ID {
			return false
		}
	}
	v.messages = append(v.messages, fromRow(m))
	return true
}

// ApplyUpdate merges a pushed UPDATE by id. An update for a row whose INSERT
// was missed is upserted rather than dropped; repeated identical updates are
// no-ops past the first application.
func (v *View) ApplyUpdate(m chat.Message) (changed bool, terminal bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	terminal = m.Role == chat.RoleAssistant && m.Status.Terminal()

	for i := range v.messages {
		existing := &v.messages[i]
		if existing.ID != m.ID {
			continue
		}
		changed = false
		if m.Content != "" && m.Content != existing.Content {
			existing.Content = m.Content
			changed = true
		}
		if m.Status != "" && m.Status != existing.Status {
			existing.Status = m.Status
			changed = true
		}
		if m.LatencyMS != nil && *m.LatencyMS != existing.LatencyMS {
			existing.LatencyMS = *m.LatencyMS
			changed = true
		}
		return changed, terminal
	}

	v.messages = append(v.messages, fromRow(m))
	return true, terminal
}

// Processing reports whether any assistant entry is still awaiting its
// terminal state.
func (v *View) Processing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range v.messages {
		if m.Role == chat.RoleAssistant && m.Status == chat.StatusQueued {
			return true
		}
	}
	return false
}

func (v *View) Messages() []ViewMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ViewMessage, len(v.messages))
	copy(out, v.messages)
	return out
}

func fromRow(m chat.Message) ViewMessage {
	vm := ViewMessage{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
	if m.RequestID != nil {
		vm.RequestID = *m.RequestID
	}
	if m.LatencyMS != nil {
		vm.LatencyMS = *m.LatencyMS
	}
	return vm
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
