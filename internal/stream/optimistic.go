package stream

import (
	"fmt"
	"sync"
	"time"

	"gigline/internal/domain"
)

// View is a client-side message list with optimistic sends. A staged
// message shows up immediately under a provisional id and is swapped
// for the confirmed record once the server echo arrives.
type View struct {
	mu          sync.Mutex
	messages    []domain.Message
	matchWindow time.Duration
	seq         int

	// Now is injectable for tests.
	Now func() time.Time
}

func NewView(matchWindow time.Duration) *View {
	return &View{matchWindow: matchWindow, Now: time.Now}
}

// Stage inserts a provisional message and returns its temporary id.
func (v *View) Stage(senderID, body string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	m := domain.Message{
		ID:        fmt.Sprintf("tmp-%d", v.seq),
		SenderID:  senderID,
		Content:   body,
		CreatedAt: v.Now().UTC().Format(time.RFC3339),
	}
	v.messages = append(v.messages, m)
	return m.ID
}

// Apply folds a confirmed message into the view. If a provisional entry
// from the same sender with the same body was staged within the match
// window, the confirmed record replaces it in place; otherwise it is
// appended. Only the view owner's sends are ever staged, so messages
// from other senders always append.
func (v *View) Apply(confirmed domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	confirmedAt, _ := time.Parse(time.RFC3339, confirmed.CreatedAt)
	for i, m := range v.messages {
		if !isProvisional(m.ID) {
			continue
		}
		if m.SenderID != confirmed.SenderID || m.Content != confirmed.Content {
			continue
		}
		stagedAt, _ := time.Parse(time.RFC3339, m.CreatedAt)
		if v.matchWindow > 0 && absDuration(confirmedAt.Sub(stagedAt)) > v.matchWindow {
			continue
		}
		v.messages[i] = confirmed
		return
	}
	v.messages = append(v.messages, confirmed)
}

// Fail drops a provisional entry whose send was rejected.
func (v *View) Fail(tmpID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, m := range v.messages {
		if m.ID == tmpID && isProvisional(m.ID) {
			v.messages = append(v.messages[:i], v.messages[i+1:]...)
			return
		}
	}
}

// Messages returns a snapshot in display order.
func (v *View) Messages() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

func isProvisional(id string) bool {
	return len(id) > 4 && id[:4] == "tmp-"
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
