package kb

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultInactivity is how long an idle conversation survives before the
// tracker garbage-collects it.
const DefaultInactivity = 72 * time.Hour

// ThreadMessage is a single message observed in a case thread.
type ThreadMessage struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// CaseContext is the conversation aggregate for one case thread. It is
// owned by the Tracker; callers only ever see snapshots.
type CaseContext struct {
	CaseNumber string          `json:"case_number"`
	ChannelID  string          `json:"channel_id"`
	ThreadID   string          `json:"thread_id"`
	Messages   []ThreadMessage `json:"messages"`
	Resolved   bool            `json:"resolved"`
	Notified   bool            `json:"notified"`
}

// Tracker accumulates case-thread conversations with automatic expiry of
// idle threads. The cache only guards its own map, so mu additionally
// serializes access to the stored contexts.
type Tracker struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewTracker returns a Tracker expiring conversations after the given
// inactivity window.
func NewTracker(inactivity time.Duration) *Tracker {
	if inactivity <= 0 {
		inactivity = DefaultInactivity
	}
	return &Tracker{cache: gocache.New(inactivity, 10*time.Minute)}
}

func contextKey(caseNumber, threadID string) string {
	return caseNumber + "|" + threadID
}

// Append records a message in the thread's conversation, creating the
// aggregate on first sight. Appending resets the inactivity clock.
func (t *Tracker) Append(caseNumber, channelID, threadID, author, text string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := contextKey(caseNumber, threadID)
	cc := t.load(key)
	if cc == nil {
		cc = &CaseContext{
			CaseNumber: caseNumber,
			ChannelID:  channelID,
			ThreadID:   threadID,
		}
	}
	cc.Messages = append(cc.Messages, ThreadMessage{Author: author, Text: text, At: at})
	t.cache.Set(key, cc, gocache.DefaultExpiration)
}

// MarkResolved flags the conversation as resolved.
func (t *Tracker) MarkResolved(caseNumber, threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := contextKey(caseNumber, threadID)
	cc := t.load(key)
	if cc == nil {
		return
	}
	cc.Resolved = true
	t.cache.Set(key, cc, gocache.DefaultExpiration)
}

// MarkNotified records that the thread has been told an article is being
// drafted, so re-checks after later replies do not repeat the notice.
func (t *Tracker) MarkNotified(caseNumber, threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := contextKey(caseNumber, threadID)
	cc := t.load(key)
	if cc == nil {
		return
	}
	cc.Notified = true
	t.cache.Set(key, cc, gocache.DefaultExpiration)
}

// Snapshot returns a deep copy of the conversation, or false if the
// thread is unknown or already expired.
func (t *Tracker) Snapshot(caseNumber, threadID string) (*CaseContext, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cc := t.load(contextKey(caseNumber, threadID))
	if cc == nil {
		return nil, false
	}
	out := *cc
	out.Messages = make([]ThreadMessage, len(cc.Messages))
	copy(out.Messages, cc.Messages)
	return &out, true
}

func (t *Tracker) load(key string) *CaseContext {
	v, ok := t.cache.Get(key)
	if !ok {
		return nil
	}
	cc, ok := v.(*CaseContext)
	if !ok {
		return nil
	}
	return cc
}
