package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/domain"
)

// DefaultTTL is how long a notification stays listed unless dismissed.
const DefaultTTL = 4500 * time.Millisecond

const (
	KindAdded   = "added"
	KindRemoved = "removed"
)

// Change is one list update delivered to subscribers.
type Change struct {
	Kind         string              `json:"kind"`
	Notification domain.Notification `json:"notification"`
}

// Center keeps the live notification list, newest first. Every entry has its
// own expiry timer.
type Center struct {
	TTL   time.Duration
	Now   func() time.Time
	NewID func() string

	mu      sync.Mutex
	items   []domain.Notification
	timers  map[string]*time.Timer
	subs    map[int]chan Change
	nextSub int
	closed  bool
}

func NewCenter(ttl time.Duration) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{
		TTL:    ttl,
		Now:    time.Now,
		NewID:  uuid.NewString,
		items:  []domain.Notification{},
		timers: map[string]*time.Timer{},
		subs:   map[int]chan Change{},
	}
}

// Notify satisfies engine.Notifier.
func (c *Center) Notify(text string, typ domain.NotificationType) {
	c.Push(text, typ)
}

// Push prepends a notification and starts its expiry timer.
func (c *Center) Push(text string, typ domain.NotificationType) domain.Notification {
	if typ == "" {
		typ = domain.NotifyDefault
	}
	n := domain.Notification{
		ID:        c.newID(),
		Text:      text,
		Type:      typ,
		CreatedAt: c.now().UTC().Format(time.RFC3339Nano),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return n
	}
	next := make([]domain.Notification, 0, len(c.items)+1)
	next = append(next, n)
	next = append(next, c.items...)
	c.items = next
	c.timers[n.ID] = time.AfterFunc(c.TTL, func() { c.Remove(n.ID) })
	c.publish(Change{Kind: KindAdded, Notification: n})
	return n
}

// Remove dismisses a notification before its timer fires. It reports whether
// the notification was still listed.
func (c *Center) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.items, func(n domain.Notification) bool { return n.ID == id })
	if i < 0 {
		return false
	}
	n := c.items[i]
	c.items = slices.Delete(slices.Clone(c.items), i, i+1)
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	c.publish(Change{Kind: KindRemoved, Notification: n})
	return true
}

// List returns the live notifications, newest first.
func (c *Center) List() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// Subscribe registers a change listener. Slow listeners miss changes rather
// than block the center. The returned func unsubscribes.
func (c *Center) Subscribe(buf int) (<-chan Change, func()) {
	ch := make(chan Change, buf)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops all timers and ends every subscription.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

func (c *Center) publish(ch Change) {
	for _, sub := range c.subs {
		select {
		case sub <- ch:
		default:
		}
	}
}

func (c *Center) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Center) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}
