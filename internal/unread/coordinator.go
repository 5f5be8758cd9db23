// Package unread derives per-conversation and aggregate unread counts from
// the event stream and the currently-focused conversation.
package unread

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chatcore/internal/domain"
)

// Focus is the single source of truth for the currently-focused conversation.
// Handlers hold a reference to it and read the current value at delivery
// time; capturing the id at subscription time causes undercounting.
type Focus struct {
	mu sync.RWMutex
	id string
}

func NewFocus() *Focus {
	return &Focus{}
}

// Set changes the focused conversation id. Empty means nothing is focused.
func (f *Focus) Set(conversationID string) {
	f.mu.Lock()
	f.id = conversationID
	f.mu.Unlock()
}

// ID returns the conversation id currently focused, or "".
func (f *Focus) ID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id
}

// Coordinator owns the unread counts. The focused conversation is pinned at
// zero and excluded from increments.
type Coordinator struct {
	mu     sync.RWMutex
	counts map[string]int

	focus    *Focus
	badgeCap int
	log      zerolog.Logger
}

const defaultBadgeCap = 99

func NewCoordinator(focus *Focus, badgeCap int, log zerolog.Logger) *Coordinator {
	if badgeCap <= 0 {
		badgeCap = defaultBadgeCap
	}
	return &Coordinator{
		counts:   make(map[string]int),
		focus:    focus,
		badgeCap: badgeCap,
		log:      log,
	}
}

// Seed primes the counts from a freshly loaded conversation list. The
// focused conversation stays at zero regardless of what the server reports.
func (c *Coordinator) Seed(convs []*domain.Conversation) {
	focused := c.focus.ID()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int, len(convs))
	for _, conv := range convs {
		if conv == nil || conv.ID == "" || conv.ID == focused {
			continue
		}
		if conv.UnreadCount > 0 {
			c.counts[conv.ID] = conv.UnreadCount
		}
	}
}

// OnMessageArrived increments a conversation's count by one, unless the
// message is the viewer's own or the conversation is focused right now.
func (c *Coordinator) OnMessageArrived(conversationID, senderID string, isSelf bool) {
	if isSelf {
		return
	}
	// Read the focus at delivery time, never a captured copy.
	if conversationID == c.focus.ID() {
		return
	}
	c.mu.Lock()
	c.counts[conversationID]++
	n := c.counts[conversationID]
	c.mu.Unlock()
	c.log.Debug().
		Str("conversation_id", conversationID).
		Str("sender_id", senderID).
		Int("count", n).
		Msg("unread incremented")
}

// Clear resets a conversation's count to zero.
func (c *Coordinator) Clear(conversationID string) {
	c.mu.Lock()
	delete(c.counts, conversationID)
	c.mu.Unlock()
}

// Drop removes a conversation's entry entirely, so a deleted conversation
// never leaves a stale positive count hiding in the total.
func (c *Coordinator) Drop(conversationID string) {
	c.Clear(conversationID)
}

// Count returns the unread count for one conversation.
func (c *Coordinator) Count(conversationID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[conversationID]
}

// Total sums all counts.
func (c *Coordinator) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// HasUnread is true iff at least one count is positive.
func (c *Coordinator) HasUnread() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range c.counts {
		if n > 0 {
			return true
		}
	}
	return false
}

// Badge renders the total for display, capping rather than truncating.
func (c *Coordinator) Badge() string {
	total := c.Total()
	if total == 0 {
		return ""
	}
	if total > c.badgeCap {
		return fmt.Sprintf("%d+", c.badgeCap)
	}
	return fmt.Sprintf("%d", total)
}
