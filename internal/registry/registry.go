// Package registry holds the ordered collection of conversation summaries
// backing the conversation list.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"chatcore/internal/domain"
)

// Lister fetches the authoritative conversation list from the remote service.
type Lister interface {
	ListConversations(ctx context.Context) ([]*domain.Conversation, error)
}

// Registry is the exclusive owner of Conversation records. Conversations are
// ordered by last activity descending; index 0 is the most recent.
type Registry struct {
	mu    sync.RWMutex
	order []*domain.Conversation
	byID  map[string]*domain.Conversation

	svc Lister
	log zerolog.Logger
}

func New(svc Lister, log zerolog.Logger) *Registry {
	return &Registry{
		byID: make(map[string]*domain.Conversation),
		svc:  svc,
		log:  log,
	}
}

// Load replaces local state with the full remote list, de-duplicating by id
// with the first occurrence winning.
func (r *Registry) Load(ctx context.Context) error {
	convs, err := r.svc.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	order := make([]*domain.Conversation, 0, len(convs))
	byID := make(map[string]*domain.Conversation, len(convs))
	for _, conv := range convs {
		if conv == nil || conv.ID == "" {
			continue
		}
		if _, ok := byID[conv.ID]; ok {
			continue
		}
		byID[conv.ID] = conv
		order = append(order, conv)
	}

	r.mu.Lock()
	r.order = order
	r.byID = byID
	r.mu.Unlock()

	r.log.Debug().Int("conversations", len(order)).Msg("registry loaded")
	return nil
}

// UpsertFromIncomingMessage refreshes a conversation's last-message snapshot
// and moves it to the front. A message for an unknown conversation forces a
// full reload instead of fabricating a partial record.
func (r *Registry) UpsertFromIncomingMessage(ctx context.Context, conversationID string, msg *domain.Message) error {
	r.mu.Lock()
	conv, ok := r.byID[conversationID]
	if ok {
		conv.LastMessage = &domain.LastMessage{
			ContentType: msg.ContentType,
			Preview:     msg.Preview(),
			SentAt:      msg.SentAt,
		}
		r.moveToFrontLocked(conversationID)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.log.Info().Str("conversation_id", conversationID).Msg("message for unknown conversation, reloading")
	return r.Load(ctx)
}

// InsertNew inserts a conversation at the front. No-op when the id already
// exists; a brand-new conversation outranks everything regardless of
// timestamps.
func (r *Registry) InsertNew(conv *domain.Conversation) {
	if conv == nil || conv.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[conv.ID]; ok {
		return
	}
	r.byID[conv.ID] = conv
	r.order = append([]*domain.Conversation{conv}, r.order...)
}

// Remove drops a conversation. Returns whether it existed. Clearing the
// focus when the removed conversation was the focused one is the caller's
// responsibility.
func (r *Registry) Remove(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[conversationID]; !ok {
		return false
	}
	delete(r.byID, conversationID)
	for i, c := range r.order {
		if c.ID == conversationID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Search returns conversations whose display name contains the term,
// case-insensitively. Pure: state is not mutated.
func (r *Registry) Search(term string) []*domain.Conversation {
	needle := strings.ToLower(strings.TrimSpace(term))
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Conversation, 0)
	for _, c := range r.order {
		if needle == "" || strings.Contains(strings.ToLower(c.Name), needle) {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the conversation for an id, if present.
func (r *Registry) Get(conversationID string) (*domain.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[conversationID]
	return c, ok
}

// Snapshot returns the current ordering.
func (r *Registry) Snapshot() []*domain.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Conversation, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of conversations held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) moveToFrontLocked(conversationID string) {
	for i, c := range r.order {
		if c.ID == conversationID {
			if i == 0 {
				return
			}
			copy(r.order[1:i+1], r.order[:i])
			r.order[0] = c
			return
		}
	}
}
