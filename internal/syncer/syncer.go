// Package syncer wires the realtime channel to the conversation registry,
// unread coordinator, presence tracker and the single active session. It is
// the embedding surface of the chat core.
package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chatcore/internal/api"
	"chatcore/internal/domain"
	"chatcore/internal/lifecycle"
	"chatcore/internal/presence"
	"chatcore/internal/realtime"
	"chatcore/internal/registry"
	"chatcore/internal/security"
	"chatcore/internal/session"
	"chatcore/internal/unread"
)

// Service is the full request/response surface of the remote chat service.
// *api.Client satisfies it.
type Service interface {
	ListConversations(ctx context.Context) ([]*domain.Conversation, error)
	CreateConversation(ctx context.Context, in api.CreateConversationInput) (*domain.Conversation, error)
	History(ctx context.Context, conversationID string, limit int, before string) ([]*domain.Message, error)
	SendMessage(ctx context.Context, in api.SendMessageInput) (*domain.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	DeleteMessage(ctx context.Context, conversationID, messageID string, scope domain.DeleteScope) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Channel is the realtime surface the syncer depends on.
type Channel interface {
	Connect(ctx context.Context) error
	Subscribe(event string, h realtime.Handler)
	Publish(event string, fields map[string]any) error
	Down() <-chan error
	Disconnect()
}

// Options forwards tuning knobs into the owned components.
type Options struct {
	Session        session.Options
	UnreadBadgeCap int
}

// Syncer keeps the client's view of all conversations consistent with the
// shared server while events arrive asynchronously and out of order.
type Syncer struct {
	identity security.Identity
	svc      Service
	ch       Channel
	log      zerolog.Logger

	focus    *unread.Focus
	registry *registry.Registry
	unread   *unread.Coordinator
	presence *presence.Tracker
	engine   *lifecycle.Engine
	sessOpts session.Options

	mu   sync.Mutex
	sess *session.Session
}

func New(identity security.Identity, svc Service, ch Channel, opts Options, log zerolog.Logger) *Syncer {
	focus := unread.NewFocus()
	s := &Syncer{
		identity: identity,
		svc:      svc,
		ch:       ch,
		log:      log,
		focus:    focus,
		registry: registry.New(svc, log.With().Str("component", "registry").Logger()),
		unread:   unread.NewCoordinator(focus, opts.UnreadBadgeCap, log.With().Str("component", "unread").Logger()),
		presence: presence.NewTracker(),
		engine:   lifecycle.NewEngine(svc, identity.Sender(), log.With().Str("component", "lifecycle").Logger()),
		sessOpts: opts.Session,
	}
	s.subscribe()
	return s
}

// Start loads the initial snapshot and brings the channel up. The snapshot
// and the event stream reconcile by idempotent, id-keyed merges, so their
// relative order does not matter.
func (s *Syncer) Start(ctx context.Context) error {
	if err := s.registry.Load(ctx); err != nil {
		return fmt.Errorf("start syncer: %w", err)
	}
	convs := s.registry.Snapshot()
	s.unread.Seed(convs)
	s.watchCounterparts(convs)

	if err := s.ch.Connect(ctx); err != nil {
		return fmt.Errorf("start syncer: %w", err)
	}
	return nil
}

// Close tears down the active session and the channel.
func (s *Syncer) Close() {
	s.Blur()
	s.ch.Disconnect()
}

// Down surfaces the channel's terminal failure after reconnects exhaust.
func (s *Syncer) Down() <-chan error {
	return s.ch.Down()
}

// Focus switches the viewer to a conversation: the previous session leaves
// its room, the unread count clears, and a new session opens.
func (s *Syncer) Focus(ctx context.Context, conversationID string) (*session.Session, error) {
	conv, ok := s.registry.Get(conversationID)
	if !ok {
		return nil, fmt.Errorf("focus %q: %w", conversationID, domain.ErrNotFound)
	}

	s.mu.Lock()
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
	s.mu.Unlock()

	s.focus.Set(conversationID)
	s.unread.Clear(conversationID)

	sess := session.New(conv, s.identity.Sender(), s.svc, s.ch, s.engine, s.sessOpts, s.log)
	if err := sess.Open(ctx); err != nil {
		s.focus.Set("")
		return nil, err
	}

	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
	return sess, nil
}

// Blur closes the active session without focusing another conversation.
func (s *Syncer) Blur() {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()

	s.focus.Set("")
	if sess != nil {
		sess.Close()
	}
}

// CreateConversation creates a private or group thread and lists it.
func (s *Syncer) CreateConversation(ctx context.Context, in api.CreateConversationInput) (*domain.Conversation, error) {
	conv, err := s.svc.CreateConversation(ctx, in)
	if err != nil {
		return nil, err
	}
	s.registry.InsertNew(conv)
	s.watchCounterparts([]*domain.Conversation{conv})
	return conv, nil
}

// DeleteConversation removes a thread for all participants. Local state is
// cleaned up immediately; the broadcast echo is idempotent.
func (s *Syncer) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.svc.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	s.removeConversation(conversationID)
	return nil
}

// Session returns the active session, if any.
func (s *Syncer) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Registry exposes the conversation list.
func (s *Syncer) Registry() *registry.Registry { return s.registry }

// Unread exposes the unread counters.
func (s *Syncer) Unread() *unread.Coordinator { return s.unread }

// Presence exposes the online lookup.
func (s *Syncer) Presence() *presence.Tracker { return s.presence }

// Engine exposes the message lifecycle engine (deletion prompts, batches).
func (s *Syncer) Engine() *lifecycle.Engine { return s.engine }

func (s *Syncer) subscribe() {
	s.ch.Subscribe(domain.EventConnected, func(domain.Event) {
		if sess := s.Session(); sess != nil {
			sess.OnConnected()
		}
	})

	s.ch.Subscribe(domain.EventMessage, func(ev domain.Event) {
		e, ok := ev.(domain.MessageArrived)
		if !ok {
			return
		}
		msg := e.Message
		isSelf := msg.Sender.UserID == s.identity.UserID

		if err := s.registry.UpsertFromIncomingMessage(context.Background(), msg.ConversationID, msg); err != nil {
			s.log.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("registry upsert failed")
		}
		s.unread.OnMessageArrived(msg.ConversationID, msg.Sender.UserID, isSelf)
		if sess := s.Session(); sess != nil {
			sess.HandleEvent(ev)
		}
	})

	forward := func(ev domain.Event) {
		if sess := s.Session(); sess != nil {
			sess.HandleEvent(ev)
		}
	}
	s.ch.Subscribe(domain.EventMessageUpdated, forward)
	s.ch.Subscribe(domain.EventMessagesRead, forward)
	s.ch.Subscribe(domain.EventTyping, forward)
	s.ch.Subscribe(domain.EventTypingStopped, forward)
	s.ch.Subscribe(domain.EventMessageDeleted, forward)

	s.ch.Subscribe(domain.EventPresence, func(ev domain.Event) {
		e, ok := ev.(domain.PresenceChanged)
		if !ok {
			return
		}
		s.presence.Apply(e.UserID, e.Online)
	})

	s.ch.Subscribe(domain.EventConversationCreated, func(ev domain.Event) {
		e, ok := ev.(domain.ConversationCreated)
		if !ok {
			return
		}
		if err := e.Conversation.Validate(); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", e.Conversation.ID).Msg("dropping malformed conversation")
			return
		}
		s.registry.InsertNew(e.Conversation)
		s.watchCounterparts([]*domain.Conversation{e.Conversation})
	})

	s.ch.Subscribe(domain.EventConversationDeleted, func(ev domain.Event) {
		e, ok := ev.(domain.ConversationDeleted)
		if !ok {
			return
		}
		s.removeConversation(e.ConversationID)
	})
}

// removeConversation drops every trace of a conversation: registry record,
// unread entry, presence watch, and the session if it was the focused one.
func (s *Syncer) removeConversation(conversationID string) {
	if conv, ok := s.registry.Get(conversationID); ok {
		if m, ok := conv.Counterpart(s.identity.UserID); ok {
			s.presence.Unwatch(m.UserID)
		}
	}
	s.registry.Remove(conversationID)
	s.unread.Drop(conversationID)

	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess != nil && sess.ConversationID() == conversationID {
		s.Blur()
	}
}

func (s *Syncer) watchCounterparts(convs []*domain.Conversation) {
	for _, conv := range convs {
		if m, ok := conv.Counterpart(s.identity.UserID); ok {
			s.presence.Watch(m.UserID)
			if m.Online != nil {
				s.presence.Apply(m.UserID, *m.Online)
			}
		}
	}
}
