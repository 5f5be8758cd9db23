// Package session owns the message log of the one conversation the viewer
// has focused: history load, live-event merging, typing indicator and
// read-receipt state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chatcore/internal/api"
	"chatcore/internal/domain"
	"chatcore/internal/lifecycle"
)

// State of the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// API is the slice of the remote service the session needs.
type API interface {
	History(ctx context.Context, conversationID string, limit int, before string) ([]*domain.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Publisher sends fire-and-forget events over the realtime channel.
type Publisher interface {
	Publish(event string, fields map[string]any) error
}

// Options tunes history paging and the typing indicator.
type Options struct {
	HistoryPageSize  int
	TypingIdleWindow time.Duration
	// TypingPublishHz throttles outbound typing_start refreshes.
	TypingPublishHz float64
}

func (o Options) withDefaults() Options {
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = 50
	}
	if o.TypingIdleWindow <= 0 {
		o.TypingIdleWindow = 2 * time.Second
	}
	if o.TypingPublishHz <= 0 {
		o.TypingPublishHz = 0.5
	}
	return o
}

// Session is the exclusive owner of its conversation's in-memory log. Only
// one session is open at a time; events for other conversations are ignored.
type Session struct {
	conv *domain.Conversation
	self domain.Sender
	opts Options

	svc    API
	ch     Publisher
	engine *lifecycle.Engine
	log    zerolog.Logger

	mu    sync.Mutex
	state State
	msgs  []*domain.Message
	byID  map[string]*domain.Message

	typingUserID string
	typingName   string
	typingTimer  *time.Timer

	typingLimiter *rate.Limiter
}

func New(conv *domain.Conversation, self domain.Sender, svc API, ch Publisher, engine *lifecycle.Engine, opts Options, log zerolog.Logger) *Session {
	opts = opts.withDefaults()
	return &Session{
		conv:          conv,
		self:          self,
		opts:          opts,
		svc:           svc,
		ch:            ch,
		engine:        engine,
		log:           log.With().Str("conversation_id", conv.ID).Logger(),
		state:         StateIdle,
		byID:          make(map[string]*domain.Message),
		typingLimiter: rate.NewLimiter(rate.Limit(opts.TypingPublishHz), 1),
	}
}

// ConversationID returns the id this session is bound to.
func (s *Session) ConversationID() string {
	return s.conv.ID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open joins the conversation: fetch history oldest-to-newest, replace the
// log, go active, join the room and acknowledge the read.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("open session: state %s: %w", s.state, domain.ErrInvalidInput)
	}
	s.state = StateJoining
	s.mu.Unlock()

	msgs, err := s.svc.History(ctx, s.conv.ID, s.opts.HistoryPageSize, "")
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("open session: %w", err)
	}

	s.mu.Lock()
	s.msgs = make([]*domain.Message, 0, len(msgs))
	s.byID = make(map[string]*domain.Message, len(msgs))
	for _, m := range msgs {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.byID[m.ID] = m
		s.msgs = append(s.msgs, m)
	}
	s.state = StateActive
	s.mu.Unlock()

	s.publishJoin()
	if err := s.svc.MarkRead(ctx, s.conv.ID); err != nil {
		// Not fatal: the next inbound message retriggers the acknowledgement.
		s.log.Warn().Err(err).Msg("mark read on open failed")
	}
	return nil
}

// Close leaves the room with a best-effort publish and returns the session
// to idle. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateJoining {
		s.mu.Unlock()
		return
	}
	s.state = StateLeaving
	s.stopTypingTimerLocked()
	s.typingUserID = ""
	s.typingName = ""
	s.mu.Unlock()

	if err := s.ch.Publish(domain.EventLeaveRoom, map[string]any{
		"conversation_id": s.conv.ID,
	}); err != nil {
		s.log.Debug().Err(err).Msg("leave room publish dropped")
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// OnConnected re-joins the room after a reconnection. History is not
// re-fetched; only the room membership is restored.
func (s *Session) OnConnected() {
	s.mu.Lock()
	active := s.state == StateActive
	s.mu.Unlock()
	if active {
		s.publishJoin()
	}
}

// HandleEvent merges one live event into the session's state. Events whose
// conversation id differs from the focused one are ignored.
func (s *Session) HandleEvent(ev domain.Event) {
	switch e := ev.(type) {
	case domain.MessageArrived:
		if e.Message.ConversationID != s.conv.ID {
			return
		}
		s.onMessageArrived(e.Message)
	case domain.MessageUpdated:
		if e.Message.ConversationID != s.conv.ID {
			return
		}
		s.onMessageUpdated(e.Message)
	case domain.MessagesRead:
		if e.ConversationID != s.conv.ID {
			return
		}
		s.onMessagesRead(e.UserID, e.ReadAt)
	case domain.TypingStarted:
		if e.ConversationID != s.conv.ID {
			return
		}
		s.onTypingStarted(e.UserID, e.DisplayName)
	case domain.TypingStopped:
		if e.ConversationID != s.conv.ID {
			return
		}
		s.clearTyping()
	case domain.MessageDeleted:
		if e.ConversationID != s.conv.ID {
			return
		}
		s.removeMessage(e.MessageID)
	}
}

// Send composes the outbound message, appends the optimistic echo, then
// reconciles it with the authoritative response. The realtime broadcast for
// the same message deduplicates against the reconciled entry by id.
func (s *Session) Send(ctx context.Context, contentType domain.ContentType, body string, attachments []domain.Attachment, uploads []api.Upload) (*domain.Message, error) {
	msg, err := s.engine.Compose(s.conv.ID, contentType, body, attachments)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.appendLocked(msg)
	s.mu.Unlock()

	pendingID := msg.ID
	if _, err := s.engine.Send(ctx, msg, uploads); err != nil {
		// The entry stays in the log in its failed state; no silent rollback.
		return msg, err
	}

	s.mu.Lock()
	s.reindexLocked(pendingID, msg)
	s.mu.Unlock()
	return msg, nil
}

// Retry re-sends a message stuck in the failed state.
func (s *Session) Retry(ctx context.Context, messageID string, uploads []api.Upload) (*domain.Message, error) {
	s.mu.Lock()
	msg, ok := s.byID[messageID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("retry: %w", domain.ErrNotFound)
	}

	pendingID := msg.ID
	if _, err := s.engine.Send(ctx, msg, uploads); err != nil {
		return msg, err
	}

	s.mu.Lock()
	s.reindexLocked(pendingID, msg)
	s.mu.Unlock()
	return msg, nil
}

// Discard drops a failed optimistic entry from the log.
func (s *Session) Discard(messageID string) bool {
	s.mu.Lock()
	msg, ok := s.byID[messageID]
	if !ok || msg.Delivery != domain.DeliveryFailed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.removeMessage(messageID)
}

// Delete removes a message with the requested scope. For-me removes the
// entry from this log only; for-everyone tombstones it in place.
func (s *Session) Delete(ctx context.Context, messageID string, scope domain.DeleteScope) error {
	s.mu.Lock()
	msg, ok := s.byID[messageID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("delete: %w", domain.ErrNotFound)
	}

	if err := s.engine.Delete(ctx, msg, scope); err != nil {
		return err
	}
	if scope == domain.DeleteForMe {
		s.removeMessage(messageID)
	}
	return nil
}

// LoadOlder prepends the page preceding the oldest message held.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	before := ""
	if len(s.msgs) > 0 {
		before = s.msgs[0].ID
	}
	s.mu.Unlock()

	older, err := s.svc.History(ctx, s.conv.ID, s.opts.HistoryPageSize, before)
	if err != nil {
		return 0, fmt.Errorf("load older: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	prepend := make([]*domain.Message, 0, len(older))
	for _, m := range older {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.byID[m.ID] = m
		prepend = append(prepend, m)
		added++
	}
	s.msgs = append(prepend, s.msgs...)
	return added, nil
}

// Typing publishes a throttled typing_start refresh for the viewer.
func (s *Session) Typing() {
	if !s.typingLimiter.Allow() {
		return
	}
	if err := s.ch.Publish(domain.EventTypingStart, map[string]any{
		"conversation_id": s.conv.ID,
		"user_id":         s.self.UserID,
		"display_name":    s.self.DisplayName,
	}); err != nil {
		s.log.Debug().Err(err).Msg("typing publish dropped")
	}
}

// StopTyping publishes the explicit end of the viewer's typing indicator.
func (s *Session) StopTyping() {
	if err := s.ch.Publish(domain.EventTypingStop, map[string]any{
		"conversation_id": s.conv.ID,
	}); err != nil {
		s.log.Debug().Err(err).Msg("typing stop publish dropped")
	}
}

// Messages returns the current log in arrival order.
func (s *Session) Messages() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Message returns one entry by id.
func (s *Session) Message(id string) (*domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	return m, ok
}

// TypingIndicator reports who is typing, if anyone.
func (s *Session) TypingIndicator() (userID, displayName string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typingUserID == "" {
		return "", "", false
	}
	return s.typingUserID, s.typingName, true
}

func (s *Session) onMessageArrived(msg *domain.Message) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	added := s.appendLocked(msg)
	fromOther := msg.Sender.UserID != s.self.UserID
	if fromOther {
		// A counterpart message clears their typing indicator.
		s.stopTypingTimerLocked()
		s.typingUserID = ""
		s.typingName = ""
	}
	s.mu.Unlock()

	if added && fromOther {
		go func() {
			if err := s.svc.MarkRead(context.Background(), s.conv.ID); err != nil {
				s.log.Warn().Err(err).Msg("mark read on arrival failed")
			}
		}()
	}
}

func (s *Session) onMessageUpdated(msg *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.byID[msg.ID]; ok {
		held.Merge(msg)
	}
}

func (s *Session) onMessagesRead(userID string, readAt time.Time) {
	if userID == s.self.UserID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.Sender.UserID == s.self.UserID {
			m.MarkReadBy(userID, readAt)
			if m.Delivery == domain.DeliverySent || m.Delivery == domain.DeliveryDelivered {
				m.Delivery = domain.DeliveryRead
			}
		}
	}
}

func (s *Session) onTypingStarted(userID, displayName string) {
	if userID == s.self.UserID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typingUserID = userID
	s.typingName = displayName
	// Auto-clear after the idle window even if the stop event is dropped.
	if s.typingTimer == nil {
		s.typingTimer = time.AfterFunc(s.opts.TypingIdleWindow, s.clearTyping)
	} else {
		s.typingTimer.Reset(s.opts.TypingIdleWindow)
	}
}

func (s *Session) clearTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTypingTimerLocked()
	s.typingUserID = ""
	s.typingName = ""
}

func (s *Session) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

// appendLocked adds a message unless its id is already held. Dedup by id is
// mandatory: the optimistic echo and the server broadcast both arrive.
func (s *Session) appendLocked(msg *domain.Message) bool {
	if _, ok := s.byID[msg.ID]; ok {
		return false
	}
	s.byID[msg.ID] = msg
	s.msgs = append(s.msgs, msg)
	return true
}

// reindexLocked moves an entry from its pending id to the canonical one.
// When the broadcast won the race and the canonical id is already held, the
// duplicate pending entry is dropped.
func (s *Session) reindexLocked(pendingID string, msg *domain.Message) {
	if pendingID == msg.ID {
		return
	}
	delete(s.byID, pendingID)
	if existing, ok := s.byID[msg.ID]; ok && existing != msg {
		for i, m := range s.msgs {
			if m == msg {
				s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
				break
			}
		}
		return
	}
	s.byID[msg.ID] = msg
}

func (s *Session) removeMessage(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[messageID]; !ok {
		return false
	}
	delete(s.byID, messageID)
	for i, m := range s.msgs {
		if m.ID == messageID {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
	return true
}

func (s *Session) publishJoin() {
	if err := s.ch.Publish(domain.EventJoinRoom, map[string]any{
		"conversation_id": s.conv.ID,
	}); err != nil {
		s.log.Debug().Err(err).Msg("join room publish dropped")
	}
}
