// Package lifecycle encodes the send and delete state machine for individual
// messages: optimistic pending entries reconciled against the authoritative
// response, and the two deletion variants with their permission policy.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatcore/internal/api"
	"chatcore/internal/domain"
)

const maxBodyRunes = 5000

// API is the slice of the remote service the engine needs.
type API interface {
	SendMessage(ctx context.Context, in api.SendMessageInput) (*domain.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string, scope domain.DeleteScope) error
}

// Engine drives message sends and deletes on behalf of one identity.
type Engine struct {
	svc  API
	self domain.Sender
	log  zerolog.Logger
}

func NewEngine(svc API, self domain.Sender, log zerolog.Logger) *Engine {
	return &Engine{svc: svc, self: self, log: log}
}

// Compose builds the optimistic pending entry for an outbound message. The
// id is a local placeholder; Send swaps it for the canonical one.
func (e *Engine) Compose(conversationID string, contentType domain.ContentType, body string, attachments []domain.Attachment) (*domain.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("compose: %w", domain.ErrInvalidInput)
	}
	if body == "" && len(attachments) == 0 {
		return nil, fmt.Errorf("compose: empty message: %w", domain.ErrInvalidInput)
	}
	if len([]rune(body)) > maxBodyRunes {
		return nil, fmt.Errorf("compose: body exceeds %d characters: %w", maxBodyRunes, domain.ErrInvalidInput)
	}
	if contentType == "" {
		contentType = domain.ContentText
	}

	return &domain.Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: conversationID,
		Sender:         e.self,
		ContentType:    contentType,
		Body:           body,
		Attachments:    attachments,
		SentAt:         time.Now(),
		Delivery:       domain.DeliveryPending,
	}, nil
}

// Send posts a pending message and reconciles it in place with the canonical
// record: the entry itself moves pending to sent, there is no shadow copy.
// On failure the entry moves to the terminal failed state and stays in the
// log so the caller can offer retry or discard; it is never silently removed.
func (e *Engine) Send(ctx context.Context, msg *domain.Message, uploads []api.Upload) (*domain.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("send: %w", domain.ErrInvalidInput)
	}
	if msg.Delivery != domain.DeliveryPending && msg.Delivery != domain.DeliveryFailed {
		return nil, fmt.Errorf("send: %w", ErrSendNotPending)
	}

	canonical, err := e.svc.SendMessage(ctx, api.SendMessageInput{
		ConversationID: msg.ConversationID,
		ContentType:    msg.ContentType,
		Body:           msg.Body,
		ClientRef:      msg.ID,
		Attachments:    uploads,
	})
	if err != nil {
		msg.Delivery = domain.DeliveryFailed
		e.log.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("send failed")
		return nil, err
	}

	msg.ID = canonical.ID
	msg.Merge(canonical)
	msg.Delivery = domain.DeliverySent
	return msg, nil
}

// CanDeleteForEveryone reports whether the identity may delete the message
// globally: its author, or any elevated role.
func (e *Engine) CanDeleteForEveryone(msg *domain.Message) bool {
	if msg == nil {
		return false
	}
	return msg.Sender.UserID == e.self.UserID || e.self.Role.Elevated()
}

// DeletionOptions lists the scopes a deletion prompt may offer for a message.
func (e *Engine) DeletionOptions(msg *domain.Message) []domain.DeleteScope {
	opts := []domain.DeleteScope{domain.DeleteForMe}
	if e.CanDeleteForEveryone(msg) {
		opts = append(opts, domain.DeleteForEveryone)
	}
	return opts
}

// Delete removes one message with the given scope. A global delete
// tombstones the entry in place immediately; the server broadcast that
// follows merges idempotently. A for-me delete issues no broadcast and the
// caller removes the entry from its own log.
func (e *Engine) Delete(ctx context.Context, msg *domain.Message, scope domain.DeleteScope) error {
	if msg == nil {
		return fmt.Errorf("delete: %w", domain.ErrInvalidInput)
	}
	if scope == domain.DeleteForEveryone && !e.CanDeleteForEveryone(msg) {
		return fmt.Errorf("delete for everyone: %w", domain.ErrForbidden)
	}

	if err := e.svc.DeleteMessage(ctx, msg.ConversationID, msg.ID, scope); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	if scope == domain.DeleteForEveryone {
		msg.Tombstone()
	}
	return nil
}

// BatchResult reports the scope actually applied to one message of a batch.
type BatchResult struct {
	MessageID string
	Scope     domain.DeleteScope
	Err       error
}

// DeleteBatch applies the deletion policy per message, not to the batch as a
// whole: within a mixed selection, messages the identity may not delete
// globally fall back to for-me.
func (e *Engine) DeleteBatch(ctx context.Context, msgs []*domain.Message, requested domain.DeleteScope) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(msgs))
	var firstErr error
	for _, msg := range msgs {
		scope := requested
		if scope == domain.DeleteForEveryone && !e.CanDeleteForEveryone(msg) {
			scope = domain.DeleteForMe
		}
		err := e.Delete(ctx, msg, scope)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		results = append(results, BatchResult{MessageID: msg.ID, Scope: scope, Err: err})
	}
	if firstErr != nil {
		return results, fmt.Errorf("batch delete: %w", firstErr)
	}
	return results, nil
}

// ErrSendNotPending tells a retry caller the entry already reconciled.
var ErrSendNotPending = errors.New("message is not pending")
