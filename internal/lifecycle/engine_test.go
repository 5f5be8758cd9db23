package lifecycle_test

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatcore/internal/api"
	"chatcore/internal/domain"
	"chatcore/internal/lifecycle"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) SendMessage(ctx context.Context, in api.SendMessageInput) (*domain.Message, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockAPI) DeleteMessage(ctx context.Context, conversationID, messageID string, scope domain.DeleteScope) error {
	args := m.Called(ctx, conversationID, messageID, scope)
	return args.Error(0)
}

var self = domain.Sender{UserID: "u1", DisplayName: "Alex", Role: domain.RoleMember}

func TestCompose(t *testing.T) {
	engine := lifecycle.NewEngine(new(MockAPI), self, zerolog.Nop())

	t.Run("PendingEntry", func(t *testing.T) {
		msg, err := engine.Compose("c1", domain.ContentText, "hello", nil)
		assert.NoError(t, err)
		assert.Equal(t, domain.DeliveryPending, msg.Delivery)
		assert.Equal(t, "u1", msg.Sender.UserID)
		assert.True(t, strings.HasPrefix(msg.ID, "local-"))
	})

	t.Run("EmptyRejected", func(t *testing.T) {
		_, err := engine.Compose("c1", domain.ContentText, "", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("OversizedRejected", func(t *testing.T) {
		_, err := engine.Compose("c1", domain.ContentText, strings.Repeat("x", 5001), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("AttachmentOnlyAllowed", func(t *testing.T) {
		msg, err := engine.Compose("c1", domain.ContentImage, "", []domain.Attachment{{URL: "/f/1", Name: "pic.png"}})
		assert.NoError(t, err)
		assert.Len(t, msg.Attachments, 1)
	})
}

func TestSend(t *testing.T) {
	t.Run("ReconcilesPendingInPlace", func(t *testing.T) {
		svc := new(MockAPI)
		engine := lifecycle.NewEngine(svc, self, zerolog.Nop())

		msg, err := engine.Compose("c1", domain.ContentText, "hello", nil)
		assert.NoError(t, err)
		pendingID := msg.ID

		svc.On("SendMessage", mock.Anything, mock.MatchedBy(func(in api.SendMessageInput) bool {
			return in.ConversationID == "c1" && in.ClientRef == pendingID
		})).Return(&domain.Message{
			ID:             "m1",
			ConversationID: "c1",
			Sender:         self,
			Body:           "hello",
		}, nil)

		got, err := engine.Send(context.Background(), msg, nil)
		assert.NoError(t, err)
		assert.Same(t, msg, got, "the pending entry itself reconciles, no shadow copy")
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, domain.DeliverySent, msg.Delivery)
	})

	t.Run("FailureMovesToFailedState", func(t *testing.T) {
		svc := new(MockAPI)
		engine := lifecycle.NewEngine(svc, self, zerolog.Nop())

		msg, _ := engine.Compose("c1", domain.ContentText, "hello", nil)
		svc.On("SendMessage", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidInput)

		_, err := engine.Send(context.Background(), msg, nil)
		assert.Error(t, err)
		assert.Equal(t, domain.DeliveryFailed, msg.Delivery, "failed sends are visible, never phantom")
	})

	t.Run("FailedEntryMayRetry", func(t *testing.T) {
		svc := new(MockAPI)
		engine := lifecycle.NewEngine(svc, self, zerolog.Nop())

		msg, _ := engine.Compose("c1", domain.ContentText, "hello", nil)
		svc.On("SendMessage", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidInput).Once()
		svc.On("SendMessage", mock.Anything, mock.Anything).Return(&domain.Message{ID: "m1", ConversationID: "c1"}, nil).Once()

		_, err := engine.Send(context.Background(), msg, nil)
		assert.Error(t, err)
		_, err = engine.Send(context.Background(), msg, nil)
		assert.NoError(t, err)
		assert.Equal(t, domain.DeliverySent, msg.Delivery)
	})

	t.Run("SentEntryRejected", func(t *testing.T) {
		engine := lifecycle.NewEngine(new(MockAPI), self, zerolog.Nop())
		msg := &domain.Message{ID: "m1", ConversationID: "c1", Delivery: domain.DeliverySent}
		_, err := engine.Send(context.Background(), msg, nil)
		assert.ErrorIs(t, err, lifecycle.ErrSendNotPending)
	})
}

func TestDeletionPolicy(t *testing.T) {
	own := &domain.Message{ID: "m1", ConversationID: "c1", Sender: self}
	other := &domain.Message{ID: "m2", ConversationID: "c1", Sender: domain.Sender{UserID: "u2"}}

	t.Run("AuthorMayDeleteForEveryone", func(t *testing.T) {
		engine := lifecycle.NewEngine(new(MockAPI), self, zerolog.Nop())
		assert.True(t, engine.CanDeleteForEveryone(own))
		assert.Equal(t,
			[]domain.DeleteScope{domain.DeleteForMe, domain.DeleteForEveryone},
			engine.DeletionOptions(own))
	})

	t.Run("NonAuthorGetsForMeOnly", func(t *testing.T) {
		engine := lifecycle.NewEngine(new(MockAPI), self, zerolog.Nop())
		assert.False(t, engine.CanDeleteForEveryone(other))
		assert.Equal(t, []domain.DeleteScope{domain.DeleteForMe}, engine.DeletionOptions(other))
	})

	t.Run("ElevatedRoleMayDeleteAnything", func(t *testing.T) {
		admin := domain.Sender{UserID: "u9", Role: domain.RoleAdmin}
		engine := lifecycle.NewEngine(new(MockAPI), admin, zerolog.Nop())
		assert.True(t, engine.CanDeleteForEveryone(other))
	})
}

func TestDelete(t *testing.T) {
	t.Run("ForEveryoneTombstonesLocally", func(t *testing.T) {
		svc := new(MockAPI)
		engine := lifecycle.NewEngine(svc, self, zerolog.Nop())
		msg := &domain.Message{ID: "m1", ConversationID: "c1", Sender: self, Body: "hello"}

		svc.On("DeleteMessage", mock.Anything, "c1", "m1", domain.DeleteForEveryone).Return(nil)

		assert.NoError(t, engine.Delete(context.Background(), msg, domain.DeleteForEveryone))
		assert.True(t, msg.Deleted)
		assert.Empty(t, msg.Body)
	})

	t.Run("ForMeLeavesEntryIntact", func(t *testing.T) {
		svc := new(MockAPI)
		engine := lifecycle.NewEngine(svc, self, zerolog.Nop())
		msg := &domain.Message{ID: "m2", ConversationID: "c1", Sender: domain.Sender{UserID: "u2"}, Body: "hi"}

		svc.On("DeleteMessage", mock.Anything, "c1", "m2", domain.DeleteForMe).Return(nil)

		assert.NoError(t, engine.Delete(context.Background(), msg, domain.DeleteForMe))
		assert.False(t, msg.Deleted, "removal from the local log is the caller's job")
	})

	t.Run("UnauthorizedGlobalDeleteRefused", func(t *testing.T) {
		svc := new(MockAPI)
		engine := lifecycle.NewEngine(svc, self, zerolog.Nop())
		msg := &domain.Message{ID: "m2", ConversationID: "c1", Sender: domain.Sender{UserID: "u2"}}

		err := engine.Delete(context.Background(), msg, domain.DeleteForEveryone)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		svc.AssertNotCalled(t, "DeleteMessage")
	})
}

func TestDeleteBatch(t *testing.T) {
	// An elevated viewer selects a mix of own and others' messages; the
	// policy applies per message, not to the batch.
	admin := domain.Sender{UserID: "u9", Role: domain.RoleAdmin}
	member := domain.Sender{UserID: "u1", Role: domain.RoleMember}

	msgs := []*domain.Message{
		{ID: "m1", ConversationID: "c1", Sender: member},
		{ID: "m2", ConversationID: "c1", Sender: domain.Sender{UserID: "u2"}},
	}

	t.Run("ElevatedDeletesAllGlobally", func(t *testing.T) {
		svc := new(MockAPI)
		engine := lifecycle.NewEngine(svc, admin, zerolog.Nop())
		svc.On("DeleteMessage", mock.Anything, "c1", "m1", domain.DeleteForEveryone).Return(nil)
		svc.On("DeleteMessage", mock.Anything, "c1", "m2", domain.DeleteForEveryone).Return(nil)

		results, err := engine.DeleteBatch(context.Background(), msgs, domain.DeleteForEveryone)
		assert.NoError(t, err)
		assert.Len(t, results, 2)
		for _, res := range results {
			assert.Equal(t, domain.DeleteForEveryone, res.Scope)
		}
	})

	t.Run("MemberFallsBackPerMessage", func(t *testing.T) {
		own := []*domain.Message{
			{ID: "m1", ConversationID: "c1", Sender: member},
			{ID: "m2", ConversationID: "c1", Sender: domain.Sender{UserID: "u2"}},
		}
		svc := new(MockAPI)
		engine := lifecycle.NewEngine(svc, member, zerolog.Nop())
		svc.On("DeleteMessage", mock.Anything, "c1", "m1", domain.DeleteForEveryone).Return(nil)
		svc.On("DeleteMessage", mock.Anything, "c1", "m2", domain.DeleteForMe).Return(nil)

		results, err := engine.DeleteBatch(context.Background(), own, domain.DeleteForEveryone)
		assert.NoError(t, err)
		assert.Equal(t, domain.DeleteForEveryone, results[0].Scope)
		assert.Equal(t, domain.DeleteForMe, results[1].Scope, "others' messages fall back to for-me")
	})
}
