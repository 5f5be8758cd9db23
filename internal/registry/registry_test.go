package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatcore/internal/domain"
	"chatcore/internal/registry"
)

type MockLister struct {
	mock.Mock
}

func (m *MockLister) ListConversations(ctx context.Context) ([]*domain.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func conv(id, name string) *domain.Conversation {
	return &domain.Conversation{ID: id, Type: domain.ConversationGroup, Name: name}
}

func TestLoad(t *testing.T) {
	t.Run("DeduplicatesFirstWins", func(t *testing.T) {
		lister := new(MockLister)
		lister.On("ListConversations", mock.Anything).Return([]*domain.Conversation{
			conv("c1", "alpha"),
			conv("c2", "beta"),
			conv("c1", "alpha-dup"),
		}, nil)

		r := registry.New(lister, zerolog.Nop())
		assert.NoError(t, r.Load(context.Background()))

		assert.Equal(t, 2, r.Len())
		got, ok := r.Get("c1")
		assert.True(t, ok)
		assert.Equal(t, "alpha", got.Name)
	})

	t.Run("ReplacesPreviousState", func(t *testing.T) {
		lister := new(MockLister)
		lister.On("ListConversations", mock.Anything).Return([]*domain.Conversation{conv("c1", "alpha")}, nil).Once()
		lister.On("ListConversations", mock.Anything).Return([]*domain.Conversation{conv("c2", "beta")}, nil).Once()

		r := registry.New(lister, zerolog.Nop())
		assert.NoError(t, r.Load(context.Background()))
		assert.NoError(t, r.Load(context.Background()))

		_, ok := r.Get("c1")
		assert.False(t, ok)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("PropagatesError", func(t *testing.T) {
		lister := new(MockLister)
		lister.On("ListConversations", mock.Anything).Return(nil, domain.ErrUnauthorized)

		r := registry.New(lister, zerolog.Nop())
		assert.ErrorIs(t, r.Load(context.Background()), domain.ErrUnauthorized)
	})
}

func TestUpsertFromIncomingMessage(t *testing.T) {
	msg := &domain.Message{
		ID:             "m1",
		ConversationID: "c2",
		ContentType:    domain.ContentText,
		Body:           "hello",
		SentAt:         time.Now(),
	}

	t.Run("MovesToFrontAndUpdatesSnapshot", func(t *testing.T) {
		lister := new(MockLister)
		lister.On("ListConversations", mock.Anything).Return([]*domain.Conversation{
			conv("c1", "alpha"),
			conv("c2", "beta"),
			conv("c3", "gamma"),
		}, nil)

		r := registry.New(lister, zerolog.Nop())
		assert.NoError(t, r.Load(context.Background()))

		assert.NoError(t, r.UpsertFromIncomingMessage(context.Background(), "c2", msg))

		order := r.Snapshot()
		assert.Equal(t, "c2", order[0].ID)
		assert.Equal(t, "hello", order[0].LastMessage.Preview)
		assert.Equal(t, []string{"c2", "c1", "c3"}, ids(order))

		// Already at the front: order is stable.
		assert.NoError(t, r.UpsertFromIncomingMessage(context.Background(), "c2", msg))
		assert.Equal(t, []string{"c2", "c1", "c3"}, ids(r.Snapshot()))

		lister.AssertNumberOfCalls(t, "ListConversations", 1)
	})

	t.Run("UnknownConversationForcesReload", func(t *testing.T) {
		lister := new(MockLister)
		lister.On("ListConversations", mock.Anything).Return([]*domain.Conversation{conv("c1", "alpha")}, nil).Once()
		lister.On("ListConversations", mock.Anything).Return([]*domain.Conversation{
			conv("c9", "new thread"),
			conv("c1", "alpha"),
		}, nil).Once()

		r := registry.New(lister, zerolog.Nop())
		assert.NoError(t, r.Load(context.Background()))

		unknown := &domain.Message{ID: "m2", ConversationID: "c9", Body: "hi"}
		assert.NoError(t, r.UpsertFromIncomingMessage(context.Background(), "c9", unknown))

		_, ok := r.Get("c9")
		assert.True(t, ok)
		lister.AssertNumberOfCalls(t, "ListConversations", 2)
	})
}

func TestInsertNew(t *testing.T) {
	r := registry.New(new(MockLister), zerolog.Nop())

	r.InsertNew(conv("c1", "alpha"))
	r.InsertNew(conv("c2", "beta"))
	assert.Equal(t, []string{"c2", "c1"}, ids(r.Snapshot()), "new conversations go to the front")

	// Idempotent: same id is a no-op.
	r.InsertNew(conv("c1", "alpha again"))
	assert.Equal(t, 2, r.Len())
	got, _ := r.Get("c1")
	assert.Equal(t, "alpha", got.Name)
}

func TestRemove(t *testing.T) {
	r := registry.New(new(MockLister), zerolog.Nop())
	r.InsertNew(conv("c1", "alpha"))

	assert.True(t, r.Remove("c1"))
	assert.False(t, r.Remove("c1"))
	assert.Equal(t, 0, r.Len())
}

func TestSearch(t *testing.T) {
	r := registry.New(new(MockLister), zerolog.Nop())
	r.InsertNew(conv("c1", "Order Support"))
	r.InsertNew(conv("c2", "warehouse team"))

	assert.Len(t, r.Search("SUPPORT"), 1)
	assert.Len(t, r.Search("team"), 1)
	assert.Len(t, r.Search(""), 2)
	assert.Empty(t, r.Search("billing"))

	// Pure: searching never reorders.
	assert.Equal(t, []string{"c2", "c1"}, ids(r.Snapshot()))
}

func ids(convs []*domain.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}
