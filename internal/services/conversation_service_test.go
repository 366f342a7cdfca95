package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chirpchat/internal/apperr"
	"chirpchat/internal/events"
	"chirpchat/internal/mocks"
	"chirpchat/internal/models"
	"chirpchat/internal/repositories"
)

type fixture struct {
	store *repositories.MemoryStore
	convs *ConversationService
	msgs  *MessageService
	a     models.User
	b     models.User
	c     models.User
}

func newFixture(t *testing.T, uniquePairs bool) fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	f := fixture{
		store: store,
		convs: NewConversationService(store, store, store, uniquePairs),
		msgs:  NewMessageService(store, store),
		a:     models.User{ID: models.NewID(), Name: "A", Email: "a@x.com"},
		b:     models.User{ID: models.NewID(), Name: "B", Email: "b@x.com"},
		c:     models.User{ID: models.NewID(), Name: "C"},
	}
	for _, u := range []models.User{f.a, f.b, f.c} {
		require.NoError(t, store.UpsertUser(context.Background(), u))
	}
	return f
}

func TestCreateSingleIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, batch, err := f.convs.CreateSingle(ctx, f.a.ID, f.b.ID)
	require.NoError(t, err)
	assert.False(t, first.IsGroup)
	assert.ElementsMatch(t, []string{f.a.ID, f.b.ID}, first.UserIDs)
	require.Equal(t, 2, batch.Len())
	for _, task := range batch.Tasks {
		assert.Equal(t, events.ConversationNewName, task.Event.Name())
	}
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, []string{batch.Tasks[0].Channel, batch.Tasks[1].Channel})

	second, batch, err := f.convs.CreateSingle(ctx, f.b.ID, f.a.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, batch.Len())
}

func TestCreateSingleSkipsMembersWithoutEmail(t *testing.T) {
	f := newFixture(t, false)

	_, batch, err := f.convs.CreateSingle(context.Background(), f.a.ID, f.c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, "a@x.com", batch.Tasks[0].Channel)
}

func TestCreateSingleRejectsSelfAndUnknown(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, _, err := f.convs.CreateSingle(ctx, f.a.ID, f.a.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = f.convs.CreateSingle(ctx, f.a.ID, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = f.convs.CreateSingle(ctx, f.a.ID, models.NewID())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, _, err = f.convs.CreateSingle(ctx, f.a.ID, "not-an-id")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateSingleUserLookupFailure(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	convs := new(mocks.ConversationRepositoryMock)
	svc := NewConversationService(users, convs, nil, false)
	a, b := models.NewID(), models.NewID()

	users.On("GetUser", mock.Anything, b).Return(nil, errors.New("connection reset")).Once()

	_, batch, err := svc.CreateSingle(context.Background(), a, b)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Zero(t, batch.Len())
	convs.AssertNotCalled(t, "FindSingle", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateSingleReturnsWinnerOnPairConflict(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	convs := new(mocks.ConversationRepositoryMock)
	svc := NewConversationService(users, convs, nil, true)
	a, b := models.NewID(), models.NewID()
	winner := models.Conversation{ID: models.NewID(), UserIDs: []string{b, a}}

	users.On("GetUser", mock.Anything, b).Return(models.User{ID: b}, nil).Once()
	convs.On("FindSingle", mock.Anything, a, b).Return(nil, repositories.ErrConversationNotFound).Once()
	convs.On("CreateConversation", mock.Anything, repositories.NewConversation{MemberIDs: []string{a, b}, PairKey: models.PairKey(a, b)}).
		Return(nil, repositories.ErrDuplicatePair).Once()
	convs.On("FindSingle", mock.Anything, a, b).Return(winner, nil).Once()

	got, batch, err := svc.CreateSingle(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
	assert.Zero(t, batch.Len())
	users.AssertExpectations(t)
	convs.AssertExpectations(t)
}

func TestCreateSingleWithoutPairKeyAllowsDuplicates(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	// Both requests passed the existence check before either created.
	first, err := f.store.CreateConversation(ctx, repositories.NewConversation{MemberIDs: []string{f.a.ID, f.b.ID}})
	require.NoError(t, err)
	second, err := f.store.CreateConversation(ctx, repositories.NewConversation{MemberIDs: []string{f.b.ID, f.a.ID}})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, batch, err := f.convs.CreateSingle(ctx, f.a.ID, f.b.ID)
	require.NoError(t, err)
	assert.Zero(t, batch.Len())
}

func TestCreateGroupValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, _, err := f.convs.CreateGroup(ctx, f.a.ID, []string{f.b.ID}, "team")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = f.convs.CreateGroup(ctx, f.a.ID, []string{f.b.ID, f.b.ID}, "team")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = f.convs.CreateGroup(ctx, f.a.ID, []string{f.a.ID, f.b.ID}, "team")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = f.convs.CreateGroup(ctx, f.a.ID, []string{f.b.ID, f.c.ID}, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = f.convs.CreateGroup(ctx, f.a.ID, []string{f.b.ID, models.NewID()}, "team")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := f.convs.ListForUser(ctx, f.a.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateGroupIncludesRequester(t *testing.T) {
	f := newFixture(t, false)

	conv, batch, err := f.convs.CreateGroup(context.Background(), f.a.ID, []string{f.b.ID, f.c.ID, f.b.ID}, " team ")
	require.NoError(t, err)
	assert.True(t, conv.IsGroup)
	assert.Equal(t, "team", conv.Name)
	assert.ElementsMatch(t, []string{f.a.ID, f.b.ID, f.c.ID}, conv.UserIDs)
	// c has no email.
	assert.Equal(t, 2, batch.Len())
}

func TestGetByIDMalformedAndMissing(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	got, err := f.convs.GetByID(ctx, "xyz")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.convs.GetByID(ctx, models.NewID())
	require.NoError(t, err)
	assert.Nil(t, got)

	conv, _, err := f.convs.CreateSingle(ctx, f.a.ID, f.b.ID)
	require.NoError(t, err)
	got, err = f.convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Users, 2)
}

func TestListMessagesRequiresMembership(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	conv, _, err := f.convs.CreateSingle(ctx, f.a.ID, f.b.ID)
	require.NoError(t, err)

	_, err = f.convs.ListMessages(ctx, conv.ID, f.c.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.convs.ListMessages(ctx, models.NewID(), f.a.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	msgs, err := f.convs.ListMessages(ctx, conv.ID, f.b.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListForUserPersistenceError(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	svc := NewConversationService(nil, convs, nil, false)
	convs.On("ListForUser", mock.Anything, "u1").Return(nil, assert.AnError).Once()

	_, err := svc.ListForUser(context.Background(), "u1")
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.ErrorIs(t, err, assert.AnError)
}
