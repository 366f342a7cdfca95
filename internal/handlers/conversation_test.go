package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chirpchat/internal/apperr"
	"chirpchat/internal/events"
	"chirpchat/internal/middleware"
	"chirpchat/internal/models"
	"chirpchat/internal/outbox"
)

const testUserID = "aaaaaaaaaaaaaaaaaaaaaaaa"

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, testUserID)
		c.Next()
	})
	r.POST("/api/conversations", handler.CreateConversation)
	r.GET("/api/conversations", handler.ListConversations)
	r.GET("/api/conversations/:conversation_id", handler.GetConversation)
	r.GET("/api/conversations/:conversation_id/messages", handler.ListMessages)
	return r
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSingleConversationDispatchesAfterResponse(t *testing.T) {
	svc := new(conversationServiceMock)
	disp := new(dispatcherMock)
	auditor := new(auditorMock)
	router := setupConversationRouter(NewConversationHandler(svc, disp, auditor, zerolog.Nop()))

	conv := models.Conversation{ID: "c1", UserIDs: []string{testUserID, "bbbbbbbbbbbbbbbbbbbbbbbb"}}
	var batch outbox.Batch
	batch.Add("a@x.com", events.ConversationNew{Conversation: conv})
	svc.On("CreateSingle", mock.Anything, testUserID, "bbbbbbbbbbbbbbbbbbbbbbbb").Return(conv, batch, nil).Once()
	disp.On("Go", batch).Once()
	auditor.On("Emit", mock.Anything, "INFO", "conversation created", mock.Anything, testUserID).Once()

	rec := doJSON(router, http.MethodPost, "/api/conversations", `{"userId":"bbbbbbbbbbbbbbbbbbbbbbbb"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Conversation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "c1", got.ID)
	svc.AssertExpectations(t)
	disp.AssertExpectations(t)
	auditor.AssertExpectations(t)
}

func TestCreateGroupConversation(t *testing.T) {
	svc := new(conversationServiceMock)
	disp := new(dispatcherMock)
	router := setupConversationRouter(NewConversationHandler(svc, disp, nil, zerolog.Nop()))

	conv := models.Conversation{ID: "g1", IsGroup: true, Name: "team"}
	svc.On("CreateGroup", mock.Anything, testUserID, []string{"b", "c"}, "team").Return(conv, outbox.Batch{}, nil).Once()
	disp.On("Go", outbox.Batch{}).Once()

	rec := doJSON(router, http.MethodPost, "/api/conversations", `{"isGroup":true,"members":[{"value":"b"},{"value":"c"}],"name":"team"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
	disp.AssertExpectations(t)
}

func TestCreateConversationErrorStatuses(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"validation":  {apperr.Validation("a group needs at least 2 members and a name"), http.StatusBadRequest},
		"not found":   {apperr.NotFound("user x"), http.StatusNotFound},
		"persistence": {apperr.Persistence("create", assert.AnError), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := new(conversationServiceMock)
			disp := new(dispatcherMock)
			router := setupConversationRouter(NewConversationHandler(svc, disp, nil, zerolog.Nop()))
			svc.On("CreateGroup", mock.Anything, testUserID, []string{"b"}, "").Return(models.Conversation{}, outbox.Batch{}, tc.err).Once()

			rec := doJSON(router, http.MethodPost, "/api/conversations", `{"isGroup":true,"members":[{"value":"b"}]}`)

			assert.Equal(t, tc.status, rec.Code)
			disp.AssertNotCalled(t, "Go", mock.Anything)
		})
	}
}

func TestCreateConversationBadBody(t *testing.T) {
	router := setupConversationRouter(NewConversationHandler(new(conversationServiceMock), new(dispatcherMock), nil, zerolog.Nop()))
	rec := doJSON(router, http.MethodPost, "/api/conversations", `{"userId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversation(t *testing.T) {
	svc := new(conversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(svc, new(dispatcherMock), nil, zerolog.Nop()))

	mine := &models.Conversation{ID: "c1", UserIDs: []string{testUserID}}
	other := &models.Conversation{ID: "c2", UserIDs: []string{"someone"}}
	svc.On("GetByID", mock.Anything, "c1").Return(mine, nil).Once()
	svc.On("GetByID", mock.Anything, "c2").Return(other, nil).Once()
	svc.On("GetByID", mock.Anything, "garbage").Return(nil, nil).Once()

	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/api/conversations/c1", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, "/api/conversations/c2", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, "/api/conversations/garbage", "").Code)
	svc.AssertExpectations(t)
}

func TestListConversationsAndMessages(t *testing.T) {
	svc := new(conversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(svc, new(dispatcherMock), nil, zerolog.Nop()))

	svc.On("ListForUser", mock.Anything, testUserID).Return([]models.Conversation{{ID: "c1"}}, nil).Once()
	svc.On("ListMessages", mock.Anything, "c1", testUserID).Return([]models.Message{{ID: "m1"}}, nil).Once()
	svc.On("ListMessages", mock.Anything, "c2", testUserID).Return(nil, apperr.Forbidden("not a member")).Once()

	rec := doJSON(router, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var convs []models.Conversation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&convs))
	assert.Len(t, convs, 1)

	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/api/conversations/c1/messages", "").Code)
	assert.Equal(t, http.StatusForbidden, doJSON(router, http.MethodGet, "/api/conversations/c2/messages", "").Code)
	svc.AssertExpectations(t)
}
