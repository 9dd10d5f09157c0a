package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/generator"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/repository"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/service"
	"github.com/weiawesome/wes-edu-relay/pkg/chatclient"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"github.com/weiawesome/wes-edu-relay/pkg/response"
)

func newRouter(svc service.HistoryService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHTTPHandler(svc).RegisterRoutes(r)
	return r
}

func newMemoryService() service.HistoryService {
	return service.NewHistoryService(repository.NewMemoryMessageRepository(), nil, 0, generator.NewULID(), 100)
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestAppendMessageEndpoint(t *testing.T) {
	r := newRouter(newMemoryService())

	body := `{"text":"see you at pickup","sender":"parent","teacherId":"t1","parentId":"p1","timestamp":1700000000000}`
	w, resp := do(t, r, http.MethodPost, "/api/v1/messages", body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var msg protocol.ChatMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, "see you at pickup", msg.Text)

	// Replaying with the assigned id is accepted without a new copy.
	retry, err := json.Marshal(msg)
	require.NoError(t, err)
	w, resp = do(t, r, http.MethodPost, "/api/v1/messages", string(retry))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = do(t, r, http.MethodGet, "/api/v1/conversations/t1/p1/messages", "")
	assert.Equal(t, http.StatusOK, w.Code)
	data, err = json.Marshal(resp.Data)
	require.NoError(t, err)
	var history domain.HistoryResponse
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.Messages, 1)
	assert.False(t, history.Messages[0].Read)
	assert.Equal(t, "t1", history.Messages[0].OwnerID)

	w, resp = do(t, r, http.MethodPost, "/api/v1/conversations/t1/p1/read", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"updated": float64(1)}, resp.Data)
}

func TestAppendMessageRejectsBadInput(t *testing.T) {
	r := newRouter(newMemoryService())

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"not json", `{"text":`, "invalid request body"},
		{"blank text", `{"text":" ","sender":"teacher","teacherId":"t1","parentId":"p1"}`, "text"},
		{"bad sender", `{"text":"hi","sender":"admin","teacherId":"t1","parentId":"p1"}`, "sender"},
		{"self conversation", `{"text":"hi","sender":"teacher","teacherId":"t1","parentId":"t1"}`, "parentId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, r, http.MethodPost, "/api/v1/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.message)
		})
	}
}

type failingService struct{}

func (failingService) Append(context.Context, domain.AppendRequest) (protocol.ChatMessage, bool, error) {
	return protocol.ChatMessage{}, false, errors.New("disk full")
}

func (failingService) History(context.Context, string, string) ([]domain.Message, error) {
	return nil, errors.New("disk full")
}

func (failingService) MarkRead(context.Context, string, string) (int64, error) {
	return 0, errors.New("disk full")
}

func TestEndpointsReportInternalErrors(t *testing.T) {
	r := newRouter(failingService{})

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/v1/messages", `{"text":"hi","sender":"teacher","teacherId":"t1","parentId":"p1"}`},
		{http.MethodGet, "/api/v1/conversations/t1/p1/messages", ""},
		{http.MethodPost, "/api/v1/conversations/t1/p1/read", ""},
	} {
		w, resp := do(t, r, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusInternalServerError, w.Code, tc.path)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
		assert.NotContains(t, resp.Error.Message, "disk full")
	}
}

func TestHistoryClientAgainstService(t *testing.T) {
	server := httptest.NewServer(newRouter(newMemoryService()))
	defer server.Close()

	client := chatclient.NewHistoryClient(server.URL, time.Second)
	ctx := context.Background()

	sent := protocol.NewChat(protocol.RoleTeacher, "t1", "p1", "field trip monday", time.UnixMilli(1_700_000_000_000))
	stored, err := client.Append(ctx, sent)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.MessageID)

	history, err := client.History(ctx, "p1", "t1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, stored.MessageID, history[0].MessageID)
	assert.Equal(t, sent.Text, history[0].Text)

	require.NoError(t, client.MarkRead(ctx, "p1", "t1"))

	_, err = client.Append(ctx, protocol.NewChat(protocol.RoleTeacher, "t1", "t1", "self", time.Now()))
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	r := newRouter(newMemoryService())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
