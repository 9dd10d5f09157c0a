package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

func writeEnvelope(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestHistoryClient(t *testing.T) {
	stored := protocol.NewChat(protocol.RoleTeacher, "t1", "p1", "hello", time.UnixMilli(1000))
	stored.MessageID = "01HZX"

	var reads []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var msg protocol.ChatMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		msg.MessageID = stored.MessageID
		writeEnvelope(w, http.StatusCreated, map[string]interface{}{"success": true, "data": msg})
	})
	mux.HandleFunc("/api/v1/conversations/t1/p1/messages", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"messages": []protocol.ChatMessage{stored}},
		})
	})
	mux.HandleFunc("/api/v1/conversations/t1/p1/read", func(w http.ResponseWriter, r *http.Request) {
		reads = append(reads, r.Method)
		writeEnvelope(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]int{"updated": 1}})
	})
	mux.HandleFunc("/api/v1/conversations/t1/missing/messages", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   map[string]string{"code": "BAD_REQUEST", "message": "unknown partner"},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewHistoryClient(server.URL+"/", time.Second)
	ctx := context.Background()

	t.Run("append returns assigned id", func(t *testing.T) {
		msg := stored
		msg.MessageID = ""
		got, err := client.Append(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, stored, got)
	})

	t.Run("history decodes messages", func(t *testing.T) {
		got, err := client.History(ctx, "t1", "p1")
		require.NoError(t, err)
		assert.Equal(t, []protocol.ChatMessage{stored}, got)
	})

	t.Run("mark read posts", func(t *testing.T) {
		require.NoError(t, client.MarkRead(ctx, "t1", "p1"))
		assert.Equal(t, []string{http.MethodPost}, reads)
	})

	t.Run("error envelope", func(t *testing.T) {
		_, err := client.History(ctx, "t1", "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BAD_REQUEST")
		assert.Contains(t, err.Error(), "unknown partner")
	})

	t.Run("non json response", func(t *testing.T) {
		_, err := client.History(ctx, "t1", "nobody")
		require.Error(t, err)
	})
}

func TestHistoryClientUnreachable(t *testing.T) {
	client := NewHistoryClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := client.History(context.Background(), "t1", "p1")
	assert.Error(t, err)
}
