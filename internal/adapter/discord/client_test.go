package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody createMessageRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(Message{ID: "msg-1", ChannelID: "chan-1"})
	}))
	defer server.Close()

	client := NewRestWithBase("tok", server.URL)
	msg, err := client.CreateMessage(context.Background(), "chan-1", "", Embed{Title: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, "/channels/chan-1/messages", gotPath)
	assert.Equal(t, "Bot tok", gotAuth)
	require.Len(t, gotBody.Embeds, 1)
	assert.Equal(t, "hi", gotBody.Embeds[0].Title)
	assert.Nil(t, gotBody.MessageReference)
}

func TestCreateReply(t *testing.T) {
	var gotBody createMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(Message{ID: "msg-2"})
	}))
	defer server.Close()

	client := NewRestWithBase("tok", server.URL)
	_, err := client.CreateReply(context.Background(), "chan-1", "msg-1", "text")
	require.NoError(t, err)
	require.NotNil(t, gotBody.MessageReference)
	assert.Equal(t, "msg-1", gotBody.MessageReference.MessageID)
}

func TestCreateReaction(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewRestWithBase("tok", server.URL)
	require.NoError(t, client.CreateReaction(context.Background(), "chan-1", "msg-1", "🇦"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/channels/chan-1/messages/msg-1/reactions/%F0%9F%87%A6/@me", gotPath)
}

func TestErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Missing Access"}`, http.StatusForbidden)
	}))
	defer server.Close()

	client := NewRestWithBase("tok", server.URL)
	_, err := client.CreateMessage(context.Background(), "chan-1", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "Missing Access")
}

func TestRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewRestWithBase("tok", server.URL)
	_, err := client.CreateMessage(context.Background(), "chan-1", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
