package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicebot/internal/domain"
)

func newTestClient(srvURL string) *Client {
	return NewClient(Config{
		APIBase:       srvURL,
		APIVersion:    "v21.0",
		AccessToken:   "token-123",
		PhoneNumberID: "555000",
		AppID:         "app-1",
		AppSecret:     "secret-1",
	})
}

func TestSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendText(context.Background(), "15551234567", "hello")
	require.NoError(t, err)

	assert.Equal(t, "/v21.0/555000/messages", gotPath)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "whatsapp", gotPayload["messaging_product"])
	assert.Equal(t, "text", gotPayload["type"])
	assert.Equal(t, "15551234567", gotPayload["to"])
	text := gotPayload["text"].(map[string]any)
	assert.Equal(t, "hello", text["body"])
}

func TestSendAudioByURL(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendAudioByURL(context.Background(),
		"15551234567", "https://bot.example.com/media/abc123")
	require.NoError(t, err)

	assert.Equal(t, "audio", gotPayload["type"])
	audio := gotPayload["audio"].(map[string]any)
	assert.Equal(t, "https://bot.example.com/media/abc123", audio["link"])
}

func TestSend_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendText(context.Background(), "1555", "hi")
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "whatsapp", ue.Service)
	assert.Equal(t, http.StatusUnauthorized, ue.StatusCode)
	assert.Contains(t, ue.Body, "invalid token")
}

func TestDownloadMedia_TwoStep(t *testing.T) {
	var metaAuth, fileAuth string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("GET /v21.0/media-42", func(w http.ResponseWriter, r *http.Request) {
		metaAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{
			"url":       srv.URL + "/files/media-42",
			"mime_type": "audio/ogg",
		})
	})
	mux.HandleFunc("GET /files/media-42", func(w http.ResponseWriter, r *http.Request) {
		fileAuth = r.Header.Get("Authorization")
		w.Write([]byte("ogg-bytes"))
	})

	data, contentType, err := newTestClient(srv.URL).DownloadMedia(context.Background(), "media-42")
	require.NoError(t, err)
	assert.Equal(t, []byte("ogg-bytes"), data)
	assert.Equal(t, "audio/ogg", contentType)
	assert.Equal(t, "Bearer token-123", metaAuth, "metadata request must carry the token")
	assert.Equal(t, "Bearer token-123", fileAuth, "file request must carry the token")
}

func TestDownloadMedia_MissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"mime_type":"audio/ogg"}`))
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv.URL).DownloadMedia(context.Background(), "media-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing url")
}

func TestDebugToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/debug_token", r.URL.Path)
		assert.Equal(t, "token-123", r.URL.Query().Get("input_token"))
		assert.Equal(t, "app-1|secret-1", r.URL.Query().Get("access_token"))
		w.Write([]byte(`{"data":{"is_valid":true}}`))
	}))
	defer srv.Close()

	report, err := newTestClient(srv.URL).DebugToken(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report, "data")
}

func TestDebugToken_RequiresAppCredentials(t *testing.T) {
	c := NewClient(Config{AccessToken: "t"})
	_, err := c.DebugToken(context.Background())
	require.Error(t, err)
}
