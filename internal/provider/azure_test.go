package provider

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

func newTestAzure(srvURL string) *Azure {
	return NewAzure(AzureConfig{
		Endpoint:      srvURL,
		APIKey:        "test-key",
		GPTDeployment: "gpt-4o",
		STTDeployment: "whisper",
		TTSDeployment: "tts",
	})
}

func TestGenerate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"the answer"}}]}`))
	}))
	defer srv.Close()

	a := newTestAzure(srv.URL)
	got, err := a.Generate(context.Background(), "be concise", "what is X?")
	require.NoError(t, err)

	assert.Equal(t, "the answer", got)
	assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "be concise", gotBody.Messages[0].Content)
	assert.Equal(t, "what is X?", gotBody.Messages[1].Content)
	assert.InDelta(t, 0.3, gotBody.Temperature, 1e-9)
}

func TestGenerate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	got, err := newTestAzure(srv.URL).Generate(context.Background(), "s", "p")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestAzure(srv.URL).Generate(context.Background(), "s", "p")
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "azure-gpt", ue.Service)
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
	assert.Contains(t, ue.Body, "quota exceeded")
}

func TestTranscribe_MultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "voice.ogg", header.Filename)
		assert.Equal(t, "audio/ogg", header.Header.Get("Content-Type"))
		assert.Equal(t, "ur", r.FormValue("language"))
		assert.Equal(t, "/openai/deployments/whisper/audio/transcriptions", r.URL.Path)

		w.Write([]byte(`{"text":"  hello world "}`))
	}))
	defer srv.Close()

	got, err := newTestAzure(srv.URL).Transcribe(context.Background(),
		[]byte("fake-ogg"), "voice.ogg", "audio/ogg", "ur")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got, "transcript should be trimmed")
}

func TestTranscribe_AutoLanguageOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, present := r.MultipartForm.Value["language"]
		assert.False(t, present, "auto language must not be sent")
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	_, err := newTestAzure(srv.URL).Transcribe(context.Background(),
		[]byte("fake"), "voice.ogg", "audio/ogg", "auto")
	require.NoError(t, err)
}

func TestSynthesize(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "/openai/deployments/tts/audio/speech", r.URL.Path)
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	got, err := newTestAzure(srv.URL).Synthesize(context.Background(), "say this")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), got)
	assert.Equal(t, "say this", gotBody["input"])
	assert.Equal(t, "tts", gotBody["model"])
	assert.Equal(t, "alloy", gotBody["voice"])
	assert.Equal(t, "mp3", gotBody["format"])
}

func TestSynthesize_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestAzure(srv.URL).Synthesize(context.Background(), "x")
	var ue *domain.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "azure-tts", ue.Service)
}

func TestAudioContentType(t *testing.T) {
	cases := map[string]string{
		"mp3":        "audio/mpeg",
		"MPEG":       "audio/mpeg",
		"audio/mpeg": "audio/mpeg",
		"opus":       "audio/ogg",
		"ogg":        "audio/ogg",
	}
	for format, want := range cases {
		a := NewAzure(AzureConfig{TTSFormat: format})
		assert.Equal(t, want, a.AudioContentType(), "format %q", format)
	}
}
