package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicebot/internal/config"
	"voicebot/internal/resolver"
)

func textEvent(sender, body string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "entry-1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"messages": [{"from": %q, "id": "wamid.1", "type": "text", "text": {"body": %q}}]
		}}]}]
	}`, sender, body)
}

func audioEvent(sender, mediaID string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "entry-1", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"messages": [{"from": %q, "id": "wamid.2", "type": "audio", "audio": {"id": %q, "mime_type": "audio/ogg; codecs=opus"}}]
		}}]}]
	}`, sender, mediaID)
}

func TestVerification(t *testing.T) {
	cases := []struct {
		name      string
		mode      string
		token     string
		challenge string
		status    int
	}{
		{"valid handshake", "subscribe", "verify-secret", "12345", http.StatusOK},
		{"wrong token", "subscribe", "guess", "12345", http.StatusForbidden},
		{"wrong mode", "unsubscribe", "verify-secret", "12345", http.StatusForbidden},
		{"missing challenge", "subscribe", "verify-secret", "", http.StatusForbidden},
		{"no params at all", "", "", "", http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)

			q := url.Values{}
			q.Set("hub.mode", tc.mode)
			q.Set("hub.verify_token", tc.token)
			q.Set("hub.challenge", tc.challenge)
			rec := f.do(t, httptest.NewRequest(http.MethodGet, "/webhook?"+q.Encode(), nil))

			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.challenge, rec.Body.String())
			} else {
				assert.NotContains(t, rec.Body.String(), "verify-secret")
			}
		})
	}
}

func TestVerificationRejectedWhenTokenUnconfigured(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.WhatsApp.VerifyToken = ""
	})

	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", "")
	q.Set("hub.challenge", "12345")
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/webhook?"+q.Encode(), nil))

	assert.Equal(t, http.StatusForbidden, rec.Code,
		"empty configured token must not match an empty hub.verify_token")
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestEventAcksWhenBodyReadFails(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", brokenReader{})
	rec := f.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Empty(t, f.messenger.texts)
}

func TestEventAcksGarbage(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{"not json", "{}", `{"entry":[]}`, `{"entry":[{"changes":[{"value":{"statuses":[{"status":"delivered"}]}}]}]}`} {
		rec := f.do(t, postJSON("/webhook", body))
		require.Equal(t, http.StatusOK, rec.Code, "body %q", body)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	}

	assert.Zero(t, f.generator.calls)
	assert.Empty(t, f.messenger.texts)
}

func TestEventTextDeliversBothModalities(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, postJSON("/webhook", textEvent("15551112222", "what is the profit rate")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	require.Len(t, f.messenger.texts, 1)
	assert.Equal(t, "15551112222|generated answer", f.messenger.texts[0])

	require.Len(t, f.messenger.audios, 1)
	to, mediaURL, ok := strings.Cut(f.messenger.audios[0], "|")
	require.True(t, ok)
	assert.Equal(t, "15551112222", to)
	require.True(t, strings.HasPrefix(mediaURL, "https://bot.example.com/media/"), mediaURL)

	id := strings.TrimPrefix(mediaURL, "https://bot.example.com/media/")
	data, contentType, found := f.cache.Get(id)
	require.True(t, found)
	assert.Equal(t, []byte("mp3-bytes"), data)
	assert.Equal(t, "audio/mpeg", contentType)
}

func TestEventGreetingSkipsBackends(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, postJSON("/webhook", textEvent("15551112222", "salam")))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.messenger.texts, 1)
	assert.Equal(t, "15551112222|"+resolver.DefaultWelcome, f.messenger.texts[0])
	assert.Zero(t, f.generator.calls)
}

func TestEventAudioTranscribesThenAnswers(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, postJSON("/webhook", audioEvent("15551112222", "media-777")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "media-777", f.downloader.gotID)
	assert.Equal(t, []byte("ogg-bytes"), f.transcriber.gotAudio)
	assert.Equal(t, "audio/ogg", f.transcriber.gotType)
	require.Len(t, f.messenger.texts, 1)
	assert.Equal(t, "15551112222|generated answer", f.messenger.texts[0])
	require.Len(t, f.messenger.audios, 1)
}

func TestEventRecipientOverride(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.WhatsApp.RecipientOverride = "15559998888"
	})

	rec := f.do(t, postJSON("/webhook", textEvent("15551112222", "what is the profit rate")))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.messenger.texts, 1)
	assert.True(t, strings.HasPrefix(f.messenger.texts[0], "15559998888|"))
}

func TestEventSynthesisFailureStillDeliversText(t *testing.T) {
	f := newFixture(t, nil)
	f.synthesizer.err = fmt.Errorf("tts exploded")

	rec := f.do(t, postJSON("/webhook", textEvent("15551112222", "what is the profit rate")))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.messenger.texts, 1)
	assert.Empty(t, f.messenger.audios)
}

func TestEventDeliveryFailureStillAcks(t *testing.T) {
	f := newFixture(t, nil)
	f.messenger.err = fmt.Errorf("send failed")

	rec := f.do(t, postJSON("/webhook", textEvent("15551112222", "what is the profit rate")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestEventSignatureEnforcedWhenSecretSet(t *testing.T) {
	const secret = "app-secret"
	body := textEvent("15551112222", "what is the profit rate")

	t.Run("valid signature accepted", func(t *testing.T) {
		f := newFixture(t, func(cfg *config.Config) { cfg.WhatsApp.AppSecret = secret })

		req := postJSON("/webhook", body)
		req.Header.Set("X-Hub-Signature-256", sign(secret, body))
		rec := f.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.messenger.texts, 1)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		f := newFixture(t, func(cfg *config.Config) { cfg.WhatsApp.AppSecret = secret })

		req := postJSON("/webhook", body)
		req.Header.Set("X-Hub-Signature-256", sign("other-secret", body))
		rec := f.do(t, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, f.messenger.texts)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		f := newFixture(t, func(cfg *config.Config) { cfg.WhatsApp.AppSecret = secret })

		rec := f.do(t, postJSON("/webhook", body))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("no secret means no check", func(t *testing.T) {
		f := newFixture(t, nil)

		rec := f.do(t, postJSON("/webhook", body))

		require.Equal(t, http.StatusOK, rec.Code)
	})
}
