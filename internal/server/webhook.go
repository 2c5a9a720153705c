package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"voicebot/internal/domain"
	"voicebot/internal/parser"
)

// handleVerification answers the channel's subscription handshake. The
// challenge is echoed back verbatim only when the mode and token both
// match; every other combination gets a bare 403 with no detail.
func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	// An unconfigured verify token must never match: otherwise an empty
	// hub.verify_token would pass the comparison.
	configured := s.cfg.WhatsApp.VerifyToken
	if configured != "" && mode == "subscribe" && token == configured && challenge != "" {
		s.logger.Info("webhook verified")
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge))
		return
	}

	s.logger.Warn("webhook verification rejected", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// handleEvent acknowledges every delivery immediately and hands the real
// work to a background task, so the channel never retries on our latency.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		// Nothing to verify or process; ack so the channel does not retry.
		s.logger.Warn("webhook body read failed", "err", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if secret := s.cfg.WhatsApp.AppSecret; secret != "" {
		if !validSignature(body, r.Header.Get("X-Hub-Signature-256"), secret) {
			s.logger.Warn("webhook signature rejected")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	s.eventsTotal.Inc()

	msg, ok := parser.Parse(body)
	if !ok {
		s.logger.Debug("webhook event carried no processable message")
		return
	}
	s.messagesIn.Inc()

	s.spawner.Spawn("webhook-message", func(ctx context.Context) error {
		return s.processMessage(ctx, msg)
	})
}

func validSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(sig))
}

// processMessage runs the full inbound pipeline for one message: optional
// transcription, answer resolution, then dual-modality delivery.
func (s *Server) processMessage(ctx context.Context, msg *domain.InboundMessage) error {
	recipient := msg.Sender
	if override := s.cfg.WhatsApp.RecipientOverride; override != "" {
		recipient = override
	}

	question := msg.Text
	if msg.Kind == domain.KindAudio {
		transcript, err := s.transcribe(ctx, msg.Media)
		if err != nil {
			return fmt.Errorf("transcribe inbound audio: %w", err)
		}
		question = transcript
	}

	answer, err := s.resolver.Resolve(ctx, question)
	if err != nil {
		return fmt.Errorf("resolve answer: %w", err)
	}

	return s.respond(ctx, recipient, answer)
}

func (s *Server) transcribe(ctx context.Context, media domain.MediaReference) (string, error) {
	audio, contentType, err := s.downloader.DownloadMedia(ctx, media.ID)
	if err != nil {
		return "", fmt.Errorf("download media %s: %w", media.ID, err)
	}
	if contentType == "" {
		contentType = media.MimeHint
	}
	return s.transcriber.Transcribe(ctx, audio, "voice-note.ogg", contentType, "")
}

// respond sends the text reply first, then best-effort synthesizes and
// sends the spoken version. A synthesis or audio delivery failure is
// logged but does not undo the already-delivered text.
func (s *Server) respond(ctx context.Context, recipient, answer string) error {
	if err := s.dispatcher.DeliverText(ctx, recipient, answer); err != nil {
		return fmt.Errorf("deliver text reply: %w", err)
	}
	s.repliesOut.Inc()

	speech, err := s.synthesizer.Synthesize(ctx, answer)
	if err != nil {
		s.logger.Error("speech synthesis failed", "err", err)
		return nil
	}
	if err := s.dispatcher.DeliverAudio(ctx, recipient, speech, s.audioType); err != nil {
		s.logger.Error("audio delivery failed", "err", err)
		return nil
	}
	s.repliesOut.Inc()
	s.cacheEntries.Set(int64(s.cache.Len()))
	return nil
}
