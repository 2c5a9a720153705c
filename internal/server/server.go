// Package server exposes the relay's HTTP surface: synchronous text/audio
// query endpoints, the media-serving endpoint backed by the cache, the
// WhatsApp webhook pair, and operational helpers.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voicebot/internal/config"
	"voicebot/internal/dispatch"
	"voicebot/internal/domain"
	"voicebot/internal/mediacache"
	"voicebot/internal/metrics"
	"voicebot/internal/resolver"
	"voicebot/internal/task"
)

const (
	maxBodySize       = 25 << 20 // matches the channel's largest audio payloads
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 5 * time.Second
)

//go:embed ui.html
var uiFS embed.FS

// TokenDebugger validates the channel access token (Graph /debug_token).
type TokenDebugger interface {
	DebugToken(ctx context.Context) (map[string]any, error)
}

// Server wires every component behind the HTTP mux. All state is carried
// here explicitly; there are no package-level globals.
type Server struct {
	cfg         *config.Config
	resolver    *resolver.Resolver
	dispatcher  *dispatch.Dispatcher
	cache       *mediacache.Cache
	transcriber domain.Transcriber
	synthesizer domain.Synthesizer
	downloader  domain.MediaDownloader
	debugger    TokenDebugger
	spawner     task.Spawner
	collector   *metrics.Collector
	audioType   string
	logger      *slog.Logger
	mux         *http.ServeMux
	httpServer  *http.Server

	eventsTotal  *metrics.Counter
	messagesIn   *metrics.Counter
	repliesOut   *metrics.Counter
	cacheEntries *metrics.Gauge
}

type Config struct {
	Config      *config.Config
	Resolver    *resolver.Resolver
	Dispatcher  *dispatch.Dispatcher
	Cache       *mediacache.Cache
	Transcriber domain.Transcriber
	Synthesizer domain.Synthesizer
	Downloader  domain.MediaDownloader
	Debugger    TokenDebugger
	Spawner     task.Spawner
	Collector   *metrics.Collector
	AudioType   string // content type of synthesized audio
	Logger      *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Collector == nil {
		cfg.Collector = metrics.NewCollector()
	}
	if cfg.AudioType == "" {
		cfg.AudioType = "audio/mpeg"
	}

	s := &Server{
		cfg:         cfg.Config,
		resolver:    cfg.Resolver,
		dispatcher:  cfg.Dispatcher,
		cache:       cfg.Cache,
		transcriber: cfg.Transcriber,
		synthesizer: cfg.Synthesizer,
		downloader:  cfg.Downloader,
		debugger:    cfg.Debugger,
		spawner:     cfg.Spawner,
		collector:   cfg.Collector,
		audioType:   cfg.AudioType,
		logger:      cfg.Logger,
	}

	s.eventsTotal = s.collector.Counter("voicebot_webhook_events_total", "Webhook event deliveries received.")
	s.messagesIn = s.collector.Counter("voicebot_messages_total", "Inbound messages parsed from webhook events.")
	s.repliesOut = s.collector.Counter("voicebot_replies_total", "Replies delivered back to the channel.")
	s.cacheEntries = s.collector.Gauge("voicebot_media_cache_entries", "Entries currently in the media cache.")

	s.routes()
	return s
}

func (s *Server) routes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleUI)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /text", s.handleText)
	mux.HandleFunc("POST /audio", s.handleAudio)
	mux.HandleFunc("GET /media/{id}", s.handleMedia)
	mux.HandleFunc("GET /webhook", s.handleVerification)
	mux.HandleFunc("POST /webhook", s.handleEvent)
	mux.HandleFunc("GET /whatsapp/diagnose", s.handleDiagnose)
	mux.HandleFunc("POST /whatsapp/push", s.handlePush)

	if s.cfg.Metrics.Enabled {
		endpoint := s.cfg.Metrics.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		mux.Handle("GET "+endpoint, s.collector.Handler())
	}

	s.mux = mux
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	page, err := uiFS.ReadFile("ui.html")
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "Missing text")
		return
	}

	answer, err := s.resolver.Resolve(r.Context(), text)
	if err != nil {
		s.writeUpstreamError(w, "resolve failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": answer})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBodySize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing audio file")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxBodySize))
	if err != nil || len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "Missing audio file")
		return
	}

	ctx := r.Context()
	transcript, err := s.transcriber.Transcribe(ctx, audio, header.Filename, header.Header.Get("Content-Type"), "")
	if err != nil {
		s.writeUpstreamError(w, "transcription failed", err)
		return
	}

	answer, err := s.resolver.Resolve(ctx, transcript)
	if err != nil {
		s.writeUpstreamError(w, "resolve failed", err)
		return
	}

	speech, err := s.synthesizer.Synthesize(ctx, answer)
	if err != nil {
		s.writeUpstreamError(w, "synthesis failed", err)
		return
	}

	w.Header().Set("Content-Type", s.audioType)
	w.Write(speech)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := s.cache.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	wa := s.cfg.WhatsApp
	report := map[string]any{
		"has_access_token":       wa.AccessToken != "",
		"has_phone_number_id":    wa.PhoneNumberID != "",
		"has_verify_token":       wa.VerifyToken != "",
		"has_public_base_url":    s.cfg.Server.PublicBaseURL != "",
		"has_app_id":             wa.AppID != "",
		"has_app_secret":         wa.AppSecret != "",
		"has_recipient_override": wa.RecipientOverride != "",
		"version":                wa.APIVersion,
	}

	if r.URL.Query().Get("check_token") == "true" {
		if s.debugger == nil {
			report["token_debug_error"] = "channel client not configured"
		} else if debug, err := s.debugger.DebugToken(r.Context()); err != nil {
			report["token_debug_error"] = err.Error()
		} else {
			report["token_debug"] = debug
		}
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
		To   string `json:"to"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "Missing text")
		return
	}
	recipient := strings.TrimSpace(payload.To)
	if recipient == "" {
		recipient = s.cfg.WhatsApp.RecipientOverride
	}
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "Missing 'to' and no recipient override configured")
		return
	}

	if err := s.dispatcher.DeliverText(r.Context(), recipient, text); err != nil {
		s.writeUpstreamError(w, "push failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "err", err)

	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("%s: %s upstream returned %d", msg, ue.Service, ue.StatusCode))
		return
	}
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
