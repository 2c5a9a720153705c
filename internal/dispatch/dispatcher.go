// Package dispatch sends resolved answers back through the channel, as text
// or as audio served by reference from the media cache.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"voicebot/internal/domain"
	"voicebot/internal/mediacache"
)

// Dispatcher delivers replies. Audio is never sent inline: the bytes are
// published into the media cache and the channel receives a fetchable URL.
type Dispatcher struct {
	messenger domain.Messenger
	cache     *mediacache.Cache
	baseURL   string
	logger    *slog.Logger
}

type Config struct {
	Messenger domain.Messenger
	Cache     *mediacache.Cache
	BaseURL   string // public base URL the channel can reach, no trailing slash
	Logger    *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		messenger: cfg.Messenger,
		cache:     cfg.Cache,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		logger:    cfg.Logger,
	}
}

// DeliverText sends text to the recipient.
func (d *Dispatcher) DeliverText(ctx context.Context, to, text string) error {
	if err := d.messenger.SendText(ctx, to, text); err != nil {
		return fmt.Errorf("deliver text: %w", err)
	}
	d.logger.Info("text delivered", "to", to, "len", len(text))
	return nil
}

// DeliverAudio publishes audio into the media cache and sends the recipient
// an audio attachment referencing the cache URL.
func (d *Dispatcher) DeliverAudio(ctx context.Context, to string, audio []byte, contentType string) error {
	if d.baseURL == "" {
		return fmt.Errorf("deliver audio: public base URL not configured")
	}

	id := d.cache.Put(audio, contentType)
	mediaURL := d.baseURL + "/media/" + id

	if err := d.messenger.SendAudioByURL(ctx, to, mediaURL); err != nil {
		return fmt.Errorf("deliver audio: %w", err)
	}
	d.logger.Info("audio delivered", "to", to, "bytes", len(audio), "media_id", id)
	return nil
}
