// Package parser extracts normalized inbound messages from WhatsApp Cloud
// API webhook envelopes.
package parser

import (
	"encoding/json"
	"strings"

	"voicebot/internal/domain"
)

// Envelope mirrors the nested WhatsApp Business Cloud API event payload:
// entry -> changes -> value -> messages. Status-only callbacks carry no
// messages at all.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value Value  `json:"value"`
	Field string `json:"field"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Messages         []Message `json:"messages"`
}

type Metadata struct {
	PhoneNumberID string `json:"phone_number_id"`
}

type Message struct {
	From  string `json:"from"`
	ID    string `json:"id"`
	Type  string `json:"type"`
	Text  *Text  `json:"text,omitempty"`
	Audio *Audio `json:"audio,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Audio struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

// Parse extracts the first supported message from a raw webhook envelope.
// Malformed JSON, status-only callbacks, messages without a sender, blank
// text bodies, audio without a media id, and unsupported message types all
// yield (nil, false). It never fails loudly: a partial envelope is simply
// nothing to do.
func Parse(raw []byte) (*domain.InboundMessage, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if m, ok := normalize(msg); ok {
					return m, true
				}
			}
		}
	}
	return nil, false
}

func normalize(msg Message) (*domain.InboundMessage, bool) {
	if msg.From == "" {
		return nil, false
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil || strings.TrimSpace(msg.Text.Body) == "" {
			return nil, false
		}
		return &domain.InboundMessage{
			Sender: msg.From,
			Kind:   domain.KindText,
			Text:   msg.Text.Body,
		}, true

	case "audio":
		if msg.Audio == nil || msg.Audio.ID == "" {
			return nil, false
		}
		return &domain.InboundMessage{
			Sender: msg.From,
			Kind:   domain.KindAudio,
			Media: domain.MediaReference{
				ID:       msg.Audio.ID,
				MimeHint: msg.Audio.MimeType,
			},
		}, true
	}

	// Other kinds (image, location, reactions, ...) are dropped silently.
	return nil, false
}
