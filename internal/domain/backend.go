package domain

import (
	"context"
	"fmt"
)

// Generator produces free-form text from a system instruction and a user
// prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Transcriber converts audio bytes to text. filename and contentType
// describe the upload; language is an optional ISO-639-1 hint ("" = auto).
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, contentType, language string) (string, error)
}

// Synthesizer converts text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Retriever answers from a pre-indexed document store. It returns an empty
// string when it has nothing confident to say.
type Retriever interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Messenger sends outbound messages through the channel.
type Messenger interface {
	SendText(ctx context.Context, to, text string) error
	SendAudioByURL(ctx context.Context, to, url string) error
}

// MediaDownloader resolves a channel media reference into raw bytes and
// the content type reported by the channel ("" when unknown).
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// UpstreamError is a non-success response from a backend collaborator.
// Synchronous endpoints map it to a gateway error; the background webhook
// path logs and swallows it.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream %d: %s", e.Service, e.StatusCode, e.Body)
}
