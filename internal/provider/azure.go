// Package provider implements the Azure OpenAI backends: chat completions
// for text generation, Whisper transcription, and speech synthesis.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"voicebot/internal/domain"
)

const (
	defaultAPIVersion = "2025-04-01-preview"
	chatTimeout       = 120 * time.Second
	audioTimeout      = 300 * time.Second
)

// Azure calls Azure OpenAI deployments over REST. Each capability maps to a
// deployment name: GPT for chat, STT for transcription, TTS for synthesis.
type Azure struct {
	endpoint      string
	apiKey        string
	apiVersion    string
	gptDeployment string
	sttDeployment string
	ttsDeployment string
	ttsVoice      string
	ttsFormat     string
	sttLanguage   string
	chatClient    *http.Client
	audioClient   *http.Client
	logger        *slog.Logger
}

type AzureConfig struct {
	Endpoint      string // e.g. https://myresource.openai.azure.com
	APIKey        string
	APIVersion    string
	GPTDeployment string
	STTDeployment string
	TTSDeployment string
	TTSVoice      string // default "alloy"
	TTSFormat     string // default "mp3"
	STTLanguage   string // ISO-639-1 hint; "" or "auto" = autodetect
	Logger        *slog.Logger
}

func NewAzure(cfg AzureConfig) *Azure {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.TTSVoice == "" {
		cfg.TTSVoice = "alloy"
	}
	if cfg.TTSFormat == "" {
		cfg.TTSFormat = "mp3"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Azure{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:        cfg.APIKey,
		apiVersion:    cfg.APIVersion,
		gptDeployment: cfg.GPTDeployment,
		sttDeployment: cfg.STTDeployment,
		ttsDeployment: cfg.TTSDeployment,
		ttsVoice:      cfg.TTSVoice,
		ttsFormat:     cfg.TTSFormat,
		sttLanguage:   cfg.STTLanguage,
		chatClient:    newHTTPClient(chatTimeout),
		audioClient:   newHTTPClient(audioTimeout),
		logger:        cfg.Logger,
	}
}

// AudioContentType reports the MIME type of synthesized audio given the
// configured output format.
func (a *Azure) AudioContentType() string {
	switch strings.ToLower(a.ttsFormat) {
	case "mp3", "mpeg", "audio/mpeg":
		return "audio/mpeg"
	default:
		return "audio/ogg"
	}
}

func (a *Azure) deploymentURL(deployment, operation string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
		a.endpoint, url.PathEscape(deployment), operation, url.QueryEscape(a.apiVersion))
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate runs a chat completion against the GPT deployment and returns
// the raw assistant text (untrimmed, possibly empty).
func (a *Azure) Generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.deploymentURL(a.gptDeployment, "chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.chatClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", upstream("azure-gpt", resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// Transcribe sends audio to the Whisper deployment as a multipart upload.
// The language field is attached only when a concrete hint is configured or
// passed in; "auto" means let the model detect it.
func (a *Azure) Transcribe(ctx context.Context, audio []byte, filename, contentType, language string) (string, error) {
	if filename == "" {
		filename = "audio"
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}

	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = strings.ToLower(strings.TrimSpace(a.sttLanguage))
	}
	if lang != "" && lang != "auto" {
		writer.WriteField("language", lang)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.deploymentURL(a.sttDeployment, "audio/transcriptions"), &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.audioClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", upstream("azure-stt", resp)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}

	text := strings.TrimSpace(parsed.Text)
	a.logger.Info("transcription complete", "text_len", len(text))
	return text, nil
}

// Synthesize converts text to audio through the TTS deployment and returns
// the raw audio bytes in the configured format.
func (a *Azure) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"model":  a.ttsDeployment,
		"input":  text,
		"voice":  a.ttsVoice,
		"format": a.ttsFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.deploymentURL(a.ttsDeployment, "audio/speech"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.audioClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstream("azure-tts", resp)
	}
	return io.ReadAll(resp.Body)
}

// upstream drains the failed response into a typed error. The body is
// capped so a huge error page cannot blow up logs.
func upstream(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.UpstreamError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
