package knowledge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"voicebot/internal/domain"
)

// ragInstruction constrains the generator to the retrieved context. The
// literal "I don't know" is what the resolver's confidence gate keys on.
const ragInstruction = "You are a retrieval assistant. Answer the question using only the provided context. " +
	`If the context does not contain the answer, reply exactly: I don't know.`

// Engine chunks documents into the store and answers questions from the
// retrieved chunks. It implements the Retriever contract: an empty answer
// means "nothing confident to say".
type Engine struct {
	store     *Store
	generator domain.Generator
	chunkSize int
	overlap   int
	topK      int
	logger    *slog.Logger
}

type EngineConfig struct {
	Store     *Store
	Generator domain.Generator
	ChunkSize int // words per chunk (default: 512)
	Overlap   int // overlapping words between chunks (default: 50)
	TopK      int // chunks retrieved per question (default: 5)
	Logger    *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 50
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:     cfg.Store,
		generator: cfg.Generator,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		topK:      cfg.TopK,
		logger:    cfg.Logger,
	}
}

// AddDocument chunks content and indexes it under a content-derived id, so
// re-seeding the same data is idempotent.
func (e *Engine) AddDocument(ctx context.Context, name, content string) (*Document, error) {
	hash := sha256.Sum256([]byte(content))
	docID := fmt.Sprintf("%x", hash[:8])

	chunks := e.chunkText(content, docID)
	doc := Document{
		ID:         docID,
		Name:       name,
		Size:       int64(len(content)),
		ChunkCount: len(chunks),
	}

	if err := e.store.AddDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	e.logger.Info("document indexed", "name", name, "chunks", len(chunks), "size", len(content))
	return &doc, nil
}

// Answer retrieves the best-matching chunks for question and asks the
// generator to answer from them. Returns "" when nothing matched.
func (e *Engine) Answer(ctx context.Context, question string) (string, error) {
	results, err := e.store.Search(ctx, question, e.topK)
	if err != nil {
		return "", fmt.Errorf("knowledge search: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}

	prompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", buildContext(results), question)
	answer, err := e.generator.Generate(ctx, ragInstruction, prompt)
	if err != nil {
		return "", fmt.Errorf("knowledge answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func buildContext(results []SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%s, chunk %d]\n%s", r.DocName, r.ChunkIndex, r.Content)
		if i < len(results)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}

// chunkText splits text into overlapping windows of roughly chunkSize words.
func (e *Engine) chunkText(text, docID string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := e.chunkSize - e.overlap
	if step <= 0 {
		step = e.chunkSize
	}

	var chunks []Chunk
	for i := 0; i < len(words); i += step {
		end := min(i+e.chunkSize, len(words))
		chunks = append(chunks, Chunk{
			DocumentID: docID,
			ChunkIndex: len(chunks),
			Content:    strings.Join(words[i:end], " "),
		})
		if end >= len(words) {
			break
		}
	}
	return chunks
}
