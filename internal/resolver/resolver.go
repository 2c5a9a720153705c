// Package resolver turns inbound user text into a reply string through an
// ordered fallback chain: canned greeting, retrieval-backed answer,
// generative fallback.
package resolver

import (
	"context"
	"log/slog"
	"strings"

	"voicebot/internal/domain"
)

// systemInstruction is the fixed instruction for the generative fallback.
const systemInstruction = "You are a helpful assistant. Keep replies concise. Reply in the same language as the user."

// dontKnowSentinel gates retrieval confidence: a retrieved answer that
// contains it is treated as a non-answer.
const dontKnowSentinel = "i don't know"

const (
	DefaultWelcome = "Welcome to BankIslami! How can I help you today?"
	DefaultApology = "Sorry, I could not generate a response."
)

// DefaultGreetings are the inputs answered with the welcome string without
// touching any backend.
func DefaultGreetings() []string {
	return []string{"hi", "hello", "hey", "salam", "assalamualaikum", "asalamualaikum"}
}

// Resolver resolves user text into a non-empty reply. The step order is
// fixed: greeting short-circuit, then retrieval, then generation.
type Resolver struct {
	generator domain.Generator
	retriever domain.Retriever
	greetings map[string]struct{}
	welcome   string
	apology   string
	logger    *slog.Logger
}

type Config struct {
	Generator domain.Generator
	Retriever domain.Retriever // nil = retrieval unconfigured
	Greetings []string
	Welcome   string
	Apology   string
	Logger    *slog.Logger
}

func New(cfg Config) *Resolver {
	if len(cfg.Greetings) == 0 {
		cfg.Greetings = DefaultGreetings()
	}
	if cfg.Welcome == "" {
		cfg.Welcome = DefaultWelcome
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	greetings := make(map[string]struct{}, len(cfg.Greetings))
	for _, g := range cfg.Greetings {
		greetings[strings.ToLower(strings.TrimSpace(g))] = struct{}{}
	}

	return &Resolver{
		generator: cfg.Generator,
		retriever: cfg.Retriever,
		greetings: greetings,
		welcome:   cfg.Welcome,
		apology:   cfg.Apology,
		logger:    cfg.Logger,
	}
}

// Resolve returns a reply for userText. It never returns an empty string on
// success; when the generative backend produces nothing it returns the
// fixed apology. Generator errors propagate to the caller; retrieval errors
// are logged and treated as "no answer".
func (r *Resolver) Resolve(ctx context.Context, userText string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(userText))
	if _, ok := r.greetings[normalized]; ok {
		return r.welcome, nil
	}

	if r.retriever != nil {
		answer, err := r.retriever.Answer(ctx, userText)
		switch {
		case err != nil:
			r.logger.Warn("retrieval failed, falling back to generator", "err", err)
		case answer != "" && !strings.Contains(strings.ToLower(answer), dontKnowSentinel):
			return answer, nil
		}
	}

	reply, err := r.generator.Generate(ctx, systemInstruction, userText)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return r.apology, nil
	}
	return reply, nil
}
