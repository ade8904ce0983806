package main

//go:generate mockgen -source=adapter.go -destination=mock_adapter_test.go -package=main

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ModelAdapter wraps a single external model endpoint.
// Generate fails only with errors classified as ErrProviderUnavailable,
// ErrProviderTimeout or ErrProviderRefused; odd but parseable output is
// returned as text.
type ModelAdapter interface {
	Model() string
	Generate(ctx context.Context, prompt string, history []ChatMessage) (string, error)
}

// AdapterSource resolves a model identifier to its adapter.
type AdapterSource interface {
	Adapter(model string) (ModelAdapter, error)
}

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderGroq       = "groq"
)

// ProviderFor picks the provider serving a model id.
// Namespaced ids ("vendor/model") always go through OpenRouter.
func ProviderFor(model string) string {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "/") {
		return ProviderOpenRouter
	}
	if strings.Contains(lower, "gemini") {
		return ProviderGemini
	}
	for _, family := range []string{"llama", "mixtral", "gemma"} {
		if strings.Contains(lower, family) {
			return ProviderGroq
		}
	}
	return ProviderOpenRouter
}

// Providers holds the configured provider clients and builds adapters from them.
type Providers struct {
	OpenRouter *ChatCompletionsClient
	Groq       *ChatCompletionsClient
	Gemini     *GeminiClient
	Timeout    time.Duration
}

// Adapter returns a timeout-bounded adapter for model.
func (p *Providers) Adapter(model string) (ModelAdapter, error) {
	var adapter ModelAdapter
	switch provider := ProviderFor(model); provider {
	case ProviderGemini:
		if p.Gemini == nil {
			return nil, providerError(model, ErrProviderUnavailable, errors.New("gemini client not configured"))
		}
		adapter = p.Gemini.Adapter(model)
	case ProviderGroq:
		if p.Groq == nil {
			return nil, providerError(model, ErrProviderUnavailable, errors.New("groq client not configured"))
		}
		adapter = p.Groq.Adapter(model)
	default:
		if p.OpenRouter == nil {
			return nil, providerError(model, ErrProviderUnavailable, errors.New("openrouter client not configured"))
		}
		adapter = p.OpenRouter.Adapter(model)
	}
	return WithTimeout(adapter, p.Timeout), nil
}

type timeoutAdapter struct {
	inner   ModelAdapter
	timeout time.Duration
}

// WithTimeout bounds every Generate call on a. The bound holds even when the
// wrapped adapter ignores its context.
func WithTimeout(a ModelAdapter, timeout time.Duration) ModelAdapter {
	if timeout <= 0 {
		return a
	}
	return &timeoutAdapter{inner: a, timeout: timeout}
}

func (t *timeoutAdapter) Model() string { return t.inner.Model() }

func (t *timeoutAdapter) Generate(ctx context.Context, prompt string, history []ChatMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := t.inner.Generate(callCtx, prompt, history)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", classifyContextError(ctx, t.Model(), r.err)
		}
		return r.text, nil
	case <-callCtx.Done():
		return "", classifyContextError(ctx, t.Model(), callCtx.Err())
	}
}

// classifyContextError maps context failures to the adapter taxonomy.
// parent is the caller's context: cancellation there is reported as
// unavailability, any deadline as a timeout.
func classifyContextError(parent context.Context, model string, err error) error {
	var pe *ProviderError
	isContextErr := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if errors.As(err, &pe) && !isContextErr {
		return err
	}
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return &ProviderError{Model: model, Kind: ErrProviderUnavailable, Err: context.Canceled}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(parent.Err(), context.DeadlineExceeded):
		return &ProviderError{Model: model, Kind: ErrProviderTimeout, Err: context.DeadlineExceeded}
	case pe != nil:
		return err
	default:
		return &ProviderError{Model: model, Kind: ErrProviderUnavailable, Err: err}
	}
}
