package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GeminiClient serves bare "gemini-*" model ids through Google's API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// Adapter binds the client to one model.
func (g *GeminiClient) Adapter(model string) ModelAdapter {
	return &geminiAdapter{client: g, model: model}
}

type geminiAdapter struct {
	client *GeminiClient
	model  string
}

func (a *geminiAdapter) Model() string { return a.model }

func (a *geminiAdapter) Generate(ctx context.Context, prompt string, history []ChatMessage) (string, error) {
	gm := a.client.client.GenerativeModel(a.model)
	system, contents := geminiHistory(history)
	if system != nil {
		gm.SystemInstruction = system
	}

	session := gm.StartChat()
	session.History = contents

	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			log.WithField("model", a.model).Warnf("Gemini blocked request: %v", blocked)
			return "", providerError(a.model, ErrProviderRefused, err)
		}
		return "", classifyContextError(ctx, a.model, err)
	}

	text, ok := geminiText(resp)
	if !ok {
		return "", providerError(a.model, ErrProviderUnavailable, errors.New("no text candidates in response"))
	}
	return text, nil
}

// geminiHistory converts chat history into Gemini contents. System messages
// become the system instruction; assistant turns use the "model" role.
func geminiHistory(history []ChatMessage) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case RoleSystem:
			system = &genai.Content{Parts: []genai.Part{genai.Text(msg.Content)}}
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	return system, contents
}

func geminiText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}
	var sb strings.Builder
	found := false
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
			found = true
		}
	}
	return sb.String(), found
}
