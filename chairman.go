package main

import (
	"context"
	"fmt"
	"strings"
)

// ChairmanSynthesizer produces the council's single final answer.
type ChairmanSynthesizer struct {
	Adapters AdapterSource
	Model    string
}

// Synthesize asks the chairman model to merge the Stage 1 answers, guided by
// the aggregate ranking when there is one. Any failure is reported as
// ErrChairmanUnavailable.
func (c *ChairmanSynthesizer) Synthesize(ctx context.Context, userQuery string, stage1 []ModelResponse, aggregate []AggregateRanking) (*FinalResponse, error) {
	adapter, err := c.Adapters.Adapter(c.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChairmanUnavailable, err)
	}

	response, err := adapter.Generate(ctx, BuildChairmanPrompt(userQuery, stage1, aggregate), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChairmanUnavailable, err)
	}

	return &FinalResponse{
		Model:    c.Model,
		Response: response,
	}, nil
}

// BuildChairmanPrompt renders the synthesis instruction.
func BuildChairmanPrompt(userQuery string, stage1 []ModelResponse, aggregate []AggregateRanking) string {
	var stage1Text strings.Builder
	for _, result := range stage1 {
		fmt.Fprintf(&stage1Text, "Model: %s\nResponse: %s\n\n", result.Model, result.Response)
	}

	var stage2Text strings.Builder
	if len(aggregate) == 0 {
		stage2Text.WriteString("No peer ranking is available for this question. Judge the responses on their merits.\n")
	} else {
		for i, entry := range aggregate {
			fmt.Fprintf(&stage2Text, "%d. %s (average rank %.2f across %d reviews)\n", i+1, entry.Model, entry.AverageRank, entry.RankingsCount)
		}
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses anonymously.

Original Question: %s

STAGE 1 - Individual Responses:
%s
STAGE 2 - Aggregate Peer Ranking (lower average rank is better):
%s
Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer ranking and what it reveals about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`, userQuery, stage1Text.String(), stage2Text.String())
}
