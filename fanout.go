package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// callOutcome is the result slot owned by one concurrent adapter call.
type callOutcome struct {
	model string
	text  string
	err   error
}

// dispatchAll runs call once per model concurrently and joins on completion
// or on the stage deadline, whichever comes first. Slot i always belongs to
// models[i]; calls still in flight at the deadline are reported as timed out
// (or unavailable if ctx itself was cancelled) and their late results dropped.
func dispatchAll(ctx context.Context, stageTimeout time.Duration, models []string, call func(ctx context.Context, i int) (string, error)) []callOutcome {
	var stageCtx context.Context
	var cancel context.CancelFunc
	if stageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, stageTimeout)
	} else {
		stageCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type indexed struct {
		index int
		text  string
		err   error
	}
	results := make(chan indexed, len(models))

	var g errgroup.Group
	for i := range models {
		i := i
		g.Go(func() error {
			text, err := call(stageCtx, i)
			results <- indexed{index: i, text: text, err: err}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	slots := make([]callOutcome, len(models))
	settled := make([]bool, len(models))
	for {
		select {
		case r, ok := <-results:
			if !ok {
				return slots
			}
			slots[r.index] = callOutcome{model: models[r.index], text: r.text, err: r.err}
			settled[r.index] = true
		case <-stageCtx.Done():
			for i, ok := range settled {
				if !ok {
					slots[i] = callOutcome{model: models[i], err: classifyContextError(ctx, models[i], stageCtx.Err())}
				}
			}
			return slots
		}
	}
}

// ValidateRoster checks that roster names at least MinCouncilSize distinct,
// non-empty model ids.
func ValidateRoster(roster []string) error {
	if len(roster) < MinCouncilSize {
		return fmt.Errorf("%w: roster has %d models, need at least %d", ErrInsufficientCouncil, len(roster), MinCouncilSize)
	}
	seen := make(map[string]bool, len(roster))
	for _, model := range roster {
		if model == "" {
			return fmt.Errorf("%w: roster contains an empty model id", ErrInsufficientCouncil)
		}
		if seen[model] {
			return fmt.Errorf("%w: model %q listed more than once", ErrInsufficientCouncil, model)
		}
		seen[model] = true
	}
	return nil
}

// FanOutResult is the outcome of Stage 1.
type FanOutResult struct {
	Responses []ModelResponse
	Failures  []ModelFailure
}

// FanOutCollector dispatches the user's prompt to every council member.
type FanOutCollector struct {
	Adapters     AdapterSource
	StageTimeout time.Duration
}

// Collect queries every model in roster concurrently. Responses keep roster
// order; failed models are dropped and listed in Failures without retry.
// Fewer than MinCouncilSize successes yields ErrInsufficientCouncil along
// with the partial result.
func (f *FanOutCollector) Collect(ctx context.Context, prompt string, history []ChatMessage, roster []string) (*FanOutResult, error) {
	if err := ValidateRoster(roster); err != nil {
		return nil, err
	}

	outcomes := dispatchAll(ctx, f.StageTimeout, roster, func(callCtx context.Context, i int) (string, error) {
		adapter, err := f.Adapters.Adapter(roster[i])
		if err != nil {
			return "", err
		}
		return adapter.Generate(callCtx, prompt, history)
	})

	result := &FanOutResult{}
	for _, outcome := range outcomes {
		if outcome.err != nil {
			logModelFailure("stage1", outcome)
			result.Failures = append(result.Failures, ModelFailure{Model: outcome.model, Error: outcome.err.Error()})
			continue
		}
		result.Responses = append(result.Responses, ModelResponse{Model: outcome.model, Response: outcome.text})
	}

	if len(result.Responses) < MinCouncilSize {
		return result, fmt.Errorf("%w: %d of %d models responded", ErrInsufficientCouncil, len(result.Responses), len(roster))
	}
	return result, nil
}

func logModelFailure(stage string, outcome callOutcome) {
	kind := "unavailable"
	switch {
	case errors.Is(outcome.err, ErrProviderTimeout):
		kind = "timeout"
	case errors.Is(outcome.err, ErrProviderRefused):
		kind = "refused"
	}
	log.WithFields(log.Fields{
		"stage": stage,
		"model": outcome.model,
		"kind":  kind,
	}).Warnf("Error querying model: %v", outcome.err)
}
