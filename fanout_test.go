package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCollectAllSucceed(t *testing.T) {
	roster := []string{"test/model1", "test/model2", "test/model3"}
	// Later models answer first; order must still follow the roster
	adapters := staticAdapters{}
	for i, model := range roster {
		delay := time.Duration(len(roster)-i) * 5 * time.Millisecond
		model := model
		adapters[model] = &fakeAdapter{model: model, generate: func(context.Context, string, []ChatMessage) (string, error) {
			time.Sleep(delay)
			return "Answer from " + model, nil
		}}
	}

	collector := &FanOutCollector{Adapters: adapters, StageTimeout: time.Second}
	result, err := collector.Collect(context.Background(), "What is Go?", nil, roster)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(result.Responses) != len(roster) {
		t.Fatalf("Expected %d responses, got %d", len(roster), len(result.Responses))
	}
	for i, resp := range result.Responses {
		if resp.Model != roster[i] {
			t.Errorf("Responses[%d].Model = %q, want %q", i, resp.Model, roster[i])
		}
		if resp.Response != "Answer from "+roster[i] {
			t.Errorf("Responses[%d].Response = %q", i, resp.Response)
		}
	}
	if len(result.Failures) != 0 {
		t.Errorf("Expected no failures, got %+v", result.Failures)
	}
}

func TestCollectRunsConcurrently(t *testing.T) {
	roster := []string{"test/model1", "test/model2", "test/model3", "test/model4"}

	// Every call waits until all of them have started
	var started sync.WaitGroup
	started.Add(len(roster))
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	adapters := staticAdapters{}
	for _, model := range roster {
		adapters[model] = &fakeAdapter{model: model, generate: func(ctx context.Context, _ string, _ []ChatMessage) (string, error) {
			started.Done()
			select {
			case <-allStarted:
				return "ok", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}}
	}

	collector := &FanOutCollector{Adapters: adapters, StageTimeout: 2 * time.Second}
	result, err := collector.Collect(context.Background(), "q", nil, roster)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(result.Responses) != len(roster) {
		t.Errorf("Expected %d responses, got %d", len(roster), len(result.Responses))
	}
}

func TestCollectPartialFailure(t *testing.T) {
	adapters := staticAdapters{
		"test/model1": replying("test/model1", "one"),
		"test/model2": failing("test/model2", ErrProviderRefused),
		"test/model3": replying("test/model3", "three"),
	}
	roster := []string{"test/model1", "test/model2", "test/model3"}

	collector := &FanOutCollector{Adapters: adapters, StageTimeout: time.Second}
	result, err := collector.Collect(context.Background(), "q", nil, roster)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(result.Responses) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(result.Responses))
	}
	if result.Responses[0].Model != "test/model1" || result.Responses[1].Model != "test/model3" {
		t.Errorf("Unexpected survivors: %+v", result.Responses)
	}
	if len(result.Failures) != 1 || result.Failures[0].Model != "test/model2" {
		t.Errorf("Expected test/model2 in failures, got %+v", result.Failures)
	}
}

func TestValidateRoster(t *testing.T) {
	tests := []struct {
		name    string
		roster  []string
		wantErr bool
	}{
		{"distinct models", []string{"vendor/x", "vendor/y"}, false},
		{"empty roster", nil, true},
		{"one model", []string{"vendor/x"}, true},
		{"duplicate model", []string{"vendor/x", "vendor/y", "vendor/x"}, true},
		{"empty id", []string{"vendor/x", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoster(tt.roster)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoster() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInsufficientCouncil) {
				t.Errorf("Expected ErrInsufficientCouncil, got %v", err)
			}
		})
	}
}

func TestCollectInsufficientCouncil(t *testing.T) {
	tests := []struct {
		name     string
		adapters staticAdapters
		roster   []string
	}{
		{
			name:     "roster too small",
			adapters: staticAdapters{"test/model1": replying("test/model1", "one")},
			roster:   []string{"test/model1"},
		},
		{
			name: "one survivor",
			adapters: staticAdapters{
				"test/model1": replying("test/model1", "one"),
				"test/model2": failing("test/model2", ErrProviderUnavailable),
				"test/model3": failing("test/model3", ErrProviderTimeout),
			},
			roster: []string{"test/model1", "test/model2", "test/model3"},
		},
		{
			name: "all fail",
			adapters: staticAdapters{
				"test/model1": failing("test/model1", ErrProviderUnavailable),
				"test/model2": failing("test/model2", ErrProviderUnavailable),
			},
			roster: []string{"test/model1", "test/model2"},
		},
		{
			name:     "same model listed twice",
			adapters: staticAdapters{"vendor/x": replying("vendor/x", "one")},
			roster:   []string{"vendor/x", "vendor/x"},
		},
		{
			name:     "unknown models",
			adapters: staticAdapters{},
			roster:   []string{"test/missing1", "test/missing2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := &FanOutCollector{Adapters: tt.adapters, StageTimeout: time.Second}
			_, err := collector.Collect(context.Background(), "q", nil, tt.roster)
			if !errors.Is(err, ErrInsufficientCouncil) {
				t.Errorf("Expected ErrInsufficientCouncil, got %v", err)
			}
		})
	}
}

func TestCollectStageTimeoutKeepsFinishedResponses(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stubborn := &fakeAdapter{model: "test/slow", generate: func(context.Context, string, []ChatMessage) (string, error) {
		<-release
		return "late", nil
	}}
	adapters := staticAdapters{
		"test/model1": replying("test/model1", "one"),
		"test/slow":   stubborn,
		"test/model2": replying("test/model2", "two"),
	}
	roster := []string{"test/model1", "test/slow", "test/model2"}

	collector := &FanOutCollector{Adapters: adapters, StageTimeout: 50 * time.Millisecond}
	start := time.Now()
	result, err := collector.Collect(context.Background(), "q", nil, roster)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Collect took %v, stage timeout not enforced", elapsed)
	}

	if len(result.Responses) != 2 {
		t.Fatalf("Expected 2 responses, got %d", len(result.Responses))
	}
	if len(result.Failures) != 1 || result.Failures[0].Model != "test/slow" {
		t.Errorf("Expected test/slow to time out, got %+v", result.Failures)
	}
}

func TestCollectPassesHistory(t *testing.T) {
	history := []ChatMessage{
		{Role: RoleUser, Content: "earlier"},
		{Role: RoleAssistant, Content: "earlier answer"},
	}
	var mu sync.Mutex
	seen := map[string]int{}
	record := func(model string) *fakeAdapter {
		return &fakeAdapter{model: model, generate: func(_ context.Context, _ string, h []ChatMessage) (string, error) {
			mu.Lock()
			seen[model] = len(h)
			mu.Unlock()
			return "ok", nil
		}}
	}

	adapters := staticAdapters{"test/model1": record("test/model1"), "test/model2": record("test/model2")}
	collector := &FanOutCollector{Adapters: adapters}
	if _, err := collector.Collect(context.Background(), "q", history, []string{"test/model1", "test/model2"}); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	for model, n := range seen {
		if n != len(history) {
			t.Errorf("%s saw %d history messages, want %d", model, n, len(history))
		}
	}
}

func TestDispatchAllParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	models := []string{"test/model1", "test/model2"}

	release := make(chan struct{})
	defer close(release)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcomes := dispatchAll(ctx, time.Minute, models, func(context.Context, int) (string, error) {
		<-release
		return "late", nil
	})

	for i, outcome := range outcomes {
		if outcome.model != models[i] {
			t.Errorf("outcomes[%d].model = %q", i, outcome.model)
		}
		if !errors.Is(outcome.err, ErrProviderUnavailable) || !errors.Is(outcome.err, context.Canceled) {
			t.Errorf("outcomes[%d].err = %v, want cancellation", i, outcome.err)
		}
	}
}

func TestDispatchAllJoinsEveryCall(t *testing.T) {
	models := []string{"test/model1", "test/model2", "test/model3"}
	var finished atomic.Int32

	// No stage deadline: only the group finishing can end the wait
	outcomes := dispatchAll(context.Background(), 0, models, func(_ context.Context, i int) (string, error) {
		time.Sleep(time.Duration(i*10) * time.Millisecond)
		finished.Add(1)
		return models[i], nil
	})

	if finished.Load() != int32(len(models)) {
		t.Errorf("dispatchAll returned after %d of %d calls", finished.Load(), len(models))
	}
	for i, outcome := range outcomes {
		if outcome.err != nil || outcome.text != models[i] {
			t.Errorf("outcomes[%d] = %+v", i, outcome)
		}
	}

	if empty := dispatchAll(context.Background(), 0, nil, nil); len(empty) != 0 {
		t.Errorf("Expected no outcomes, got %d", len(empty))
	}
}
