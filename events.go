package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType names a stage event in the turn stream.
type EventType string

const (
	EventStage1Start    EventType = "stage1_start"
	EventStage1Complete EventType = "stage1_complete"
	EventStage2Start    EventType = "stage2_start"
	EventStage2Complete EventType = "stage2_complete"
	EventStage3Start    EventType = "stage3_start"
	EventStage3Complete EventType = "stage3_complete"
	EventTitleComplete  EventType = "title_complete"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Event is one push notification of a turn's progress. Seq increases by one
// per event within a turn.
type Event struct {
	Type           EventType
	ConversationID string
	TurnID         string
	Seq            int
	State          TurnState
	Timestamp      time.Time

	Stage1   []ModelResponse
	Stage2   []PeerRanking
	Stage3   *FinalResponse
	Metadata *Metadata
	Title    string
	Failures []ModelFailure
	Message  string
}

// Terminal reports whether no further events follow in the turn.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

type eventWire struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id"`
	TurnID         string          `json:"turn_id"`
	Seq            int             `json:"seq"`
	State          TurnState       `json:"state,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data,omitempty"`
	Metadata       *Metadata       `json:"metadata,omitempty"`
	Failures       []ModelFailure  `json:"failures,omitempty"`
	Message        string          `json:"message,omitempty"`
}

type titleData struct {
	Title string `json:"title"`
}

// MarshalJSON puts the stage payload under "data", the shape the chat UI reads.
func (e Event) MarshalJSON() ([]byte, error) {
	wire := eventWire{
		Type:           e.Type,
		ConversationID: e.ConversationID,
		TurnID:         e.TurnID,
		Seq:            e.Seq,
		State:          e.State,
		Timestamp:      e.Timestamp,
		Metadata:       e.Metadata,
		Failures:       e.Failures,
		Message:        e.Message,
	}

	var data interface{}
	switch e.Type {
	case EventStage1Complete:
		data = e.Stage1
	case EventStage2Complete:
		data = e.Stage2
	case EventStage3Complete:
		data = e.Stage3
	case EventTitleComplete:
		data = titleData{Title: e.Title}
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		wire.Data = raw
	}
	return json.Marshal(wire)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var wire eventWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*e = Event{
		Type:           wire.Type,
		ConversationID: wire.ConversationID,
		TurnID:         wire.TurnID,
		Seq:            wire.Seq,
		State:          wire.State,
		Timestamp:      wire.Timestamp,
		Metadata:       wire.Metadata,
		Failures:       wire.Failures,
		Message:        wire.Message,
	}
	if len(wire.Data) == 0 {
		return nil
	}

	var err error
	switch wire.Type {
	case EventStage1Complete:
		err = json.Unmarshal(wire.Data, &e.Stage1)
	case EventStage2Complete:
		err = json.Unmarshal(wire.Data, &e.Stage2)
	case EventStage3Complete:
		err = json.Unmarshal(wire.Data, &e.Stage3)
	case EventTitleComplete:
		var t titleData
		err = json.Unmarshal(wire.Data, &t)
		e.Title = t.Title
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s data: %w", wire.Type, err)
	}
	return nil
}

// Apply folds ev into an assistant message. Events at or below the last
// applied sequence number are ignored, so redelivery is a no-op.
// It reports whether the message changed.
func (m *Message) Apply(ev Event) bool {
	if ev.TurnID != "" && m.TurnID != "" && ev.TurnID != m.TurnID {
		return false
	}
	if ev.Seq <= m.LastSeq {
		return false
	}
	if m.Loading == nil {
		m.Loading = &LoadingState{}
	}

	switch ev.Type {
	case EventStage1Start:
		m.Loading.Stage1 = true
	case EventStage1Complete:
		m.Stage1 = ev.Stage1
		m.Loading.Stage1 = false
	case EventStage2Start:
		m.Loading.Stage2 = true
	case EventStage2Complete:
		m.Stage2 = ev.Stage2
		m.Metadata = ev.Metadata
		m.Loading.Stage2 = false
	case EventStage3Start:
		m.Loading.Stage3 = true
	case EventStage3Complete:
		m.Stage3 = ev.Stage3
		m.Loading.Stage3 = false
	case EventComplete:
		m.Loading = nil
	case EventError:
		m.Error = ev.Message
		m.Loading = nil
	}

	if ev.State != "" {
		m.Status = ev.State
	}
	if m.TurnID == "" {
		m.TurnID = ev.TurnID
	}
	m.LastSeq = ev.Seq
	return true
}

// EventSink receives turn events in order.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

func (f EventSinkFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChannelSink forwards events to a channel, giving up when ctx is done.
type ChannelSink chan<- Event

func (c ChannelSink) Emit(ctx context.Context, ev Event) error {
	select {
	case c <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
