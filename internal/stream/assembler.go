// Package stream assembles the inference backend's chunked event stream into
// a growing assistant message. The response body arrives as arbitrary chunks
// that may split lines anywhere; the assembler buffers, splits on newlines,
// decodes each "data: " line as one event and folds it into the reasoning
// and response accumulators in decode order.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"wayfarer/internal/logging"
)

// Event kinds.
const (
	KindReasoning = "reasoning"
	KindResponse  = "response"
	KindEnd       = "end"
	KindError     = "error"
)

const eventPrefix = "data: "

// Event is one decoded unit of the streaming protocol. Not persisted.
type Event struct {
	Kind      string          `json:"type"`
	Content   string          `json:"content"`
	Sequence  int             `json:"sequence"`
	TaskID    string          `json:"task_id"`
	FinalData json.RawMessage `json:"final_data,omitempty"`
}

// State of one streaming exchange.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateFinalizing
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Applied is the accumulator snapshot handed to the apply callback after
// each event, in event order.
type Applied struct {
	Event     Event
	Reasoning string
	Content   string
}

// ServerError is an error event emitted by the backend itself.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("stream error event: %s", e.Message)
}

// Assembler folds one streaming response into reasoning and response text.
// It is not safe for concurrent use; events for a single task must be
// applied sequentially.
type Assembler struct {
	logger  *logging.Logger
	strict  bool // reject sequence regressions
	onApply func(Applied)

	state     State
	buf       []byte
	taskID    string
	lastSeq   int
	hasSeq    bool
	reasoning strings.Builder
	content   strings.Builder
	finalData json.RawMessage
	dropped   int
}

// Result is the frozen outcome of a completed stream.
type Result struct {
	TaskID    string
	Reasoning string
	Content   string
	FinalData json.RawMessage
	Dropped   int // malformed or rejected lines
}

// NewAssembler creates an assembler. onApply, if non-nil, is invoked after
// every applied event with the current accumulator state; strict rejects
// events whose sequence number does not increase.
func NewAssembler(strict bool, onApply func(Applied), logger *logging.Logger) *Assembler {
	return &Assembler{
		logger:  logger,
		strict:  strict,
		onApply: onApply,
		state:   StateIdle,
	}
}

// State returns the current state.
func (a *Assembler) State() State {
	return a.state
}

// Begin marks the outbound request as sent.
func (a *Assembler) Begin() {
	if a.state == StateIdle {
		a.state = StateRequesting
	}
}

// Feed consumes one chunk of the response body. Chunk boundaries may fall
// anywhere, including mid-line; incomplete trailing lines are buffered for
// the next call. A backend error event terminates the stream with a
// *ServerError; malformed lines are logged and skipped.
func (a *Assembler) Feed(chunk []byte) error {
	if a.state == StateRequesting || a.state == StateIdle {
		a.state = StateStreaming
	}
	if a.state != StateStreaming {
		// Content after the terminator is ignored; end is unique.
		return nil
	}

	a.buf = append(a.buf, chunk...)
	for {
		i := indexNewline(a.buf)
		if i < 0 {
			return nil
		}
		line := string(a.buf[:i])
		a.buf = a.buf[i+1:]
		if err := a.processLine(line); err != nil {
			return err
		}
		if a.state != StateStreaming {
			return nil
		}
	}
}

// Finish signals end of the response body. A pending partial line is
// processed, and a stream that never saw an explicit end event is finalized
// on read completion.
func (a *Assembler) Finish() (*Result, error) {
	if a.state == StateStreaming && len(a.buf) > 0 {
		line := string(a.buf)
		a.buf = nil
		if err := a.processLine(line); err != nil {
			return nil, err
		}
	}

	switch a.state {
	case StateErrored:
		return nil, fmt.Errorf("stream already errored")
	case StateDone:
		// Finish after end is a no-op.
	default:
		a.state = StateFinalizing
		a.state = StateDone
	}

	return &Result{
		TaskID:    a.taskID,
		Reasoning: a.reasoning.String(),
		Content:   a.content.String(),
		FinalData: a.finalData,
		Dropped:   a.dropped,
	}, nil
}

// processLine decodes and applies a single line. Returns an error only for
// terminal conditions; decode failures are dropped with a log line.
func (a *Assembler) processLine(line string) error {
	line = strings.TrimSuffix(strings.TrimSpace(line), "\r")
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, eventPrefix) {
		return nil
	}

	var ev Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, eventPrefix)), &ev); err != nil {
		a.dropped++
		a.logger.WithContext("line_len", len(line)).Warn("dropping malformed stream event: %v", err)
		return nil
	}

	if !a.acceptSequence(&ev) {
		return nil
	}

	switch ev.Kind {
	case KindReasoning:
		a.reasoning.WriteString(ev.Content)
		a.apply(ev)
	case KindResponse:
		a.content.WriteString(ev.Content)
		a.apply(ev)
	case KindEnd:
		a.finalData = ev.FinalData
		a.state = StateFinalizing
		a.apply(ev)
		a.state = StateDone
	case KindError:
		a.state = StateErrored
		return &ServerError{Message: ev.Content}
	default:
		a.dropped++
		a.logger.WithContext("kind", ev.Kind).Warn("dropping stream event of unknown kind")
	}
	return nil
}

// acceptSequence tracks the task id and enforces per-task ordering. Gaps are
// logged but tolerated; regressions are rejected in strict mode.
func (a *Assembler) acceptSequence(ev *Event) bool {
	if a.taskID == "" {
		a.taskID = ev.TaskID
	} else if ev.TaskID != "" && ev.TaskID != a.taskID {
		a.dropped++
		a.logger.WithFields(map[string]interface{}{
			"want_task": a.taskID,
			"got_task":  ev.TaskID,
		}).Warn("dropping stream event from foreign task")
		return false
	}

	if a.hasSeq {
		if ev.Sequence <= a.lastSeq {
			if a.strict {
				a.dropped++
				a.logger.WithFields(map[string]interface{}{
					"last_sequence": a.lastSeq,
					"got_sequence":  ev.Sequence,
				}).Warn("rejecting out-of-order stream event")
				return false
			}
		} else if ev.Sequence > a.lastSeq+1 {
			a.logger.WithFields(map[string]interface{}{
				"last_sequence": a.lastSeq,
				"got_sequence":  ev.Sequence,
			}).Warn("gap in stream event sequence")
		}
	}
	if ev.Sequence > a.lastSeq || !a.hasSeq {
		a.lastSeq = ev.Sequence
	}
	a.hasSeq = true
	return true
}

func (a *Assembler) apply(ev Event) {
	if a.onApply == nil {
		return
	}
	a.onApply(Applied{
		Event:     ev,
		Reasoning: a.reasoning.String(),
		Content:   a.content.String(),
	})
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}
