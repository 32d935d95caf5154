package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"wayfarer/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger("test", logging.ERROR, io.Discard)
}

func feedAll(t *testing.T, a *Assembler, body string, chunkSize int) *Result {
	t.Helper()
	a.Begin()
	data := []byte(body)
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		if err := a.Feed(data[:n]); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		data = data[n:]
	}
	result, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return result
}

const sampleStream = `data: {"type":"reasoning","content":"Considering options. ","sequence":1,"task_id":"t1"}
data: {"type":"reasoning","content":"Lisbon fits.","sequence":2,"task_id":"t1"}
data: {"type":"response","content":"I recommend ","sequence":3,"task_id":"t1"}
data: {"type":"response","content":"Lisbon.","sequence":4,"task_id":"t1"}
data: {"type":"end","content":"","sequence":5,"task_id":"t1","final_data":{"city":"Lisbon"}}
`

func TestAssemblerAccumulates(t *testing.T) {
	a := NewAssembler(true, nil, testLogger())
	result := feedAll(t, a, sampleStream, len(sampleStream))

	if result.Reasoning != "Considering options. Lisbon fits." {
		t.Errorf("Reasoning = %q", result.Reasoning)
	}
	if result.Content != "I recommend Lisbon." {
		t.Errorf("Content = %q", result.Content)
	}
	if result.TaskID != "t1" {
		t.Errorf("TaskID = %q, want t1", result.TaskID)
	}
	if !bytes.Contains(result.FinalData, []byte("Lisbon")) {
		t.Errorf("FinalData = %s", result.FinalData)
	}
	if result.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", result.Dropped)
	}
	if a.State() != StateDone {
		t.Errorf("State = %s, want done", a.State())
	}
}

func TestAssemblerChunkBoundaries(t *testing.T) {
	// The accumulated result must not depend on where chunk boundaries fall
	for _, size := range []int{1, 2, 3, 7, 16, 100} {
		a := NewAssembler(true, nil, testLogger())
		result := feedAll(t, a, sampleStream, size)
		if result.Content != "I recommend Lisbon." {
			t.Errorf("chunk size %d: Content = %q", size, result.Content)
		}
		if result.Reasoning != "Considering options. Lisbon fits." {
			t.Errorf("chunk size %d: Reasoning = %q", size, result.Reasoning)
		}
	}
}

func TestAssemblerAppliesInOrder(t *testing.T) {
	var seqs []int
	a := NewAssembler(true, func(ap Applied) {
		seqs = append(seqs, ap.Event.Sequence)
	}, testLogger())
	feedAll(t, a, sampleStream, 8)

	if len(seqs) != 5 {
		t.Fatalf("Applied %d events, want 5", len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("Sequences not increasing: %v", seqs)
		}
	}
}

func TestAssemblerRejectsRegression(t *testing.T) {
	body := `data: {"type":"response","content":"a","sequence":2,"task_id":"t1"}
data: {"type":"response","content":"b","sequence":1,"task_id":"t1"}
data: {"type":"response","content":"c","sequence":3,"task_id":"t1"}
`
	a := NewAssembler(true, nil, testLogger())
	result := feedAll(t, a, body, len(body))

	if result.Content != "ac" {
		t.Errorf("Content = %q, want regressed event dropped", result.Content)
	}
	if result.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", result.Dropped)
	}

	// Lenient mode keeps the event
	a = NewAssembler(false, nil, testLogger())
	result = feedAll(t, a, body, len(body))
	if result.Content != "abc" {
		t.Errorf("Lenient content = %q, want abc", result.Content)
	}
}

func TestAssemblerDropsForeignTask(t *testing.T) {
	body := `data: {"type":"response","content":"mine","sequence":1,"task_id":"t1"}
data: {"type":"response","content":"stray","sequence":2,"task_id":"t2"}
`
	a := NewAssembler(true, nil, testLogger())
	result := feedAll(t, a, body, len(body))

	if result.Content != "mine" {
		t.Errorf("Content = %q, want foreign event dropped", result.Content)
	}
	if result.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", result.Dropped)
	}
}

func TestAssemblerSkipsMalformedLines(t *testing.T) {
	body := `data: {"type":"response","content":"a","sequence":1,"task_id":"t1"}
data: {not json
: keep-alive comment
data: {"type":"response","content":"b","sequence":2,"task_id":"t1"}
`
	a := NewAssembler(true, nil, testLogger())
	result := feedAll(t, a, body, 5)

	if result.Content != "ab" {
		t.Errorf("Content = %q, want ab", result.Content)
	}
	if result.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", result.Dropped)
	}
}

func TestAssemblerIgnoresContentAfterEnd(t *testing.T) {
	body := `data: {"type":"response","content":"a","sequence":1,"task_id":"t1"}
data: {"type":"end","content":"","sequence":2,"task_id":"t1"}
data: {"type":"response","content":"late","sequence":3,"task_id":"t1"}
`
	a := NewAssembler(true, nil, testLogger())
	result := feedAll(t, a, body, len(body))

	if result.Content != "a" {
		t.Errorf("Content = %q, want events after end ignored", result.Content)
	}
}

func TestAssemblerServerError(t *testing.T) {
	a := NewAssembler(true, nil, testLogger())
	a.Begin()
	err := a.Feed([]byte(`data: {"type":"error","content":"model overloaded","sequence":1,"task_id":"t1"}` + "\n"))
	if err == nil {
		t.Fatal("Expected error from error event")
	}
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Expected *ServerError, got %T", err)
	}
	if serverErr.Message != "model overloaded" {
		t.Errorf("Message = %q", serverErr.Message)
	}
	if a.State() != StateErrored {
		t.Errorf("State = %s, want errored", a.State())
	}
}

func TestAssemblerFinalizesWithoutEndEvent(t *testing.T) {
	// A trailing partial line without a newline still counts
	body := `data: {"type":"response","content":"hello","sequence":1,"task_id":"t1"}`
	a := NewAssembler(true, nil, testLogger())
	a.Begin()
	if err := a.Feed([]byte(body)); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	result, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("Content = %q, want hello", result.Content)
	}
	if a.State() != StateDone {
		t.Errorf("State = %s, want done", a.State())
	}
}

// slowReader emits nothing until its context is cancelled.
type slowReader struct {
	ctx context.Context
}

func (r *slowReader) Read(p []byte) (int, error) {
	<-r.ctx.Done()
	return 0, io.EOF
}

func TestConsumeReadsFullStream(t *testing.T) {
	a := NewAssembler(true, nil, testLogger())
	a.Begin()
	result, err := Consume(context.Background(), a, strings.NewReader(sampleStream), time.Second)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if result.Content != "I recommend Lisbon." {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestConsumeIdleTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewAssembler(true, nil, testLogger())
	a.Begin()
	_, err := Consume(ctx, a, &slowReader{ctx: ctx}, 20*time.Millisecond)
	if err == nil {
		t.Fatal("Expected idle timeout error")
	}
}

func TestConsumeContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	a := NewAssembler(true, nil, testLogger())
	a.Begin()
	_, err := Consume(ctx, a, &slowReader{ctx: ctx}, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}
