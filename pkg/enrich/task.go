package enrich

import (
	"context"
	"time"

	"github.com/teslashibe/stairguard/pkg/detection"
	"github.com/teslashibe/stairguard/pkg/narration"
)

// Kind tags a Result.
type Kind int

const (
	Success Kind = iota
	Failure
)

func (k Kind) String() string {
	if k == Success {
		return "success"
	}
	return "failure"
}

// Result is the outcome of one enrichment call. On failure Text holds the
// local fallback phrase, so it is never empty.
type Result struct {
	ID      string
	Kind    Kind
	Text    string
	Urgency narration.Urgency
	Err     error
	Reason  string // inference.Reason of Err, failures only
	Summary *detection.Summary
	Forced  bool
	Latency time.Duration
}

// OK reports whether the cloud answered.
func (r Result) OK() bool { return r.Kind == Success }

// Phrase returns the result as a speakable phrase.
func (r Result) Phrase() narration.Phrase {
	return narration.Phrase{Text: r.Text, Urgency: r.Urgency}
}

// Task is a handle on an accepted request.
type Task struct {
	ID      string
	Forced  bool
	Summary *detection.Summary

	done   chan struct{}
	result Result
}

func newTask(id string, summary *detection.Summary, forced bool) *Task {
	return &Task{ID: id, Forced: forced, Summary: summary, done: make(chan struct{})}
}

func (t *Task) complete(r Result) {
	t.result = r
	close(t.done)
}

// Done is closed once the result is available.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the result is available or ctx ends.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the result if the task has finished.
func (t *Task) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return Result{}, false
	}
}
