// Package report carries per-stage status from the pipelines to the user.
package report

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/faanross/simulacra_bmp/internal/spec"
)

// Reporter receives a success or failure signal for each pipeline stage
type Reporter interface {
	StageDone(stage spec.Stage)
	StageFailed(stage spec.Stage, err error)
	Infof(format string, args ...any)
}

// Console prints stage status lines.
// On a terminal it uses the emoji style, otherwise plain "INFO :" lines.
type Console struct {
	w     io.Writer
	fancy bool
}

// NewConsole creates a console reporter writing to w
func NewConsole(w io.Writer) *Console {
	fancy := false
	if f, ok := w.(*os.File); ok {
		fancy = term.IsTerminal(int(f.Fd()))
	}
	return &Console{w: w, fancy: fancy}
}

// NewPlainConsole forces plain output regardless of the writer
func NewPlainConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) StageDone(stage spec.Stage) {
	if c.fancy {
		fmt.Fprintf(c.w, "   ✅ %s\n", capitalize(stage.String()))
		return
	}
	fmt.Fprintf(c.w, "INFO : %s success\n", capitalize(stage.String()))
}

func (c *Console) StageFailed(stage spec.Stage, err error) {
	if c.fancy {
		fmt.Fprintf(c.w, "   ❌ %s: %v\n", capitalize(stage.String()), err)
		return
	}
	fmt.Fprintf(c.w, "INFO : %s failure: %v\n", capitalize(stage.String()), err)
}

func (c *Console) Infof(format string, args ...any) {
	if c.fancy {
		fmt.Fprintf(c.w, "   "+format+"\n", args...)
		return
	}
	fmt.Fprintf(c.w, "INFO : "+format+"\n", args...)
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// Discard drops everything
var Discard Reporter = discard{}

type discard struct{}

func (discard) StageDone(spec.Stage)          {}
func (discard) StageFailed(spec.Stage, error) {}
func (discard) Infof(string, ...any)          {}

// Event is one recorded stage signal
type Event struct {
	Stage spec.Stage
	Err   error
}

// Recorder keeps stage signals in order
type Recorder struct {
	mu     sync.Mutex
	Events []Event
	Lines  []string
}

func (r *Recorder) StageDone(stage spec.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Stage: stage})
}

func (r *Recorder) StageFailed(stage spec.Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Stage: stage, Err: err})
}

func (r *Recorder) Infof(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, fmt.Sprintf(format, args...))
}

// Stages returns the stages that completed successfully, in order
func (r *Recorder) Stages() []spec.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stages []spec.Stage
	for _, e := range r.Events {
		if e.Err == nil {
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

// Failed returns the first failure event, if any
func (r *Recorder) Failed() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.Events {
		if e.Err != nil {
			return e, true
		}
	}
	return Event{}, false
}
