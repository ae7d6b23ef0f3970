package errs

import (
	"strings"

	"github.com/quill-lang/quill/ast"
)

const TopFrameName = "<top>"

// TraceFrame is one line of a stack trace: the frame's lambda name and the
// location where control left that frame.
type TraceFrame struct {
	Name     string
	Location *ast.Location
}

// StackTrace lists frames innermost first. The last frame is always <top>.
type StackTrace struct {
	Frames []TraceFrame
}

// CallFrame is the raw frame-stack entry at error time.
type CallFrame struct {
	Name         string
	CallLocation *ast.Location
}

// NewStackTrace snapshots a frame stack (outermost first) and the failure
// location. Each displayed frame gets the location one level deeper: the
// innermost frame shows where the failure happened, each outer frame shows
// where it called the next frame, and <top> shows the outermost call site.
func NewStackTrace(frames []CallFrame, failure *ast.Location) *StackTrace {
	out := make([]TraceFrame, 0, len(frames)+1)
	loc := failure
	for i := len(frames) - 1; i >= 0; i-- {
		out = append(out, TraceFrame{Name: frames[i].Name, Location: loc})
		loc = frames[i].CallLocation
	}
	out = append(out, TraceFrame{Name: TopFrameName, Location: loc})
	return &StackTrace{Frames: out}
}

// Location is the failure location, if known.
func (t *StackTrace) Location() *ast.Location {
	if t == nil || len(t.Frames) == 0 {
		return nil
	}
	return t.Frames[0].Location
}

func (t *StackTrace) String() string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Stack trace:")
	for _, f := range t.Frames {
		b.WriteString("\n  ")
		b.WriteString(f.Name)
		if f.Location != nil {
			b.WriteString(" at ")
			b.WriteString(f.Location.String())
		}
	}
	return b.String()
}
