// Package report renders run outputs, errors and pool statistics for the
// terminal.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/runner"
	"github.com/quill-lang/quill/vm"
)

const rule = "================================================================================"
const thinRule = "--------------------------------------------------------------------------------"

// FormatOutput formats the result and exports of one module. With
// allBindings set, every binding is listed instead of only the exports.
func FormatOutput(name string, out *interp.Output, allBindings bool) string {
	var b strings.Builder
	b.WriteString(color.Cyan.Sprintf("== %s\n", name))
	if out.Result != nil && out.Result.Kind() != vm.VoidKind {
		b.WriteString(color.Green.Sprint(out.Result.String()))
		b.WriteString("\n")
	}
	dict, label := out.Exports, "Exports"
	if allBindings {
		dict, label = out.Bindings, "Bindings"
	}
	if dict == nil || dict.Len() == 0 {
		return b.String()
	}
	b.WriteString(color.Gray.Sprintf("%s:\n", label))
	for _, k := range dict.Keys() {
		v, _ := dict.Get(k)
		b.WriteString("  ")
		b.WriteString(color.Bold.Sprint(k))
		b.WriteString(" = ")
		b.WriteString(v.String())
		if display := v.Tags().GetName(); display != "" {
			b.WriteString(color.Gray.Sprintf("  (%s)", display))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func errorTitle(err error) string {
	var cerr *errs.CompileError
	var rerr *errs.RuntimeError
	var perr *errs.ProtocolError
	switch {
	case errors.As(err, &cerr):
		return "COMPILE ERROR"
	case errors.As(err, &rerr):
		return fmt.Sprintf("RUNTIME ERROR (%s)", rerr.Kind)
	case errors.As(err, &perr):
		return "PROTOCOL ERROR"
	}
	return "ERROR"
}

// FormatError formats a failed module run with its detail indented below
// the message.
func FormatError(name string, err error) string {
	qerr := errs.Wrap(err)
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(rule))
	b.WriteString("\n")
	b.WriteString(color.Red.Sprint(errorTitle(qerr)))
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(rule))
	b.WriteString("\n")
	b.WriteString(color.Bold.Sprint("Module:   "))
	b.WriteString(color.Yellow.Sprintf("%s\n", name))
	b.WriteString(color.Bold.Sprint("Message:  "))
	b.WriteString(color.Red.Sprintf("%s\n", qerr.Message()))
	if detail := qerr.Detail(); detail != "" && detail != qerr.Message() {
		b.WriteString(color.Gray.Sprint(thinRule))
		b.WriteString("\n")
		iw := &indentWriter{w: &b, indent: "  ", atLineStart: true}
		io.WriteString(iw, detail)
		b.WriteString("\n")
	}
	b.WriteString(color.Gray.Sprint(rule))
	b.WriteString("\n")
	return b.String()
}

// FormatPoolStats formats thread usage of a pool runner.
func FormatPoolStats(stats runner.PoolStats) string {
	var b strings.Builder
	b.WriteString(color.Cyan.Sprint("=== Pool statistics ==="))
	b.WriteString("\n")
	b.WriteString(color.Bold.Sprint("Threads: "))
	b.WriteString(fmt.Sprintf("%d\n", len(stats.Threads)))
	var total int64
	for _, th := range stats.Threads {
		total += th.Jobs
		state := "idle"
		if th.Busy {
			state = "busy"
		}
		fmt.Fprintf(&b, "  %s  %-4s  %d jobs\n", th.ID, state, th.Jobs)
	}
	b.WriteString(color.Bold.Sprint("Jobs run: "))
	b.WriteString(fmt.Sprintf("%d\n", total))
	if stats.Waiting > 0 {
		b.WriteString(color.Bold.Sprint("Waiting: "))
		b.WriteString(color.Yellow.Sprintf("%d\n", stats.Waiting))
	}
	return b.String()
}

// indentWriter prefixes every line written through it.
type indentWriter struct {
	w           io.Writer
	indent      string
	atLineStart bool
}

func (iw *indentWriter) Write(p []byte) (n int, err error) {
	total := 0
	for len(p) > 0 {
		if iw.atLineStart {
			if _, err := io.WriteString(iw.w, iw.indent); err != nil {
				return total, err
			}
			iw.atLineStart = false
		}
		idx := 0
		for idx < len(p) && p[idx] != '\n' {
			idx++
		}
		if idx < len(p) {
			idx++
			iw.atLineStart = true
		}
		written, err := iw.w.Write(p[:idx])
		total += written
		if err != nil {
			return total, err
		}
		p = p[idx:]
	}
	return total, nil
}
