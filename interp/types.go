package interp

import (
	"fmt"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
)

// Stack is the value stack shared by one reduction. Offsets count back
// from the top.
type Stack struct {
	values []vm.Value
}

func (s *Stack) Push(v vm.Value) {
	s.values = append(s.values, v)
}

func (s *Stack) Get(offset int) (vm.Value, error) {
	idx := len(s.values) - 1 - offset
	if offset < 0 || idx < 0 {
		return nil, fmt.Errorf("stack offset %d out of range (size %d)", offset, len(s.values))
	}
	return s.values[idx], nil
}

// At reads an absolute slot, counted from the bottom.
func (s *Stack) At(slot int) (vm.Value, error) {
	if slot < 0 || slot >= len(s.values) {
		return nil, fmt.Errorf("stack slot %d out of range (size %d)", slot, len(s.values))
	}
	return s.values[slot], nil
}

func (s *Stack) Size() int {
	return len(s.values)
}

func (s *Stack) Shrink(size int) {
	clear(s.values[size:])
	s.values = s.values[:size]
}

type Frame struct {
	Lambda       vm.Lambda
	CallLocation *ast.Location
}

// FrameStack is append/pop only and never shared between reductions.
type FrameStack struct {
	frames []Frame
}

func (f *FrameStack) Push(fr Frame) {
	f.frames = append(f.frames, fr)
}

func (f *FrameStack) Pop() {
	f.frames = f.frames[:len(f.frames)-1]
}

func (f *FrameStack) Top() (Frame, bool) {
	if len(f.frames) == 0 {
		return Frame{}, false
	}
	return f.frames[len(f.frames)-1], true
}

func (f *FrameStack) Depth() int {
	return len(f.frames)
}

// Snapshot copies the frames for a stack trace, outermost first.
func (f *FrameStack) Snapshot() []errs.CallFrame {
	out := make([]errs.CallFrame, len(f.frames))
	for i, fr := range f.frames {
		out[i] = errs.CallFrame{Name: fr.Lambda.LambdaName(), CallLocation: fr.CallLocation}
	}
	return out
}

func (f *FrameStack) Reset() {
	clear(f.frames)
	f.frames = f.frames[:0]
}
