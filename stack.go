package ensemble

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// StackTrace is a captured goroutine stack, optionally linked to the stack of the goroutine that
// started it.
//
// Tasks run on their own goroutines, so the stack at the point of a panic says nothing about where
// the task came from. [TaskGroup.Go] records its caller's stack, and a task's panic trace uses that
// as its Parent.
type StackTrace struct {
	Frames []StackFrame
	Parent *StackTrace
}

// StackFrame is a single function call within a [StackTrace].
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// PanicError is the error recorded for a task that panicked.
type PanicError struct {
	// Task is the name of the task that panicked
	Task string
	// Value is the value passed to panic
	Value any
	// Stack is where the panic happened, with the stack of where the task was started as its parent
	Stack StackTrace
}

var _ error = (*PanicError)(nil)

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %q panicked: %v", e.Task, e.Value)
}

// Unwrap returns the panic value, if it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// GetStackTrace returns the stack of the calling goroutine, skipping the given number of frames
// above the caller.
func GetStackTrace(parent *StackTrace, skip uint) StackTrace {
	frames := getFrames(skip + 1) // skip the frame for GetStackTrace itself
	return StackTrace{Frames: frames, Parent: parent}
}

// String formats the trace similarly to the runtime's own panic output, followed by each parent in
// turn.
func (st StackTrace) String() string {
	var sb strings.Builder

	for {
		if len(st.Frames) == 0 {
			sb.WriteString("<empty stack>\n")
		}

		for _, f := range st.Frames {
			if f.Function == "" {
				sb.WriteString("<unknown function>")
			} else {
				sb.WriteString(f.Function)
				sb.WriteString("(...)")
			}

			sb.WriteString("\n\t")

			if f.File == "" {
				sb.WriteString("<unknown file>")
			} else {
				sb.WriteString(f.File)
				if f.Line != 0 {
					sb.WriteByte(':')
					sb.WriteString(strconv.Itoa(f.Line))
				}
			}
			sb.WriteByte('\n')
		}

		if st.Parent == nil {
			return sb.String()
		}
		st = *st.Parent
	}
}

var pcBufPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, 128)
		return &buf
	},
}

func putPCBuffer(buf *[]uintptr) {
	if len(*buf) < 1024 {
		pcBufPool.Put(buf)
	}
}

func getFrames(skip uint) []StackFrame {
	skip += 2 // skip getFrames and runtime.Callers

	pcBuf := pcBufPool.Get().(*[]uintptr)
	defer putPCBuffer(pcBuf)

	// grow the buffer until everything fits
	var pc []uintptr
	for {
		n := runtime.Callers(0, *pcBuf)
		if n < len(*pcBuf) {
			pc = (*pcBuf)[:n]
			break
		}
		*pcBuf = make([]uintptr, 2*len(*pcBuf))
	}

	var frames []StackFrame
	iter := runtime.CallersFrames(pc)
	for more := len(pc) != 0; more; {
		var frame runtime.Frame
		frame, more = iter.Next()

		if skip > 0 {
			skip -= 1
			continue
		}

		frames = append(frames, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
	}

	return frames
}
