package stack

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// New wraps err with the call stack of the caller. skip is the number of
// frames to drop so the stack starts at the business call site, not inside
// the errs package itself.
func New(err error, skip int) error {
	if err == nil {
		return nil
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	return &stackError{err: err, pcs: pcs[:n]}
}

type stackError struct {
	err error
	pcs []uintptr
}

func (e *stackError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.err.Error())
	frames := runtime.CallersFrames(e.pcs)
	for {
		frame, more := frames.Next()
		if frame.Function == "" {
			break
		}
		sb.WriteString(" -> ")
		sb.WriteString(trimPkgPath(frame.Function))
		sb.WriteString("() ")
		sb.WriteString(frame.File)
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(frame.Line))
		if !more {
			break
		}
	}
	return sb.String()
}

func (e *stackError) Unwrap() error { return e.err }

func (e *stackError) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		_, _ = f.Write([]byte(e.Error()))
	}
}

func trimPkgPath(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		return fn[i+1:]
	}
	return fn
}
