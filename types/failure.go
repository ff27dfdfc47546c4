package types

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// FailureInfo is the serializable form of an error tree. Entries are listed
// depth-first; ParentIndices[i] is the index of the entry that wraps entry i,
// or -1 for the root.
type FailureInfo struct {
	ExceptionTypes []string `json:"exceptionTypes"`
	Messages       []string `json:"messages"`
	StackTraces    []string `json:"stackTraces"`
	ParentIndices  []int    `json:"parentIndices"`
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// FailureInfoFromError flattens err and every error it wraps into a FailureInfo.
func FailureInfoFromError(err error) FailureInfo {
	var info FailureInfo
	if err == nil {
		return info
	}
	info.add(err, -1)
	return info
}

func (f *FailureInfo) add(err error, parent int) {
	idx := len(f.Messages)
	f.ExceptionTypes = append(f.ExceptionTypes, fmt.Sprintf("%T", err))
	f.Messages = append(f.Messages, err.Error())
	f.ParentIndices = append(f.ParentIndices, parent)

	stack := ""
	if st, ok := err.(stackTracer); ok {
		stack = strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
	}
	f.StackTraces = append(f.StackTraces, stack)

	switch wrapped := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			if inner != nil {
				f.add(inner, idx)
			}
		}
	case interface{ Unwrap() error }:
		if inner := wrapped.Unwrap(); inner != nil {
			f.add(inner, idx)
		}
	}
}

// Message returns the top-level error message, or "" for an empty FailureInfo.
func (f FailureInfo) Message() string {
	if len(f.Messages) == 0 {
		return ""
	}
	return f.Messages[0]
}

// Empty reports whether no failure was recorded.
func (f FailureInfo) Empty() bool {
	return len(f.Messages) == 0
}

// FailureCauseFromError classifies err for a TestFailed message.
func FailureCauseFromError(err error) FailureCause {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureCauseTimeout
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return FailureCauseTimeout
	}
	return FailureCauseException
}
