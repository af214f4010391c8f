package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Diagnostic is a user-facing compile error tied to a source line.
type Diagnostic struct {
	Msg  string
	Line int
}

func (d Diagnostic) Error() string {
	if d.Line > 0 {
		return fmt.Sprintf("line %d: %s", d.Line, d.Msg)
	}
	return d.Msg
}

func errorf(line int, format string, args ...any) error {
	return Diagnostic{Msg: fmt.Sprintf(format, args...), Line: line}
}

// Diagnostics is the ordered set of errors a pass produced.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	msgs := make([]string, len(ds))
	for i, d := range ds {
		msgs[i] = d.Error()
	}
	return strings.Join(msgs, "\n")
}

// add records err, flattening nested diagnostic sets.
func (ds *Diagnostics) add(err error) {
	if err == nil {
		return
	}
	var many Diagnostics
	if errors.As(err, &many) {
		*ds = append(*ds, many...)
		return
	}
	var d Diagnostic
	if errors.As(err, &d) {
		*ds = append(*ds, d)
		return
	}
	*ds = append(*ds, Diagnostic{Msg: err.Error()})
}

// err returns nil for an empty set so callers can return it directly.
func (ds Diagnostics) err() error {
	if len(ds) == 0 {
		return nil
	}
	return ds
}

func internalError(format string, args ...any) {
	panic("internal compiler error: " + fmt.Sprintf(format, args...))
}
