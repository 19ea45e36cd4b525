// Package errs collects errors from concurrent fan-out calls to multiple
// subvolumes. Grounded on backend/union/errors.go's Errors slice type from
// the teacher.
package errs

import (
	"bytes"
	"fmt"
)

// Multi wraps a fixed-size slice of per-subvolume errors, one slot per
// subvolume touched by a fan-out operation.
type Multi []error

// Map returns a copy with every non-nil error replaced per mapping. A nil
// result drops the slot.
func (m Multi) Map(mapping func(error) error) Multi {
	out := make([]error, 0, len(m))
	for _, err := range m {
		if err == nil {
			continue
		}
		if nerr := mapping(err); nerr != nil {
			out = append(out, nerr)
		}
	}
	return Multi(out)
}

// FilterNil drops nil slots.
func (m Multi) FilterNil() Multi {
	return m.Map(func(err error) error { return err })
}

// Err returns nil if every slot is nil, otherwise an error describing all
// non-nil slots.
func (m Multi) Err() error {
	f := m.FilterNil()
	if len(f) == 0 {
		return nil
	}
	return f
}

// Error implements error.
func (m Multi) Error() string {
	var buf bytes.Buffer
	switch len(m) {
	case 0:
		buf.WriteString("no error")
	case 1:
		buf.WriteString("1 error: ")
	default:
		fmt.Fprintf(&buf, "%d errors: ", len(m))
	}
	for i, err := range m {
		if i != 0 {
			buf.WriteString("; ")
		}
		if err != nil {
			buf.WriteString(err.Error())
		} else {
			buf.WriteString("nil error")
		}
	}
	return buf.String()
}

// Unwrap exposes the wrapped errors to errors.Is/As.
func (m Multi) Unwrap() []error {
	return m
}

// First returns the first non-nil error, or nil.
func (m Multi) First() error {
	for _, err := range m {
		if err != nil {
			return err
		}
	}
	return nil
}
