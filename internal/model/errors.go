package model

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord is matched by every MalformedRecordError.
var ErrMalformedRecord = errors.New("malformed record")

// MalformedRecordError reports a record with a missing or mistyped required
// field. Index is the zero-based position of the record within Source.
type MalformedRecordError struct {
	Source string
	Index  int
	Field  string
	Reason string
	Cause  error
}

func (e *MalformedRecordError) Error() string {
	if e == nil {
		return ErrMalformedRecord.Error()
	}
	msg := fmt.Sprintf("malformed record %d", e.Index)
	if e.Source != "" {
		msg += " in " + e.Source
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func (e *MalformedRecordError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
