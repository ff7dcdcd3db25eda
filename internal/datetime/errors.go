package datetime

import (
	"errors"
	"fmt"
)

// Reason classifies why a fragment could not be resolved.
type Reason string

const (
	ReasonNoTemporal Reason = "no temporal information"
	ReasonAmbiguous  Reason = "ambiguous"
	ReasonPast       Reason = "in the past"
	ReasonInvalid    Reason = "invalid date or time"
)

// ResolutionError is returned when a fragment does not describe exactly one future range.
type ResolutionError struct {
	Reason   Reason
	Fragment string
	Detail   string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %q: %s", e.Fragment, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func newErr(reason Reason, detail string) *ResolutionError {
	return &ResolutionError{Reason: reason, Detail: detail}
}

// AsResolutionError unwraps err into a *ResolutionError when it is one.
func AsResolutionError(err error) (*ResolutionError, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
