package dialogue

import "booking-chatter/internal/nlu"

// Signal is how a reply to a confirmation question is read.
type Signal int

const (
	SignalUnclear Signal = iota
	SignalAffirm
	SignalReject
	// SignalAmend means the user named a different time or length.
	SignalAmend
)

func (s Signal) String() string {
	switch s {
	case SignalAffirm:
		return "affirm"
	case SignalReject:
		return "reject"
	case SignalAmend:
		return "amend"
	default:
		return "unclear"
	}
}

// Interpret classifies a reply to "shall I book X?". New time information wins over a
// bare yes or no, so "no, how about Friday instead" amends rather than rejects.
func Interpret(x nlu.Extraction) Signal {
	ents := x.Entities
	switch {
	case ents.HasTemporal() || ents.Duration != "":
		return SignalAmend
	case ents.Confirmation == nlu.ConfirmYes:
		return SignalAffirm
	case ents.Confirmation == nlu.ConfirmNo, x.Intent == nlu.IntentReschedule:
		return SignalReject
	default:
		return SignalUnclear
	}
}
