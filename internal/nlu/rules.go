package nlu

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"booking-chatter/internal/datetime"
)

var (
	cancelRe     = regexp.MustCompile(`\b(cancel|never ?mind|forget it|abort|quit|stop)\b`)
	rescheduleRe = regexp.MustCompile(`\b(reschedule|postpone|move (my|the) (meeting|appointment|booking|call))\b`)
	bookRe       = regexp.MustCompile(`\b(book|booking|schedule|set up|arrange|reserve|meet|meeting|appointment|call|slot|availability|available)\b`)

	noRe  = regexp.MustCompile(`\b(no|nope|nah|not|don't|doesn't|can't|cannot|won't|different|another|other|instead|rather|change)\b`)
	yesRe = regexp.MustCompile(`\b(no problem|no worries|not a problem|yes|yeah|yep|yup|sure|ok|okay|confirm|confirmed|correct|perfect|great|sounds good|book it|go ahead|do it|works|fine|absolutely|definitely)\b`)

	selectionRe = regexp.MustCompile(`^(?:(?:option|number|slot|choice|#)\s*)?([1-9])(?:st|nd|rd|th)?(?:\s+(?:one|option|please))?$`)
	ordinalRe   = regexp.MustCompile(`\b(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th)\b(?:\s+(?:one|option|slot|time))?`)
)

var ordinals = map[string]int{
	"first": 1, "1st": 1, "second": 2, "2nd": 2, "third": 3, "3rd": 3,
	"fourth": 4, "4th": 4, "fifth": 5, "5th": 5,
}

// RuleExtractor extracts intents and entities with keyword rules and the datetime grammar.
// It performs no I/O.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor { return &RuleExtractor{} }

func (RuleExtractor) Extract(_ context.Context, text string) (Extraction, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = strings.NewReplacer("’", "'", ",", " ", "!", " ", "?", " ", ".", " ").Replace(lower)
	lower = strings.Join(strings.Fields(lower), " ")

	out := Extraction{Intent: IntentUnknown, Text: text}
	out.Entities.Date, out.Entities.Time, out.Entities.Duration = datetime.Mentions(text)

	switch {
	case cancelRe.MatchString(lower):
		out.Intent = IntentCancel
	case rescheduleRe.MatchString(lower):
		out.Intent = IntentReschedule
	case bookRe.MatchString(lower):
		out.Intent = IntentBook
	}

	out.Entities.Confirmation = confirmation(lower)

	if !out.Entities.HasTemporal() {
		out.Entities.Selection = selection(lower)
	}
	return out, nil
}

// confirmation takes the earliest yes or no cue, so "yes, nothing to change" affirms
// and "no, the other one" rejects. On a tie the longer phrase wins.
func confirmation(lower string) Confirmation {
	yes := yesRe.FindStringIndex(lower)
	no := noRe.FindStringIndex(lower)
	switch {
	case yes == nil && no == nil:
		return ConfirmNone
	case no == nil:
		return ConfirmYes
	case yes == nil:
		return ConfirmNo
	case yes[0] < no[0], yes[0] == no[0] && yes[1] > no[1]:
		return ConfirmYes
	}
	return ConfirmNo
}

func selection(lower string) int {
	if m := selectionRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := ordinalRe.FindStringSubmatch(lower); m != nil {
		return ordinals[m[1]]
	}
	return 0
}
