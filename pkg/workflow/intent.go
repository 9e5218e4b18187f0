package workflow

import (
	"regexp"
	"strings"
)

// Intent is a coarse reading of a free-text message.
type Intent string

const (
	IntentVendor     Intent = "vendor"
	IntentPreference Intent = "preference"
	IntentCorrection Intent = "correction"
	IntentConfirm    Intent = "confirm"
	IntentNewReport  Intent = "new_report"
	IntentReclassify Intent = "reclassify"
	IntentClosing    Intent = "closing"
	IntentQuestion   Intent = "question"
)

// Intents is the set of intents found in one message.
type Intents map[Intent]bool

// Has reports whether i was detected.
func (in Intents) Has(i Intent) bool {
	return in[i]
}

var (
	vendorRe = regexp.MustCompile(`\b(buy|purchase|vendors?|shops?|stores?|sellers?|dealers?|suppliers?|where (can|do|could) i (get|find)|where to (get|buy|find)|near me|nearby)\b`)

	// BudgetRe captures an amount following a budget cue.
	BudgetRe = regexp.MustCompile(`(?:under|below|less than|within|budget(?: of| is)?|max(?:imum)?(?: of)?|up ?to|not more than)\s*(?:rs\.?|inr|₹|\$)?\s*(\d+(?:\.\d+)?)`)

	preferenceRe = regexp.MustCompile(`\b(organic|natural|chemical[- ]free|no chemicals?|budget|cheap|cheapest|affordable|low[- ]cost|deliver|delivery|home delivery|doorstep)\b`)
	correctionRe = regexp.MustCompile(`\b(actually|i think|i believe|pretty sure|i'm sure|not|isn't|wrong|incorrect|mistaken|looks like|rather|instead)\b`)
	confirmRe    = regexp.MustCompile(`^(yes|yeah|yep|yup|correct|right|confirm(ed)?|that'?s right|that is right|exactly|looks right|agreed?)\b`)
	closingRe    = regexp.MustCompile(`^(thanks|thank you|thank u|thx|bye|goodbye|that'?s all|that is all|no thanks|nothing else|done|ok bye)\b`)
	newReportRe  = regexp.MustCompile(`\b(new problem|another problem|new issue|another issue|another plant|different plant|other plant|another crop|different crop|start over|restart|start again)\b`)
	reclassifyRe = regexp.MustCompile(`\b(reclassify|re-?classify|analy[sz]e (it )?again|check again|re-?check|scan again|try again|classify again)\b`)
	questionRe   = regexp.MustCompile(`^(what|how|why|when|which|who|can|could|should|would|is|are|do|does|will|may|shall)\b`)
)

// Normalize lowercases and trims a message for matching.
func Normalize(text string) string {
	return strings.TrimSpace(strings.ToLower(text))
}

// DetectIntents reads a message with keyword rules.
func DetectIntents(text string) Intents {
	t := Normalize(text)
	in := Intents{}
	if t == "" {
		return in
	}
	in[IntentVendor] = vendorRe.MatchString(t)
	in[IntentPreference] = preferenceRe.MatchString(t) || BudgetRe.MatchString(t)
	in[IntentCorrection] = correctionRe.MatchString(t)
	in[IntentConfirm] = confirmRe.MatchString(t)
	in[IntentClosing] = closingRe.MatchString(t)
	in[IntentNewReport] = newReportRe.MatchString(t)
	in[IntentReclassify] = reclassifyRe.MatchString(t)
	in[IntentQuestion] = strings.HasSuffix(t, "?") || questionRe.MatchString(t)
	return in
}
