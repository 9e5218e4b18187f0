package handlers

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/workflow"
)

var cropAliases = index(map[string][]string{
	"tomato":    {"tomatoes"},
	"potato":    {"potatoes"},
	"rice":      {"paddy"},
	"wheat":     {},
	"maize":     {"corn"},
	"chilli":    {"chili", "chillies", "capsicum"},
	"cotton":    {},
	"brinjal":   {"eggplant", "aubergine"},
	"onion":     {"onions"},
	"soybean":   {"soya"},
	"groundnut": {"peanut"},
	"sugarcane": {},
	"banana":    {},
	"mango":     {},
	"grape":     {"grapes"},
	"cucumber":  {},
	"cabbage":   {},
	"okra":      {"bhindi"},
	"apple":     {},
	"citrus":    {"orange", "lemon"},
})

var seasonAliases = index(map[string][]string{
	"kharif":  {},
	"rabi":    {},
	"zaid":    {},
	"summer":  {},
	"winter":  {},
	"spring":  {},
	"autumn":  {},
	"monsoon": {"rainy"},
})

var stageAliases = index(map[string][]string{
	"seedling":   {"seedlings", "nursery"},
	"vegetative": {"tillering"},
	"flowering":  {"blooming"},
	"fruiting":   {"fruit set"},
	"maturity":   {"harvest", "mature", "ripening"},
})

// index maps every alias, and the canonical name itself, to the canonical name.
func index(m map[string][]string) map[string]string {
	out := make(map[string]string)
	for canonical, aliases := range m {
		out[canonical] = canonical
		for _, a := range aliases {
			out[a] = canonical
		}
	}
	return out
}

var symptomWords = []string{
	"spot", "spots", "yellow", "yellowing", "brown", "black", "wilt", "wilting", "curl",
	"curling", "lesion", "lesions", "mold", "mould", "mildew", "rot", "rotting", "holes",
	"powder", "powdery", "rust", "blight", "dry", "drying", "drooping", "stunted", "patches",
}

var (
	wordRe = regexp.MustCompile(`[a-z]+`)

	symptomClauseRe = regexp.MustCompile(`(?i)\b(?:has|have|having|with|showing|shows|got|getting)\s+([^.,;!?]+)`)

	// "in Pune", "from Nashik", "near Satara": a capitalized place after a preposition.
	placeRe = regexp.MustCompile(`\b(?:in|from|near|at|around)\s+([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)?)`)

	// Explicit location statements accept any casing.
	locationStatementRe = regexp.MustCompile(`(?i)\b(?:location is|located in|i am in|i'm in|i live in|i am from|i'm from|my farm is in|farm in|village is)\s+([a-z][a-z ]{1,40}?)(?:[.,;!?]|$|\s+(?:and|but|with|district|taluka)\b)`)

	organicNoRe  = regexp.MustCompile(`\b(chemicals? (is|are) (fine|ok|okay)|not organic|any (treatment|option)s?)\b`)
	organicYesRe = regexp.MustCompile(`\b(organic|natural|chemical[- ]free|no chemicals?)\b`)
	deliveryNoRe = regexp.MustCompile(`\b(no delivery|without delivery|pick ?up|collect it|i'?ll collect)\b`)
	deliveryRe   = regexp.MustCompile(`\b(deliver|delivery|doorstep|home delivery|ship)\b`)
)

// placeStop are capitalized words that follow "in" without being places.
var placeStop = map[string]bool{
	"the": true, "my": true, "our": true, "a": true, "an": true, "this": true, "that": true,
	"january": true, "february": true, "march": true, "april": true, "may": true, "june": true,
	"july": true, "august": true, "september": true, "october": true, "november": true, "december": true,
	"i": true, "it": true, "field": true, "leaves": true,
}

// Extracted is what rule-based parsing found in one message.
type Extracted struct {
	Profile domain.ProfilePatch
}

// Extract parses crop, location, season, growth stage, symptoms and preferences.
func Extract(text string) Extracted {
	var p domain.ProfilePatch
	lower := workflow.Normalize(text)
	words := wordRe.FindAllString(lower, -1)

	for _, w := range words {
		if c, ok := cropAliases[w]; ok && p.Crop == "" {
			p.Crop = c
		}
		if s, ok := seasonAliases[w]; ok && p.Season == "" {
			p.Season = s
		}
	}
	best := 0
	for alias, stage := range stageAliases {
		if len(alias) > best && strings.Contains(lower, alias) {
			p.GrowthStage, best = stage, len(alias)
		}
	}
	p.Location = extractLocation(text)
	p.Symptoms = extractSymptoms(text, words)
	p.OrganicOnly, p.BudgetCeiling, p.Delivery = extractPreferences(lower)
	return Extracted{Profile: p}
}

func extractLocation(text string) string {
	if m := locationStatementRe.FindStringSubmatch(text); m != nil {
		return titleCase(strings.TrimSpace(m[1]))
	}
	for _, m := range placeRe.FindAllStringSubmatch(text, -1) {
		first := strings.ToLower(strings.Fields(m[1])[0])
		if placeStop[first] || seasonAliases[first] != "" || cropAliases[first] != "" {
			continue
		}
		return m[1]
	}
	return ""
}

func extractSymptoms(text string, words []string) string {
	hasSymptom := func(s string) bool {
		for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
			if isSymptomWord(w) {
				return true
			}
		}
		return false
	}
	if m := symptomClauseRe.FindStringSubmatch(text); m != nil && hasSymptom(m[1]) {
		return strings.TrimSpace(strings.ToLower(m[1]))
	}
	var found []string
	for _, w := range words {
		if isSymptomWord(w) {
			found = append(found, w)
		}
	}
	return strings.Join(found, " ")
}

func isSymptomWord(w string) bool {
	return slices.Contains(symptomWords, w)
}

func extractPreferences(lower string) (organic *bool, budget *float64, delivery *bool) {
	switch {
	case organicNoRe.MatchString(lower):
		organic = boolPtr(false)
	case organicYesRe.MatchString(lower):
		organic = boolPtr(true)
	}
	if m := workflow.BudgetRe.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			budget = &v
		}
	}
	switch {
	case deliveryNoRe.MatchString(lower):
		delivery = boolPtr(false)
	case deliveryRe.MatchString(lower):
		delivery = boolPtr(true)
	}
	return organic, budget, delivery
}

func canonicalCrop(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := cropAliases[s]; ok {
		return c
	}
	return s
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func boolPtr(b bool) *bool { return &b }

// nonAnswerRe matches replies that decline, hedge or acknowledge instead of answering.
var nonAnswerRe = regexp.MustCompile(`^(?:i\s+|i'?m\s+)?(no|nope|nah|not sure|unsure|maybe|perhaps|dunno|don'?t know|do not know|no idea|idk|ok|okay|k|sure|fine|cool|hmm+|hi|hello|hey|nothing|none|n/?a|skip|later|whatever|forget it)\b`)

// bareAnswer interprets a short reply as the value of the field that was asked for.
// Crops, seasons and stages must name a known value; non-answers are rejected.
func bareAnswer(text string, f domain.Field) string {
	t := strings.Trim(strings.TrimSpace(text), ".!")
	if t == "" || len(strings.Fields(t)) > 3 || strings.ContainsAny(t, "?") {
		return ""
	}
	lower := strings.ToLower(t)
	intents := workflow.DetectIntents(lower)
	if nonAnswerRe.MatchString(lower) || intents.Has(workflow.IntentClosing) || intents.Has(workflow.IntentConfirm) {
		return ""
	}
	switch f {
	case domain.FieldLocation:
		return titleCase(lower)
	case domain.FieldCrop:
		return cropAliases[lower]
	case domain.FieldSeason:
		return seasonAliases[lower]
	case domain.FieldGrowthStage:
		return stageAliases[lower]
	}
	return ""
}

// fill builds the profile patch for values the session does not know yet. Values that
// differ from known ones are returned as conflicts, unless correct is set, in which case
// they are patched and listed as corrections. Symptoms accumulate.
func fill(s *domain.Session, found domain.ProfilePatch, correct bool) (domain.SessionPatch, []domain.Field) {
	var patch domain.SessionPatch
	var conflicts []domain.Field
	for _, f := range domain.ProfileFields {
		v := found.Get(f)
		cur := s.ProfileValue(f)
		switch {
		case v == "" || strings.EqualFold(v, cur):
		case cur == "":
			patch.Profile.Set(f, v)
		case f == domain.FieldSymptoms:
			if !strings.Contains(strings.ToLower(cur), strings.ToLower(v)) {
				patch.Profile.Set(f, cur+"; "+v)
				patch.Corrections = append(patch.Corrections, f)
			}
		case correct:
			patch.Profile.Set(f, v)
			patch.Corrections = append(patch.Corrections, f)
		default:
			conflicts = append(conflicts, f)
		}
	}

	prefs := s.Profile.Preferences
	changed := false
	if found.OrganicOnly != nil && *found.OrganicOnly != prefs.OrganicOnly {
		patch.Profile.OrganicOnly = found.OrganicOnly
		changed = changed || prefs.OrganicOnly
	}
	if found.BudgetCeiling != nil && *found.BudgetCeiling != prefs.BudgetCeiling {
		patch.Profile.BudgetCeiling = found.BudgetCeiling
		changed = changed || prefs.BudgetCeiling != 0
	}
	if found.Delivery != nil && *found.Delivery != prefs.Delivery {
		patch.Profile.Delivery = found.Delivery
		changed = changed || prefs.Delivery
	}
	if changed {
		patch.Corrections = append(patch.Corrections, domain.FieldPreferences)
	}
	return patch, conflicts
}

// overlay lays hints over text findings; hints win.
func overlay(text domain.ProfilePatch, hints Hints) domain.ProfilePatch {
	h := hints.profile()
	for _, f := range domain.ProfileFields {
		if v := h.Get(f); v != "" {
			text.Set(f, v)
		}
	}
	if h.OrganicOnly != nil {
		text.OrganicOnly = h.OrganicOnly
	}
	if h.BudgetCeiling != nil {
		text.BudgetCeiling = h.BudgetCeiling
	}
	if h.Delivery != nil {
		text.Delivery = h.Delivery
	}
	return text
}
