package handlers

import (
	"regexp"
	"sort"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
)

// diseaseNames maps classifier labels to the phrases farmers use for them.
var diseaseNames = map[string][]string{
	"early_blight":       {"early blight", "alternaria"},
	"late_blight":        {"late blight", "phytophthora"},
	"leaf_mold":          {"leaf mold", "leaf mould"},
	"septoria_leaf_spot": {"septoria leaf spot", "septoria"},
	"bacterial_spot":     {"bacterial spot"},
	"powdery_mildew":     {"powdery mildew"},
	"downy_mildew":       {"downy mildew"},
	"leaf_curl":          {"leaf curl", "leaf curl virus", "yellow leaf curl"},
	"mosaic_virus":       {"mosaic virus", "mosaic"},
	"rust":               {"rust"},
	"anthracnose":        {"anthracnose"},
	"fusarium_wilt":      {"fusarium wilt", "fusarium"},
	"bacterial_wilt":     {"bacterial wilt"},
	"blast":              {"rice blast", "blast"},
	"brown_spot":         {"brown spot"},
	"healthy":            {"healthy"},
}

type phrase struct {
	text  string
	label string
}

// phrases are all disease phrases, longest first so "yellow leaf curl" wins over "leaf curl".
var phrases = func() []phrase {
	var out []phrase
	for label, names := range diseaseNames {
		out = append(out, phrase{text: strings.ReplaceAll(label, "_", " "), label: label})
		for _, n := range names {
			out = append(out, phrase{text: n, label: label})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].text) != len(out[j].text) {
			return len(out[i].text) > len(out[j].text)
		}
		return out[i].text < out[j].text
	})
	return out
}()

var negationRe = regexp.MustCompile(`\b(not|isn'?t|no|instead of|rather than|wasn'?t)\s*(it'?s\s+|an?\s+|the\s+)?$`)

// Mention is a disease named in a message.
type Mention struct {
	Label   string
	Negated bool
	pos     int
}

// Diseases returns the diseases named in text in order of appearance. A mention
// preceded by a negation ("not early blight") is flagged Negated.
func Diseases(text string) []Mention {
	lower := strings.ToLower(text)
	taken := make([]bool, len(lower))
	var out []Mention
	for _, p := range phrases {
		for start := 0; ; {
			i := strings.Index(lower[start:], p.text)
			if i < 0 {
				break
			}
			i += start
			end := i + len(p.text)
			start = end
			if !wordBoundary(lower, i, end) || anyTaken(taken[i:end]) {
				continue
			}
			for k := i; k < end; k++ {
				taken[k] = true
			}
			out = append(out, Mention{
				Label:   p.label,
				Negated: negationRe.MatchString(lower[max(0, i-20):i]),
				pos:     i,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

func wordBoundary(s string, i, j int) bool {
	isWord := func(b byte) bool { return b >= 'a' && b <= 'z' }
	return (i == 0 || !isWord(s[i-1])) && (j == len(s) || !isWord(s[j]))
}

func anyTaken(ts []bool) bool {
	for _, t := range ts {
		if t {
			return true
		}
	}
	return false
}

// assertedDisease is the first disease the user names without negating it.
func assertedDisease(text string) string {
	for _, m := range Diseases(text) {
		if !m.Negated {
			return m.Label
		}
	}
	return ""
}

// Humanize renders a label for people: "early_blight" becomes "early blight".
func Humanize(label string) string {
	return strings.ReplaceAll(label, "_", " ")
}

// advisory is the built-in guidance used when retrieval has nothing to offer.
var advisory = map[string][]domain.Treatment{
	"early_blight": {
		{Kind: domain.TreatmentChemical, Name: "Mancozeb or chlorothalonil fungicide", Instructions: "Spray at label rate every 7 to 10 days once lesions appear."},
		{Kind: domain.TreatmentOrganic, Name: "Neem oil or copper soap", Instructions: "Spray weekly, covering both sides of the leaves."},
		{Kind: domain.TreatmentPreventive, Name: "Remove lower infected leaves", Instructions: "Mulch the soil and rotate away from tomato and potato for two seasons."},
	},
	"late_blight": {
		{Kind: domain.TreatmentChemical, Name: "Metalaxyl with mancozeb", Instructions: "Apply at the first water-soaked patches; alternate modes of action."},
		{Kind: domain.TreatmentOrganic, Name: "Copper-based spray", Instructions: "Apply before rain in cool, humid weather."},
		{Kind: domain.TreatmentPreventive, Name: "Destroy infected plants", Instructions: "Avoid overhead irrigation and keep foliage dry."},
	},
	"generic": {
		{Kind: domain.TreatmentOrganic, Name: "Neem oil spray", Instructions: "A broad, low-risk first response while you confirm the problem."},
		{Kind: domain.TreatmentPreventive, Name: "Isolate and remove affected leaves", Instructions: "Clean tools between plants and improve air flow."},
		{Kind: domain.TreatmentPreventive, Name: "Consult the local extension officer", Instructions: "Bring a sample of affected leaves for confirmation."},
	},
}

// Advisory returns the fallback treatments for label.
func Advisory(label string) []domain.Treatment {
	t, ok := advisory[label]
	if !ok {
		t = advisory["generic"]
	}
	return append([]domain.Treatment(nil), t...)
}

var (
	organicWords    = regexp.MustCompile(`\b(organic|neem|bio|trichoderma|compost|baking soda|botanical|copper soap|natural)\b`)
	preventiveWords = regexp.MustCompile(`\b(rotat\w*|spacing|remove|prune|sanitation|resistant variet\w*|mulch|avoid|trap\w*|uproot|destroy|irrigation)\b`)
	chemicalWords   = regexp.MustCompile(`\b(fungicide|insecticide|pesticide|mancozeb|chlorothalonil|metalaxyl|imidacloprid|sulphur|sulfur|oxychloride|carbendazim|propiconazole)\b`)
)

// treatmentKind buckets a document by its label, else by keywords.
func treatmentKind(d ports.Document) domain.TreatmentKind {
	switch k := domain.TreatmentKind(strings.ToLower(d.Kind)); k {
	case domain.TreatmentChemical, domain.TreatmentOrganic, domain.TreatmentPreventive:
		return k
	}
	text := strings.ToLower(d.Title + " " + d.Content)
	switch {
	case organicWords.MatchString(text):
		return domain.TreatmentOrganic
	case chemicalWords.MatchString(text):
		return domain.TreatmentChemical
	case preventiveWords.MatchString(text):
		return domain.TreatmentPreventive
	}
	return domain.TreatmentPreventive
}

// treatments converts documents, dropping duplicates and, when organicOnly, chemicals.
func treatments(docs []ports.Document, organicOnly bool) []domain.Treatment {
	var out []domain.Treatment
	seen := make(map[string]bool)
	for _, d := range docs {
		name := strings.TrimSpace(d.Title)
		if name == "" {
			name = firstSentence(d.Content)
		}
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		kind := treatmentKind(d)
		if organicOnly && kind == domain.TreatmentChemical {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, domain.Treatment{Kind: kind, Name: name, Instructions: clip(d.Content, 280)})
	}
	return out
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".\n"); i > 0 {
		s = s[:i]
	}
	return clip(s, 80)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndex(s[:n], " ")
	if cut <= 0 {
		cut = n
	}
	return s[:cut] + "..."
}
