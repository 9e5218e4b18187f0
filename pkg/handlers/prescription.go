package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/aretw0/sasya/pkg/workflow"
)

const retrievalLimit = 8

// Prescription builds a treatment plan for the current diagnosis from the retrieval
// engine. It never fails the turn because of retrieval: an empty or failed search
// yields the built-in advisory instead.
type Prescription struct {
	deps Deps
}

func (h *Prescription) Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
	if s.Diagnosis == nil {
		return domain.Failure(domain.ErrorInvalidInput, "I need a diagnosis before I can suggest treatments. Please upload a photo."), nil
	}
	d := s.Diagnosis
	organicOnly := s.Profile.Preferences.OrganicOnly

	rx := domain.Prescription{
		DiagnosisLabel: d.Label,
		Source:         domain.SourceRetrieval,
		CreatedAt:      h.deps.Now().UTC(),
	}
	degraded := false

	docs, err := h.retrieve(ctx, s)
	if err != nil {
		h.deps.Logger.Warn("retrieval failed, using advisory", "session_id", s.ID, "error", err)
	}
	rx.Treatments = treatments(docs, organicOnly)
	if len(rx.Treatments) == 0 {
		rx.Treatments = filterOrganic(Advisory(d.Label), organicOnly)
		rx.Source = domain.SourceAdvisory
		degraded = true
	}

	res := ok(renderPrescription(rx, s, degraded))
	res.Patch = domain.SessionPatch{Prescriptions: []domain.Prescription{rx}}
	res.Degraded = degraded
	res.Summary = fmt.Sprintf("prescribed %d treatments for %s from %s", len(rx.Treatments), d.Label, rx.Source)
	res.Route = pendingRequest(in.Message, s)
	res.RequiresUserInput = res.Route == domain.RouteNone
	res.FollowUps = []string{"find_vendors", "set_preferences", "ask_question"}
	return res, nil
}

func (h *Prescription) retrieve(ctx context.Context, s *domain.Session) ([]ports.Document, error) {
	if h.deps.Retriever == nil {
		return nil, fmt.Errorf("%w: no retriever configured", domain.ErrDependencyUnavailable)
	}
	p := s.Profile
	text := "Treatment for " + Humanize(s.Diagnosis.Label)
	if p.Crop != "" {
		text += " in " + p.Crop
	}
	if p.Location != "" {
		text += " in " + p.Location
	}
	if p.Season != "" {
		text += " during " + p.Season
	}
	filters := map[string]string{"disease": s.Diagnosis.Label}
	for k, v := range map[string]string{"crop": p.Crop, "location": p.Location, "season": p.Season} {
		if v != "" {
			filters[k] = v
		}
	}
	return h.deps.Retriever.Retrieve(ctx, ports.RetrievalQuery{Text: text, Filters: filters, Limit: retrievalLimit})
}

func filterOrganic(ts []domain.Treatment, organicOnly bool) []domain.Treatment {
	if !organicOnly {
		return ts
	}
	var out []domain.Treatment
	for _, t := range ts {
		if t.Kind != domain.TreatmentChemical {
			out = append(out, t)
		}
	}
	return out
}

// pendingRequest reads what the user still wants after a prescription. New
// preferences come before a vendor search, since they change which vendors qualify.
func pendingRequest(message string, s *domain.Session) domain.Route {
	in := workflow.DetectIntents(message)
	if in.Has(workflow.IntentPreference) {
		patch, _ := fill(s, Extract(message).Profile, true)
		if patch.Profile.HasPreferences() {
			return domain.RoutePreferences
		}
	}
	if in.Has(workflow.IntentVendor) {
		return domain.RouteVendors
	}
	return domain.RouteNone
}

var kindTitles = []struct {
	kind  domain.TreatmentKind
	title string
}{
	{domain.TreatmentChemical, "Chemical"},
	{domain.TreatmentOrganic, "Organic"},
	{domain.TreatmentPreventive, "Prevention"},
}

func renderPrescription(rx domain.Prescription, s *domain.Session, degraded bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Treatment plan for %s", Humanize(rx.DiagnosisLabel))
	if s.Profile.Crop != "" {
		fmt.Fprintf(&b, " on %s", s.Profile.Crop)
	}
	b.WriteString(":\n")
	for _, kt := range kindTitles {
		for _, t := range rx.Treatments {
			if t.Kind != kt.kind {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s", kt.title, t.Name)
			if t.Instructions != "" {
				fmt.Fprintf(&b, ": %s", t.Instructions)
			}
			b.WriteString("\n")
		}
	}
	if degraded {
		b.WriteString("This is general guidance; I couldn't reach the detailed treatment database.\n")
	}
	b.WriteString("Would you like to find vendors nearby or set preferences such as organic-only or a budget?")
	return b.String()
}
