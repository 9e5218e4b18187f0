package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/workflow"
)

// IntentCapture reads the opening description of a problem into the profile.
// It never classifies.
type IntentCapture struct {
	deps Deps
}

func (h *IntentCapture) Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
	if in.Message == "" && in.Image == nil && in.Hints.IsEmpty() {
		return domain.Failure(domain.ErrorInvalidInput, "Tell me about your plant, or send a photo of the affected leaves."), nil
	}

	found := overlay(Extract(in.Message).Profile, in.Hints)
	intents := workflow.DetectIntents(in.Message)

	if s.Diagnosis != nil && found.IsEmpty() && in.Image == nil && intents.Has(workflow.IntentQuestion) {
		res := ok("")
		res.Route = domain.RouteQuestion
		res.Summary = "question about the previous case"
		return res, nil
	}

	// A diagnosis left over from an earlier case means this is a new report: start from a
	// clean slate, keeping location and preferences, and let stated values replace old ones.
	base := s
	newCase := s.Diagnosis != nil
	if newCase {
		base = s.Clone()
		base.Image, base.Diagnosis = nil, nil
		base.Profile.Crop, base.Profile.GrowthStage, base.Profile.Symptoms = "", "", ""
	}
	patch, _ := fill(base, found, newCase)
	patch.NewCase = newCase
	if in.Image != nil && (base.Image == nil || base.Image.Digest != in.Image.Digest) {
		patch.Image = in.Image
	}

	res := ok(acknowledge(patch.Profile, in.Image != nil))
	res.Patch = patch
	res.Summary = "captured " + describeFields(patch.Profile)
	return res, nil
}

// acknowledge echoes back what was understood.
func acknowledge(p domain.ProfilePatch, image bool) string {
	var parts []string
	if p.Crop != "" {
		parts = append(parts, p.Crop)
	}
	if p.Location != "" {
		parts = append(parts, "in "+p.Location)
	}
	if p.Symptoms != "" {
		parts = append(parts, "with "+p.Symptoms)
	}
	if p.Season != "" {
		parts = append(parts, "("+p.Season+" season)")
	}
	switch {
	case len(parts) > 0 && image:
		return fmt.Sprintf("Got it: %s. Thanks for the photo.", strings.Join(parts, " "))
	case len(parts) > 0:
		return fmt.Sprintf("Got it: %s.", strings.Join(parts, " "))
	case image:
		return "Thanks for the photo."
	}
	return ""
}

func describeFields(p domain.ProfilePatch) string {
	var names []string
	for _, f := range domain.ProfileFields {
		if p.Get(f) != "" {
			names = append(names, string(f))
		}
	}
	if p.HasPreferences() {
		names = append(names, string(domain.FieldPreferences))
	}
	if len(names) == 0 {
		return "nothing new"
	}
	return strings.Join(names, ", ")
}
