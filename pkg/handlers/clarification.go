package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/workflow"
)

var questionTemplates = map[domain.Field]string{
	domain.FieldCrop:        "Which crop is affected?",
	domain.FieldLocation:    "Where is your farm located (village or district)?",
	domain.FieldImage:       "Could you upload a clear photo of the affected leaves?",
	domain.FieldSeason:      "Which season is this crop growing in (kharif, rabi or zaid)?",
	domain.FieldGrowthStage: "What stage is the crop at (seedling, vegetative, flowering or fruiting)?",
	domain.FieldSymptoms:    "What do the symptoms look like?",
}

// Clarification asks for the single most important missing piece of information.
type Clarification struct {
	deps Deps
}

func (h *Clarification) Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
	policy := h.deps.Policy
	asked := policy.Missing(s)

	intents := workflow.DetectIntents(in.Message)
	found := overlay(Extract(in.Message).Profile, in.Hints)
	if len(asked) > 0 && found.Get(asked[0]) == "" && !in.Chained {
		// A short reply to the previous question answers that question.
		if v := bareAnswer(in.Message, asked[0]); v != "" {
			found.Set(asked[0], v)
		}
	}
	patch, conflicts := fill(s, found, intents.Has(workflow.IntentCorrection))
	if in.Image != nil && (s.Image == nil || s.Image.Digest != in.Image.Digest) {
		patch.Image = in.Image
	}

	if patch.Profile.IsEmpty() && patch.Image == nil && s.Diagnosis != nil && intents.Has(workflow.IntentQuestion) {
		res := ok("")
		res.Route = domain.RouteQuestion
		res.Summary = "out-of-band question"
		return res, nil
	}

	next := s.Clone()
	if err := next.Apply(patch); err != nil {
		return domain.HandlerResult{}, fmt.Errorf("clarification patch: %w", err)
	}
	missing := policy.Missing(next)
	if len(missing) == 0 {
		res := ok("Thanks, I have what I need to look at your plant.")
		res.Patch = patch
		res.Summary = "profile complete"
		return res, nil
	}

	target := missing[0]
	question, degraded := h.ask(ctx, next, target, conflicts)
	res := ok(question)
	res.Patch = patch
	res.RequiresUserInput = true
	res.Degraded = degraded
	res.FollowUps = []string{workflow.FieldAction(target)}
	res.Summary = "asked for " + string(target)
	return res, nil
}

// ask phrases the question with the LLM, falling back to a template.
func (h *Clarification) ask(ctx context.Context, s *domain.Session, target domain.Field, conflicts []domain.Field) (string, bool) {
	template := questionTemplates[target]
	if len(conflicts) > 0 {
		template = fmt.Sprintf("I already have your %s as %q; say \"actually ...\" if that changed. %s",
			Humanize(string(conflicts[0])), s.ProfileValue(conflicts[0]), template)
	}
	if h.deps.LLM == nil {
		return template, true
	}

	var known []string
	for _, f := range domain.ProfileFields {
		if v := s.ProfileValue(f); v != "" {
			known = append(known, fmt.Sprintf("%s: %s", Humanize(string(f)), v))
		}
	}
	prompt := fmt.Sprintf(
		"You help farmers diagnose plant diseases. Known so far: %s.\n"+
			"Ask exactly one short, friendly question to learn the farmer's %s. Do not ask about anything already known.",
		orNone(strings.Join(known, "; ")), Humanize(string(target)))
	if target == domain.FieldImage {
		prompt += " Ask them to upload a photo of the affected leaves."
	}

	q, err := h.deps.LLM.Complete(ctx, prompt)
	q = strings.TrimSpace(q)
	if err != nil || q == "" {
		h.deps.Logger.Warn("clarification question fell back to template", "session_id", s.ID, "field", target, "error", err)
		return template, true
	}
	return q, false
}

func orNone(s string) string {
	if s == "" {
		return "nothing"
	}
	return s
}
