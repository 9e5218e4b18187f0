package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/workflow"
)

const historyWindow = 6

// FollowUp handles everything said after a diagnosis: corrections, confirmations,
// new reports, requests and free questions. A correction touches only the named field.
type FollowUp struct {
	deps Deps
}

func (h *FollowUp) Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
	intents := workflow.DetectIntents(in.Message)

	switch {
	case in.Image != nil && (s.Image == nil || s.Image.Digest != in.Image.Digest):
		if intents.Has(workflow.IntentNewReport) {
			return h.newReport(in), nil
		}
		res := ok("Thanks for the new photo, let me take another look.")
		res.Patch.Image = in.Image
		res.Route = domain.RouteReclassify
		res.Summary = "new photo"
		return res, nil

	case intents.Has(workflow.IntentNewReport):
		return h.newReport(in), nil
	}

	if res, handled := h.correction(s, in.Message, intents); handled {
		return res, nil
	}

	switch {
	case intents.Has(workflow.IntentConfirm) && s.Diagnosis != nil && !s.Diagnosis.UserConfirmed:
		res := ok(fmt.Sprintf("Thanks for confirming %s.", Humanize(s.Diagnosis.Label)))
		res.Patch.ConfirmDiagnosis = true
		res.Route = domain.RouteConfirm
		res.Summary = "diagnosis confirmed"
		return res, nil

	case intents.Has(workflow.IntentReclassify):
		res := ok("Let me analyse the photo again.")
		res.Route = domain.RouteReclassify
		res.Summary = "reclassify requested"
		return res, nil

	case intents.Has(workflow.IntentPreference):
		res := ok("")
		res.Route = domain.RoutePreferences
		res.Summary = "preference statement"
		return res, nil

	case intents.Has(workflow.IntentVendor):
		res := ok("")
		res.Route = domain.RouteVendors
		res.Summary = "vendor request"
		return res, nil

	case intents.Has(workflow.IntentClosing) && !intents.Has(workflow.IntentQuestion):
		res := ok("Glad I could help. Message me any time your plants need attention.")
		res.Route = domain.RouteDone
		res.RequiresUserInput = true
		res.FollowUps = []string{"new_problem"}
		res.Summary = "conversation closed"
		return res, nil
	}

	if in.Message == "" {
		return domain.Failure(domain.ErrorInvalidInput, "What would you like to know?"), nil
	}
	return h.answer(ctx, s, in.Message)
}

func (h *FollowUp) newReport(in Input) domain.HandlerResult {
	res := ok("Sure, let's look at the new problem.")
	res.Patch.NewCase = true
	res.Patch.Image = in.Image
	res.Route = domain.RouteNewReport
	res.Summary = "new report"
	return res
}

// correction recognises "it's X, not Y" for the diagnosis, and explicit restatements of
// crop or location. Only the named field is patched.
func (h *FollowUp) correction(s *domain.Session, message string, intents workflow.Intents) (domain.HandlerResult, bool) {
	if label := assertedDisease(message); label != "" && s.Diagnosis != nil && label != s.Diagnosis.Label &&
		(intents.Has(workflow.IntentCorrection) || !intents.Has(workflow.IntentQuestion)) {
		d := *s.Diagnosis
		d.Label = label
		res := ok(fmt.Sprintf("Understood, I'll treat this as %s instead of %s.", Humanize(label), Humanize(s.Diagnosis.Label)))
		res.Patch.Diagnosis = &d
		res.Patch.Corrections = []domain.Field{domain.FieldDiagnosisLabel}
		res.Route = domain.RouteCorrection
		res.Summary = fmt.Sprintf("diagnosis label corrected %s -> %s", s.Diagnosis.Label, label)
		return res, true
	}

	if !intents.Has(workflow.IntentCorrection) {
		return domain.HandlerResult{}, false
	}
	found := Extract(message).Profile
	var p domain.ProfilePatch
	p.Crop, p.Location = found.Crop, found.Location
	patch, _ := fill(s, p, true)
	if len(patch.Corrections) == 0 {
		return domain.HandlerResult{}, false
	}
	res := ok("Thanks, I've updated " + describeFields(patch.Profile) + ".")
	res.Patch = patch
	res.Route = domain.RouteCorrection
	res.Summary = "corrected " + describeFields(patch.Profile)
	return res, true
}

func (h *FollowUp) answer(ctx context.Context, s *domain.Session, question string) (domain.HandlerResult, error) {
	if h.deps.LLM == nil {
		return domain.Failure(domain.ErrorDependencyUnavailable, "I can't answer questions right now. Please try again later."), nil
	}
	text, err := h.deps.LLM.Complete(ctx, questionPrompt(s, question))
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		h.deps.Logger.Warn("follow-up answer failed", "session_id", s.ID, "error", err)
		res := domain.Failure(domain.ErrorDependencyUnavailable, "I couldn't come up with an answer right now. Please ask again in a moment.")
		res.Degraded = true
		return res, nil
	}
	res := ok(text)
	res.Route = domain.RouteQuestion
	res.RequiresUserInput = true
	res.FollowUps = []string{"ask_question", "find_vendors", "new_problem", "finish"}
	res.Summary = "answered question"
	return res, nil
}

func questionPrompt(s *domain.Session, question string) string {
	var b strings.Builder
	b.WriteString("You are an agricultural assistant helping a farmer. Answer briefly and practically.\n")
	p := s.Profile
	fmt.Fprintf(&b, "Crop: %s. Location: %s. Season: %s.\n", orNone(p.Crop), orNone(p.Location), orNone(p.Season))
	if d := s.Diagnosis; d != nil {
		fmt.Fprintf(&b, "Diagnosis: %s (confidence %.2f", Humanize(d.Label), d.Confidence)
		if d.UserOverridden {
			b.WriteString(", stated by the farmer")
		}
		b.WriteString(").\n")
	}
	if rx := s.LatestPrescription(); rx != nil {
		var names []string
		for _, t := range rx.Treatments {
			names = append(names, fmt.Sprintf("%s (%s)", t.Name, t.Kind))
		}
		fmt.Fprintf(&b, "Prescribed: %s.\n", strings.Join(names, "; "))
	}
	msgs := s.Messages
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}
