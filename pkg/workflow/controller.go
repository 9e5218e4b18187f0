package workflow

import (
	"fmt"

	"github.com/aretw0/sasya/pkg/domain"
)

// Controller decides the next state after each step. It performs no I/O and keeps no
// state between calls, so one instance is safe to share.
type Controller struct {
	policy Policy
}

// NewController builds a controller; zero policy values fall back to DefaultPolicy.
func NewController(p Policy) *Controller {
	return &Controller{policy: p.WithDefaults()}
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Decide maps the current state, the result of the step that just ran in it (nil for
// states without a handler) and the session with that step's patch applied to the next
// state and its available actions.
func (c *Controller) Decide(current domain.WorkflowState, last *domain.HandlerResult, s *domain.Session) (domain.WorkflowDecision, error) {
	if !current.Valid() {
		return domain.WorkflowDecision{}, fmt.Errorf("%w: %q", domain.ErrUndefinedState, current)
	}
	if s == nil {
		return domain.WorkflowDecision{}, fmt.Errorf("%w: nil session", domain.ErrInvariantViolation)
	}

	failed := last != nil && !last.Success
	next, reason := c.next(current, last, s)
	if !next.Valid() {
		return domain.WorkflowDecision{}, fmt.Errorf("%w: %q", domain.ErrUndefinedState, next)
	}
	if !Allowed(current, next) {
		return domain.WorkflowDecision{}, fmt.Errorf("%w: no edge %s -> %s", domain.ErrInvariantViolation, current, next)
	}
	return domain.WorkflowDecision{
		NextState:        next,
		Reason:           reason,
		AvailableActions: c.Actions(next, s, failed),
	}, nil
}

func (c *Controller) next(current domain.WorkflowState, last *domain.HandlerResult, s *domain.Session) (domain.WorkflowState, string) {
	if last != nil && !last.Success {
		return current, "step failed: " + string(last.ErrorKind)
	}

	switch current {
	case domain.StateInitial:
		return domain.StateIntentCapture, "first input"
	case domain.StateCompleted:
		in := DetectIntents(s.LastUserMessage())
		if in.Has(IntentClosing) && !in.Has(IntentNewReport) && !in.Has(IntentQuestion) {
			return domain.StateCompleted, "conversation closed"
		}
		return domain.StateIntentCapture, "new request after completion"
	}

	if last == nil {
		return current, "awaiting input"
	}

	switch current {
	case domain.StateIntentCapture, domain.StateClarification:
		if (last.Route == domain.RouteQuestion || last.Route == domain.RouteCorrection) && s.Diagnosis != nil {
			return domain.StateFollowUp, "out-of-band " + string(last.Route)
		}
		if missing := c.policy.Missing(s); len(missing) > 0 {
			return domain.StateClarification, "missing " + string(missing[0])
		}
		return domain.StateClassification, "profile complete and image present"

	case domain.StateClassification:
		if s.Diagnosis == nil {
			return domain.StateClassification, "no diagnosis yet"
		}
		if s.Diagnosis.Trusted(c.policy.ConfidenceFloor) {
			return domain.StatePrescription, "confident diagnosis"
		}
		return domain.StateFollowUp, "low confidence, confirmation needed"

	case domain.StatePrescription:
		return c.fromRoute(last.Route, domain.StateFollowUp)

	case domain.StateConstraintGathering:
		if last.Route == domain.RouteQuestion || last.Route == domain.RouteCorrection {
			return domain.StateFollowUp, "out-of-band " + string(last.Route)
		}
		if NeedsReprescription(last.Patch, s) {
			return domain.StatePrescription, "organic-only requires a new prescription"
		}
		if last.Route == domain.RouteVendors {
			return domain.StateVendorRecommendation, "vendor request"
		}
		if last.Patch.Profile.IsEmpty() {
			return domain.StateConstraintGathering, "awaiting preferences"
		}
		return domain.StateFollowUp, "preferences recorded"

	case domain.StateVendorRecommendation:
		if s.Profile.Location == "" {
			return domain.StateVendorRecommendation, "missing location"
		}
		return domain.StateFollowUp, "vendors listed"

	case domain.StateFollowUp:
		return c.fromFollowUp(last.Route, s)
	}
	return current, "no rule"
}

// fromRoute resolves the intent-driven exits shared by several states.
func (c *Controller) fromRoute(r domain.Route, fallback domain.WorkflowState) (domain.WorkflowState, string) {
	switch r {
	case domain.RoutePreferences:
		return domain.StateConstraintGathering, "preference statement"
	case domain.RouteVendors:
		return domain.StateVendorRecommendation, "vendor request"
	case domain.RouteQuestion, domain.RouteCorrection:
		return domain.StateFollowUp, "out-of-band " + string(r)
	}
	return fallback, "no pending request"
}

func (c *Controller) fromFollowUp(r domain.Route, s *domain.Session) (domain.WorkflowState, string) {
	diagnosed := s.Diagnosis != nil
	switch {
	case r == domain.RouteCorrection && diagnosed:
		return domain.StatePrescription, "user correction"
	case r == domain.RouteConfirm && diagnosed:
		return domain.StatePrescription, "diagnosis confirmed"
	}

	switch r {
	case domain.RouteReclassify:
		return domain.StateClassification, "reclassification requested"
	case domain.RouteNewReport:
		return domain.StateIntentCapture, "new report"
	case domain.RoutePreferences:
		return domain.StateConstraintGathering, "preference statement"
	case domain.RouteVendors:
		if diagnosed {
			return domain.StateVendorRecommendation, "vendor request"
		}
	case domain.RouteDone:
		return domain.StateCompleted, "user finished"
	}

	if !diagnosed {
		if missing := c.policy.Missing(s); len(missing) > 0 {
			return domain.StateClarification, "missing " + string(missing[0])
		}
		return domain.StateClassification, "ready to classify"
	}
	return domain.StateFollowUp, "answered"
}

// NeedsReprescription reports whether p turns on organic-only while the latest
// prescription still lists chemical treatments.
func NeedsReprescription(p domain.SessionPatch, s *domain.Session) bool {
	if p.Profile.OrganicOnly == nil || !*p.Profile.OrganicOnly {
		return false
	}
	rx := s.LatestPrescription()
	if rx == nil {
		return false
	}
	for _, k := range rx.Kinds() {
		if k == domain.TreatmentChemical {
			return true
		}
	}
	return false
}
