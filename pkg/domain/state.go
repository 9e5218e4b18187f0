package domain

import "fmt"

// WorkflowState names one step of the diagnostic conversation.
type WorkflowState string

const (
	StateInitial              WorkflowState = "initial"
	StateIntentCapture        WorkflowState = "intent_capture"
	StateClarification        WorkflowState = "clarification"
	StateClassification       WorkflowState = "classification"
	StatePrescription         WorkflowState = "prescription"
	StateConstraintGathering  WorkflowState = "constraint_gathering"
	StateVendorRecommendation WorkflowState = "vendor_recommendation"
	StateFollowUp             WorkflowState = "follow_up"
	StateCompleted            WorkflowState = "completed"
)

var allStates = []WorkflowState{
	StateInitial,
	StateIntentCapture,
	StateClarification,
	StateClassification,
	StatePrescription,
	StateConstraintGathering,
	StateVendorRecommendation,
	StateFollowUp,
	StateCompleted,
}

// States returns every defined workflow state in conversation order.
func States() []WorkflowState {
	return append([]WorkflowState(nil), allStates...)
}

// Valid reports whether s is a defined workflow state.
func (s WorkflowState) Valid() bool {
	for _, st := range allStates {
		if st == s {
			return true
		}
	}
	return false
}

func (s WorkflowState) String() string {
	return string(s)
}

// HasHandler reports whether a handler runs while the session sits in s.
// INITIAL and COMPLETED are resolved by the controller alone.
func (s WorkflowState) HasHandler() bool {
	return s.Valid() && s != StateInitial && s != StateCompleted
}

// ParseState converts a token into a WorkflowState.
func ParseState(v string) (WorkflowState, error) {
	s := WorkflowState(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUndefinedState, v)
	}
	return s, nil
}

// Field names a session attribute that can be requested, filled or corrected.
type Field string

const (
	FieldCrop           Field = "crop"
	FieldLocation       Field = "location"
	FieldSeason         Field = "season"
	FieldGrowthStage    Field = "growth_stage"
	FieldSymptoms       Field = "symptoms"
	FieldImage          Field = "image"
	FieldPreferences    Field = "preferences"
	FieldDiagnosis      Field = "diagnosis"
	FieldDiagnosisLabel Field = "diagnosis.label"
)

// ProfileFields lists the profile attributes in clarification priority order.
var ProfileFields = []Field{FieldCrop, FieldLocation, FieldSeason, FieldGrowthStage, FieldSymptoms}
