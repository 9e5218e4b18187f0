package domain

import (
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is the state bag persisted for one diagnostic dialogue.
type Session struct {
	ID    string        `json:"id"`
	State WorkflowState `json:"state"`

	// Profile is filled incrementally; every field is optional.
	Profile UserProfile `json:"user_profile"`

	// Diagnosis is overwritten only by an explicit user action.
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`

	Prescriptions []Prescription  `json:"prescriptions,omitempty"`
	VendorChoices []VendorChoice  `json:"vendor_choices,omitempty"`
	Messages      []Message       `json:"messages,omitempty"`
	ActivityLog   []ActivityEntry `json:"activity_log,omitempty"`

	// Image is the latest uploaded plant photo.
	Image *Image `json:"image,omitempty"`

	// Classified caches classifier results by image digest.
	Classified map[string]Diagnosis `json:"classified,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// UserProfile holds what the farmer told us about the plant and its context.
type UserProfile struct {
	Crop        string      `json:"crop,omitempty"`
	Location    string      `json:"location,omitempty"`
	Season      string      `json:"season,omitempty"`
	GrowthStage string      `json:"growth_stage,omitempty"`
	Symptoms    string      `json:"symptoms,omitempty"`
	Preferences Preferences `json:"preferences"`
}

// Preferences are explicit purchasing constraints.
type Preferences struct {
	OrganicOnly   bool    `json:"organic_only,omitempty"`
	BudgetCeiling float64 `json:"budget_ceiling,omitempty"`
	Delivery      bool    `json:"delivery,omitempty"`
}

// Diagnosis is the classifier's verdict, possibly corrected by the user.
type Diagnosis struct {
	Label          string    `json:"label"`
	Confidence     float64   `json:"confidence"`
	AttentionRef   string    `json:"attention_ref,omitempty"`
	ImageDigest    string    `json:"image_digest,omitempty"`
	UserOverridden bool      `json:"user_overridden,omitempty"`
	UserConfirmed  bool      `json:"user_confirmed,omitempty"`
	OriginalLabel  string    `json:"original_label,omitempty"`
	ClassifiedAt   time.Time `json:"classified_at"`
}

// Trusted reports whether the diagnosis may drive a prescription under the given floor.
func (d *Diagnosis) Trusted(floor float64) bool {
	if d == nil {
		return false
	}
	return d.UserOverridden || d.UserConfirmed || d.Confidence >= floor
}

// TreatmentKind groups treatments the way farmers ask for them.
type TreatmentKind string

const (
	TreatmentChemical   TreatmentKind = "chemical"
	TreatmentOrganic    TreatmentKind = "organic"
	TreatmentPreventive TreatmentKind = "preventive"
)

// Treatment is one actionable recommendation.
type Treatment struct {
	Kind         TreatmentKind `json:"kind"`
	Name         string        `json:"name"`
	Instructions string        `json:"instructions,omitempty"`
}

// Prescription sources.
const (
	SourceRetrieval = "retrieval"
	SourceAdvisory  = "advisory"
)

// Prescription is a treatment set for one diagnosis.
type Prescription struct {
	DiagnosisLabel string      `json:"diagnosis_label"`
	Treatments     []Treatment `json:"treatments"`
	Source         string      `json:"source"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Kinds returns the distinct treatment kinds covered, in first-seen order.
func (p Prescription) Kinds() []TreatmentKind {
	var out []TreatmentKind
	seen := make(map[TreatmentKind]bool)
	for _, t := range p.Treatments {
		if !seen[t.Kind] {
			seen[t.Kind] = true
			out = append(out, t.Kind)
		}
	}
	return out
}

// VendorChoice is one recommended seller.
type VendorChoice struct {
	Name          string    `json:"name"`
	Location      string    `json:"location,omitempty"`
	Contact       string    `json:"contact,omitempty"`
	DistanceKm    float64   `json:"distance_km"`
	Price         float64   `json:"price"`
	Products      []string  `json:"products,omitempty"`
	Organic       bool      `json:"organic,omitempty"`
	Delivery      bool      `json:"delivery,omitempty"`
	RecommendedAt time.Time `json:"recommended_at"`
}

// Message is one utterance in the conversation.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityEntry records one handler execution.
type ActivityEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	State     WorkflowState `json:"state"`
	Summary   string        `json:"summary"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
}

// Image is an uploaded photo addressed by its content digest.
type Image struct {
	Digest      string `json:"digest"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// NewSession creates an empty session at the initial state.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		State:        StateInitial,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// ProfileValue returns the profile value for a profile field, or "".
func (s *Session) ProfileValue(f Field) string {
	switch f {
	case FieldCrop:
		return s.Profile.Crop
	case FieldLocation:
		return s.Profile.Location
	case FieldSeason:
		return s.Profile.Season
	case FieldGrowthStage:
		return s.Profile.GrowthStage
	case FieldSymptoms:
		return s.Profile.Symptoms
	case FieldImage:
		if s.Image != nil {
			return s.Image.Digest
		}
	}
	return ""
}

// LastUserMessage returns the text of the most recent user message.
func (s *Session) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Text
		}
	}
	return ""
}

// LatestPrescription returns the most recent prescription, if any.
func (s *Session) LatestPrescription() *Prescription {
	if len(s.Prescriptions) == 0 {
		return nil
	}
	return &s.Prescriptions[len(s.Prescriptions)-1]
}

// Append adds a message; empty texts are ignored.
func (s *Session) Append(role, text string, at time.Time) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.Messages = append(s.Messages, Message{Role: role, Text: text, Timestamp: at})
}

// Record appends an activity-log entry.
func (s *Session) Record(entry ActivityEntry) {
	s.ActivityLog = append(s.ActivityLog, entry)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Diagnosis != nil {
		d := *s.Diagnosis
		c.Diagnosis = &d
	}
	if s.Image != nil {
		img := *s.Image
		img.Data = append([]byte(nil), s.Image.Data...)
		c.Image = &img
	}
	if s.Prescriptions != nil {
		c.Prescriptions = make([]Prescription, len(s.Prescriptions))
		for i, p := range s.Prescriptions {
			p.Treatments = append([]Treatment(nil), p.Treatments...)
			c.Prescriptions[i] = p
		}
	}
	if s.VendorChoices != nil {
		c.VendorChoices = make([]VendorChoice, len(s.VendorChoices))
		for i, v := range s.VendorChoices {
			v.Products = append([]string(nil), v.Products...)
			c.VendorChoices[i] = v
		}
	}
	if s.Messages != nil {
		c.Messages = append([]Message(nil), s.Messages...)
	}
	if s.ActivityLog != nil {
		c.ActivityLog = append([]ActivityEntry(nil), s.ActivityLog...)
	}
	if s.Classified != nil {
		c.Classified = make(map[string]Diagnosis, len(s.Classified))
		for k, v := range s.Classified {
			c.Classified[k] = v
		}
	}
	return &c
}
