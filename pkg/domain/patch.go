package domain

import (
	"fmt"
	"slices"
)

// SessionPatch is an additive update to a Session.
//
// Fields already committed change only when the patch lists them in Corrections.
// Prescriptions and vendor choices are appended, never replaced.
type SessionPatch struct {
	Profile ProfilePatch `json:"profile"`

	Diagnosis        *Diagnosis `json:"diagnosis,omitempty"`
	ConfirmDiagnosis bool       `json:"confirm_diagnosis,omitempty"`

	// Image replaces the latest uploaded photo.
	Image *Image `json:"image,omitempty"`

	Classified    map[string]Diagnosis `json:"classified,omitempty"`
	Prescriptions []Prescription       `json:"prescriptions,omitempty"`
	VendorChoices []VendorChoice       `json:"vendor_choices,omitempty"`

	// Corrections names the fields the user explicitly corrected.
	Corrections []Field `json:"corrections,omitempty"`

	// NewCase starts a fresh report. The photo, diagnosis and plant details are cleared
	// before the rest of the patch is merged; location, preferences and history stay.
	NewCase bool `json:"new_case,omitempty"`
}

// ProfilePatch carries profile values; empty strings and nil pointers mean "unchanged".
type ProfilePatch struct {
	Crop        string `json:"crop,omitempty"`
	Location    string `json:"location,omitempty"`
	Season      string `json:"season,omitempty"`
	GrowthStage string `json:"growth_stage,omitempty"`
	Symptoms    string `json:"symptoms,omitempty"`

	OrganicOnly   *bool    `json:"organic_only,omitempty"`
	BudgetCeiling *float64 `json:"budget_ceiling,omitempty"`
	Delivery      *bool    `json:"delivery,omitempty"`
}

// IsEmpty reports whether the profile patch changes nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Crop == "" && p.Location == "" && p.Season == "" && p.GrowthStage == "" &&
		p.Symptoms == "" && !p.HasPreferences()
}

// HasPreferences reports whether any preference is set.
func (p ProfilePatch) HasPreferences() bool {
	return p.OrganicOnly != nil || p.BudgetCeiling != nil || p.Delivery != nil
}

// Get returns the patched value of a profile field.
func (p ProfilePatch) Get(f Field) string {
	switch f {
	case FieldCrop:
		return p.Crop
	case FieldLocation:
		return p.Location
	case FieldSeason:
		return p.Season
	case FieldGrowthStage:
		return p.GrowthStage
	case FieldSymptoms:
		return p.Symptoms
	}
	return ""
}

// Set assigns a profile field.
func (p *ProfilePatch) Set(f Field, v string) {
	switch f {
	case FieldCrop:
		p.Crop = v
	case FieldLocation:
		p.Location = v
	case FieldSeason:
		p.Season = v
	case FieldGrowthStage:
		p.GrowthStage = v
	case FieldSymptoms:
		p.Symptoms = v
	}
}

// IsEmpty reports whether applying the patch would change nothing.
func (p SessionPatch) IsEmpty() bool {
	return p.Profile.IsEmpty() && p.Diagnosis == nil && !p.ConfirmDiagnosis && p.Image == nil && !p.NewCase &&
		len(p.Classified) == 0 && len(p.Prescriptions) == 0 && len(p.VendorChoices) == 0
}

// Corrects reports whether the patch explicitly corrects f.
func (p SessionPatch) Corrects(f Field) bool {
	return slices.Contains(p.Corrections, f)
}

// Apply merges the patch into the session. The merge is all-or-nothing:
// on error the session is left untouched.
func (s *Session) Apply(p SessionPatch) error {
	next := s.Clone()
	if err := next.merge(p); err != nil {
		return err
	}
	*s = *next
	return nil
}

func (s *Session) merge(p SessionPatch) error {
	if p.NewCase {
		s.Image = nil
		s.Diagnosis = nil
		s.Profile.Crop = ""
		s.Profile.GrowthStage = ""
		s.Profile.Symptoms = ""
	}
	pp := p.Profile
	for _, f := range ProfileFields {
		if err := mergeString(profileSlot(&s.Profile, f), pp.Get(f), f, p); err != nil {
			return err
		}
	}
	if err := s.mergePreferences(p); err != nil {
		return err
	}
	if err := s.mergeDiagnosis(p); err != nil {
		return err
	}

	if p.Image != nil {
		img := *p.Image
		img.Data = append([]byte(nil), p.Image.Data...)
		s.Image = &img
	}
	for digest, d := range p.Classified {
		if s.Classified == nil {
			s.Classified = make(map[string]Diagnosis)
		}
		if _, ok := s.Classified[digest]; !ok {
			s.Classified[digest] = d
		}
	}
	for _, rx := range p.Prescriptions {
		rx.Treatments = append([]Treatment(nil), rx.Treatments...)
		s.Prescriptions = append(s.Prescriptions, rx)
	}
	for _, v := range p.VendorChoices {
		v.Products = append([]string(nil), v.Products...)
		s.VendorChoices = append(s.VendorChoices, v)
	}
	if !s.State.Valid() {
		return fmt.Errorf("%w: %q", ErrUndefinedState, s.State)
	}
	return nil
}

func profileSlot(p *UserProfile, f Field) *string {
	switch f {
	case FieldCrop:
		return &p.Crop
	case FieldLocation:
		return &p.Location
	case FieldSeason:
		return &p.Season
	case FieldGrowthStage:
		return &p.GrowthStage
	default:
		return &p.Symptoms
	}
}

func mergeString(slot *string, v string, f Field, p SessionPatch) error {
	if v == "" || *slot == v {
		return nil
	}
	if *slot != "" && !p.Corrects(f) {
		return fmt.Errorf("%w: %s", ErrDestructivePatch, f)
	}
	*slot = v
	return nil
}

func (s *Session) mergePreferences(p SessionPatch) error {
	pp := p.Profile
	cur := &s.Profile.Preferences
	corrected := p.Corrects(FieldPreferences)
	if pp.OrganicOnly != nil && *pp.OrganicOnly != cur.OrganicOnly {
		if cur.OrganicOnly && !corrected {
			return fmt.Errorf("%w: preferences.organic_only", ErrDestructivePatch)
		}
		cur.OrganicOnly = *pp.OrganicOnly
	}
	if pp.BudgetCeiling != nil && *pp.BudgetCeiling != cur.BudgetCeiling {
		if cur.BudgetCeiling != 0 && !corrected {
			return fmt.Errorf("%w: preferences.budget_ceiling", ErrDestructivePatch)
		}
		cur.BudgetCeiling = *pp.BudgetCeiling
	}
	if pp.Delivery != nil && *pp.Delivery != cur.Delivery {
		if cur.Delivery && !corrected {
			return fmt.Errorf("%w: preferences.delivery", ErrDestructivePatch)
		}
		cur.Delivery = *pp.Delivery
	}
	return nil
}

func (s *Session) mergeDiagnosis(p SessionPatch) error {
	switch {
	case p.Diagnosis == nil:
	case p.Corrects(FieldDiagnosisLabel):
		var d Diagnosis
		if s.Diagnosis != nil {
			d = *s.Diagnosis
		} else {
			d = *p.Diagnosis
		}
		if d.OriginalLabel == "" && d.Label != p.Diagnosis.Label {
			d.OriginalLabel = d.Label
		}
		d.Label = p.Diagnosis.Label
		d.UserOverridden = true
		s.Diagnosis = &d
	case s.Diagnosis == nil || p.Corrects(FieldDiagnosis):
		d := *p.Diagnosis
		s.Diagnosis = &d
	case *s.Diagnosis != *p.Diagnosis:
		return fmt.Errorf("%w: %s", ErrDestructivePatch, FieldDiagnosis)
	}

	if p.ConfirmDiagnosis {
		if s.Diagnosis == nil {
			return fmt.Errorf("%w: no diagnosis to confirm", ErrInvariantViolation)
		}
		s.Diagnosis.UserConfirmed = true
	}
	return nil
}
