package workflow

import (
	"slices"

	"github.com/aretw0/sasya/pkg/domain"
)

// Defaults for Policy.
const (
	DefaultConfidenceFloor = 0.6
	DefaultVendorLimit     = 5
)

// Policy holds the tunable rules shared by the controller and the handlers.
type Policy struct {
	// ConfidenceFloor is the minimum classifier confidence that flows straight to a prescription.
	ConfidenceFloor float64

	// RequiredFields must be known before classification. An image is always required.
	RequiredFields []domain.Field

	// VendorLimit caps the vendor list.
	VendorLimit int
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceFloor: DefaultConfidenceFloor,
		RequiredFields:  []domain.Field{domain.FieldCrop, domain.FieldLocation},
		VendorLimit:     DefaultVendorLimit,
	}
}

// WithDefaults fills zero values from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.ConfidenceFloor <= 0 {
		p.ConfidenceFloor = d.ConfidenceFloor
	}
	if p.RequiredFields == nil {
		p.RequiredFields = d.RequiredFields
	}
	if p.VendorLimit <= 0 {
		p.VendorLimit = d.VendorLimit
	}
	return p
}

// priority is the order in which missing information is requested.
var priority = []domain.Field{
	domain.FieldCrop,
	domain.FieldLocation,
	domain.FieldImage,
	domain.FieldSeason,
	domain.FieldGrowthStage,
	domain.FieldSymptoms,
}

// Missing returns what is still needed before classification, highest priority first.
func (p Policy) Missing(s *domain.Session) []domain.Field {
	var out []domain.Field
	for _, f := range priority {
		if f != domain.FieldImage && !slices.Contains(p.RequiredFields, f) {
			continue
		}
		if s.ProfileValue(f) == "" {
			out = append(out, f)
		}
	}
	return out
}

// FieldAction is the action token that supplies a missing field.
func FieldAction(f domain.Field) string {
	if f == domain.FieldImage {
		return "upload_image"
	}
	return "provide_" + string(f)
}
