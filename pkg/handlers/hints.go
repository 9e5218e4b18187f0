package handlers

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/sasya/pkg/domain"
)

// Hints are structured profile values sent alongside a message, for example by a
// client that already knows the farmer's location. They take precedence over text.
type Hints struct {
	Crop        string `mapstructure:"crop"`
	Location    string `mapstructure:"location"`
	Season      string `mapstructure:"season"`
	GrowthStage string `mapstructure:"growth_stage"`
	Symptoms    string `mapstructure:"symptoms"`

	OrganicOnly   *bool    `mapstructure:"organic_only"`
	BudgetCeiling *float64 `mapstructure:"budget"`
	Delivery      *bool    `mapstructure:"delivery"`
}

// DecodeHints reads hints from a loosely typed context map. Unknown keys are ignored
// and scalar types are converted where unambiguous ("500" becomes 500).
func DecodeHints(m map[string]any) (Hints, error) {
	var h Hints
	if len(m) == 0 {
		return h, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &h,
		WeaklyTypedInput: true,
		MatchName: func(key, field string) bool {
			return strings.EqualFold(strings.ReplaceAll(key, "_", ""), strings.ReplaceAll(field, "_", ""))
		},
	})
	if err != nil {
		return h, err
	}
	if err := dec.Decode(m); err != nil {
		return h, err
	}
	h.Crop = canonicalCrop(h.Crop)
	h.Location = strings.TrimSpace(h.Location)
	h.Season = strings.ToLower(strings.TrimSpace(h.Season))
	h.GrowthStage = strings.ToLower(strings.TrimSpace(h.GrowthStage))
	h.Symptoms = strings.TrimSpace(h.Symptoms)
	return h, nil
}

// IsEmpty reports whether no hint is set.
func (h Hints) IsEmpty() bool {
	return h.profile().IsEmpty()
}

func (h Hints) profile() domain.ProfilePatch {
	return domain.ProfilePatch{
		Crop:          h.Crop,
		Location:      h.Location,
		Season:        h.Season,
		GrowthStage:   h.GrowthStage,
		Symptoms:      h.Symptoms,
		OrganicOnly:   h.OrganicOnly,
		BudgetCeiling: h.BudgetCeiling,
		Delivery:      h.Delivery,
	}
}
