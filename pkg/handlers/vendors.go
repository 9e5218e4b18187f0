package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
)

// VendorRecommendation finds sellers for the prescribed treatments near the farmer.
// Without a location it asks for one and makes no lookup.
type VendorRecommendation struct {
	deps Deps
}

func (h *VendorRecommendation) Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
	found := overlay(Extract(in.Message).Profile, in.Hints)
	if s.Profile.Location == "" && found.Location == "" && !in.Chained {
		found.Location = bareAnswer(in.Message, domain.FieldLocation)
	}
	var patch domain.SessionPatch
	if s.Profile.Location == "" && found.Location != "" {
		patch.Profile.Location = found.Location
	}
	location := s.Profile.Location
	if location == "" {
		location = patch.Profile.Location
	}
	if location == "" {
		res := ok("Which town or district should I search for vendors in?")
		res.RequiresUserInput = true
		res.FollowUps = []string{"provide_location"}
		res.Summary = "asked for location before vendor lookup"
		return res, nil
	}
	if h.deps.Vendors == nil {
		return domain.Failure(domain.ErrorDependencyUnavailable, "The vendor directory is unavailable right now. Please try again later."), nil
	}

	prefs := s.Profile.Preferences
	products := prescribedProducts(s, prefs.OrganicOnly)
	limit := h.deps.Policy.VendorLimit
	vendors, err := h.deps.Vendors.Lookup(ctx, ports.VendorQuery{
		Location:      location,
		Products:      products,
		OrganicOnly:   prefs.OrganicOnly,
		Delivery:      prefs.Delivery,
		BudgetCeiling: prefs.BudgetCeiling,
		Limit:         limit * 2,
	})
	if err != nil {
		h.deps.Logger.Warn("vendor lookup failed", "session_id", s.ID, "error", err)
		res := domain.Failure(domain.ErrorDependencyUnavailable, "I couldn't reach the vendor directory. Please try again in a moment.")
		res.Degraded = true
		return res, nil
	}

	ranked := Rank(vendors, prefs, products)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	now := h.deps.Now().UTC()
	for _, v := range ranked {
		patch.VendorChoices = append(patch.VendorChoices, domain.VendorChoice{
			Name:          v.Name,
			Location:      v.Location,
			Contact:       v.Contact,
			DistanceKm:    v.DistanceKm,
			Price:         v.Price,
			Products:      v.Products,
			Organic:       v.Organic,
			Delivery:      v.Delivery,
			RecommendedAt: now,
		})
	}

	res := ok(renderVendors(ranked, location))
	res.Patch = patch
	res.RequiresUserInput = true
	res.FollowUps = []string{"contact_vendor", "ask_question"}
	res.Summary = fmt.Sprintf("recommended %d vendors in %s", len(ranked), location)
	return res, nil
}

func prescribedProducts(s *domain.Session, organicOnly bool) []string {
	rx := s.LatestPrescription()
	if rx == nil {
		return nil
	}
	var out []string
	for _, t := range rx.Treatments {
		if t.Kind == domain.TreatmentPreventive || (organicOnly && t.Kind == domain.TreatmentChemical) {
			continue
		}
		out = append(out, t.Name)
	}
	return out
}

// Rank drops vendors that break hard preferences (organic-only, budget), then orders
// by preference match, distance and price.
func Rank(vendors []ports.Vendor, prefs domain.Preferences, products []string) []ports.Vendor {
	type scored struct {
		v     ports.Vendor
		score int
	}
	var list []scored
	for _, v := range vendors {
		if prefs.OrganicOnly && !v.Organic {
			continue
		}
		if prefs.BudgetCeiling > 0 && v.Price > prefs.BudgetCeiling {
			continue
		}
		score := 0
		if prefs.OrganicOnly && v.Organic {
			score++
		}
		if prefs.Delivery && v.Delivery {
			score++
		}
		if prefs.BudgetCeiling > 0 && v.Price > 0 {
			score++
		}
		if stocks(v, products) {
			score++
		}
		list = append(list, scored{v: v, score: score})
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.v.DistanceKm != b.v.DistanceKm {
			return a.v.DistanceKm < b.v.DistanceKm
		}
		if a.v.Price != b.v.Price {
			return a.v.Price < b.v.Price
		}
		return a.v.Name < b.v.Name
	})
	out := make([]ports.Vendor, len(list))
	for i, s := range list {
		out[i] = s.v
	}
	return out
}

func stocks(v ports.Vendor, products []string) bool {
	for _, want := range products {
		for _, have := range v.Products {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

func renderVendors(vs []ports.Vendor, location string) string {
	if len(vs) == 0 {
		return fmt.Sprintf("I couldn't find vendors in %s matching your preferences. "+
			"Try relaxing the budget or organic-only preference.", location)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Vendors near %s:\n", location)
	for i, v := range vs {
		fmt.Fprintf(&b, "%d. %s (%.1f km", i+1, v.Name, v.DistanceKm)
		if v.Price > 0 {
			fmt.Fprintf(&b, ", about %.0f", v.Price)
		}
		if v.Organic {
			b.WriteString(", organic")
		}
		if v.Delivery {
			b.WriteString(", delivers")
		}
		b.WriteString(")")
		if v.Contact != "" {
			fmt.Fprintf(&b, " %s", v.Contact)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
