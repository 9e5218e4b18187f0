// Package supabase reads the vendor directory from a Supabase (PostgREST) table.
package supabase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/ports"
	"github.com/supabase-community/supabase-go"
)

// DefaultTable holds one row per seller.
const DefaultTable = "vendors"

// Config holds Supabase connection settings.
type Config struct {
	URL    string
	APIKey string
	Table  string

	// CacheTTL keeps per-location results for this long. Default: 5 minutes.
	CacheTTL time.Duration
}

// Row is the table layout.
type Row struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Location   string   `json:"location"`
	Contact    string   `json:"contact"`
	DistanceKm float64  `json:"distance_km"`
	Price      float64  `json:"price"`
	Products   []string `json:"products"`
	Organic    bool     `json:"organic"`
	Delivery   bool     `json:"delivery"`
}

type cacheEntry struct {
	rows      []Row
	expiresAt time.Time
}

// Vendors implements ports.VendorLookup.
type Vendors struct {
	fetch    func(ctx context.Context, location string) ([]Row, error)
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a lookup backed by the Supabase project at cfg.URL.
func New(cfg Config) (*Vendors, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	fetch := func(ctx context.Context, location string) ([]Row, error) {
		var rows []Row
		_, err := client.From(cfg.Table).
			Select("*", "", false).
			Eq("location", location).
			ExecuteTo(&rows)
		return rows, err
	}
	return newVendors(fetch, cfg.CacheTTL), nil
}

func newVendors(fetch func(context.Context, string) ([]Row, error), ttl time.Duration) *Vendors {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Vendors{
		fetch:    fetch,
		cacheTTL: ttl,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// Lookup implements ports.VendorLookup. The table is queried by location; the other
// filters are applied to the returned rows.
func (v *Vendors) Lookup(ctx context.Context, q ports.VendorQuery) ([]ports.Vendor, error) {
	location := titleCase(q.Location)
	rows, ok := v.cached(location)
	if !ok {
		var err error
		rows, err = v.fetch(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("supabase vendors: %w: %w", domain.ErrDependencyUnavailable, err)
		}
		v.store(location, rows)
	}

	var out []ports.Vendor
	for _, r := range rows {
		if q.OrganicOnly && !r.Organic {
			continue
		}
		if q.Delivery && !r.Delivery {
			continue
		}
		if q.BudgetCeiling > 0 && r.Price > q.BudgetCeiling {
			continue
		}
		out = append(out, ports.Vendor{
			Name:       r.Name,
			Location:   r.Location,
			Contact:    r.Contact,
			DistanceKm: r.DistanceKm,
			Price:      r.Price,
			Products:   r.Products,
			Organic:    r.Organic,
			Delivery:   r.Delivery,
		})
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (v *Vendors) cached(location string) ([]Row, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.cache[location]
	if !ok || v.now().After(e.expiresAt) {
		return nil, false
	}
	return e.rows, true
}

func (v *Vendors) store(location string, rows []Row) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[location] = cacheEntry{rows: rows, expiresAt: v.now().Add(v.cacheTTL)}
}

// titleCase matches the way locations are stored ("Pune", "Navi Mumbai").
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var _ ports.VendorLookup = (*Vendors)(nil)
