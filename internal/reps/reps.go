// Package reps holds the sales-representative routing records and the
// (service, province) → rep resolution used to gate every outbound call.
package reps

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SalesRep is one human sales representative.
type SalesRep struct {
	ID        int64
	GHLUserID string
	Name      string
	Services  []string
	Provinces []string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Covers reports whether the rep handles the given service and province.
func (r *SalesRep) Covers(service, province string) bool {
	if !r.Active {
		return false
	}
	return contains(r.Services, service) && contains(r.Provinces, province)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Store persists reps in the embedded database.
type Store struct {
	db *sql.DB
}

// NewStore wraps the shared database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts or updates a rep keyed by its CRM user id.
func (s *Store) Upsert(ctx context.Context, rep *SalesRep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_reps (ghl_user_id, name, services, provinces, active, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(ghl_user_id) DO UPDATE SET
			name = excluded.name,
			services = excluded.services,
			provinces = excluded.provinces,
			active = excluded.active,
			updated_at = datetime('now')`,
		rep.GHLUserID, rep.Name,
		strings.Join(rep.Services, ","), strings.Join(rep.Provinces, ","),
		boolToInt(rep.Active),
	)
	if err != nil {
		return fmt.Errorf("reps: upsert %s: %w", rep.GHLUserID, err)
	}
	return nil
}

// All returns every rep ordered by id.
func (s *Store) All(ctx context.Context) ([]*SalesRep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ghl_user_id, name, services, provinces, active, created_at, updated_at
		FROM sales_reps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reps: query: %w", err)
	}
	defer rows.Close()

	var out []*SalesRep
	for rows.Next() {
		var (
			rep                 SalesRep
			services, provinces string
			active              int
		)
		if err := rows.Scan(&rep.ID, &rep.GHLUserID, &rep.Name, &services, &provinces,
			&active, &rep.CreatedAt, &rep.UpdatedAt); err != nil {
			return nil, fmt.Errorf("reps: scan: %w", err)
		}
		rep.Services = splitSet(services)
		rep.Provinces = splitSet(provinces)
		rep.Active = active != 0
		out = append(out, &rep)
	}
	return out, rows.Err()
}

// RepsFor returns the ordered CRM user ids of active reps covering the
// service+province pair. Empty means intake must fail closed.
func (s *Store) RepsFor(ctx context.Context, service, province string) ([]string, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, rep := range all {
		if rep.Covers(service, province) {
			ids = append(ids, rep.GHLUserID)
		}
	}
	return ids, nil
}

// ActiveForService returns the ordered CRM user ids of active reps covering
// the service in any province. Used when the lead's province is unknown but
// the call must still go out.
func (s *Store) ActiveForService(ctx context.Context, service string) ([]string, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, rep := range all {
		if rep.Active && contains(rep.Services, service) {
			ids = append(ids, rep.GHLUserID)
		}
	}
	return ids, nil
}

// SeedFromJSON upserts reps from a JSON array, used to load the roster from
// configuration at startup. Shape:
//
//	[{"ghlUserId":"U1","name":"Mario","services":["Infissi"],"provinces":["RM","VT"],"active":true}]
func (s *Store) SeedFromJSON(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var entries []struct {
		GHLUserID string   `json:"ghlUserId"`
		Name      string   `json:"name"`
		Services  []string `json:"services"`
		Provinces []string `json:"provinces"`
		Active    *bool    `json:"active"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return fmt.Errorf("reps: parse seed json: %w", err)
	}
	for _, e := range entries {
		if e.GHLUserID == "" {
			continue
		}
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		rep := &SalesRep{
			GHLUserID: e.GHLUserID,
			Name:      e.Name,
			Services:  e.Services,
			Provinces: e.Provinces,
			Active:    active,
		}
		if err := s.Upsert(ctx, rep); err != nil {
			return err
		}
	}
	return nil
}

func splitSet(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
