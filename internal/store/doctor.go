// Package store persists normalized doctor records.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medreg/registry-cli/internal/db"
	"github.com/medreg/registry-cli/internal/model"
)

var doctorColumns = []string{
	"crm", "raw_crm", "crm_natural", "state", "name", "social_name",
	"status", "specialties", "registration_type", "registration_date",
	"graduation_institution", "graduation_date", "is_foreign",
	"security_hash", "interdicao_obs", "phone", "address", "photo_url",
	"raw_data", "updated_at",
}

// DoctorStore writes and counts doctor records keyed by (crm, state).
type DoctorStore struct {
	pool db.Pool
	log  *zap.Logger
}

// NewDoctorStore creates a DoctorStore backed by the given pool.
func NewDoctorStore(pool db.Pool) *DoctorStore {
	return &DoctorStore{
		pool: pool,
		log:  zap.L().With(zap.String("component", "doctor_store")),
	}
}

// UpsertBatch writes a batch of doctors, overwriting existing rows on
// (crm, state). Refetching a page after a crash re-upserts the same rows
// with no duplicates. Records whose CRM carries no digits are skipped with
// a warning rather than failing the batch.
func (s *DoctorStore) UpsertBatch(ctx context.Context, doctors []model.Doctor) (int64, error) {
	if len(doctors) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(doctors))
	for _, d := range doctors {
		if d.CRM == 0 {
			s.log.Warn("skipping doctor without numeric CRM",
				zap.String("raw_crm", d.RawCRM),
				zap.String("state", d.State))
			continue
		}

		specialties, err := json.Marshal(d.Specialties)
		if err != nil {
			return 0, eris.Wrapf(err, "store: marshal specialties for crm %d/%s", d.CRM, d.State)
		}
		raw := d.RawData
		if raw == nil {
			raw = json.RawMessage(`{}`)
		}

		rows = append(rows, []any{
			d.CRM, d.RawCRM, nullable(d.CRMNatural), d.State, d.Name,
			nullable(d.SocialName), nullable(d.Status), specialties,
			nullable(d.RegistrationType), nullableDate(d.RegistrationDate),
			nullable(d.GraduationInstitution), nullable(d.GraduationDate),
			d.IsForeign, nullable(d.SecurityHash), nullable(d.InterdictionObs),
			nullable(d.Phone), nullable(d.Address), nullable(d.PhotoURL),
			raw, now,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "doctors",
		Columns:      doctorColumns,
		ConflictKeys: []string{"crm", "state"},
	}, rows)
}

// CountByRegion returns the number of stored doctors for one region code.
func (s *DoctorStore) CountByRegion(ctx context.Context, region string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM doctors WHERE state = $1`, region,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "store: count doctors for %s", region)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableDate parses the portal's DD/MM/YYYY registration date. Malformed
// values map to NULL instead of failing the whole batch.
func nullableDate(s string) any {
	if s == "" {
		return nil
	}
	t, err := time.Parse("02/01/2006", s)
	if err != nil {
		return nil
	}
	return t
}
