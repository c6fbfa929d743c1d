package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aihub/internal/domain"
)

const serviceColumns = `id, name, kind, base_url, status, auto_start, last_checked_at, last_latency_ms, updated_at`

func (s *SQLiteStore) ListServices(ctx context.Context) ([]domain.ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ServiceRecord
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

// GetService returns nil, nil when id is unknown.
func (s *SQLiteStore) GetService(ctx context.Context, id string) (*domain.ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// UpsertService writes the registry fields of svc. Health columns are only
// written on insert; an existing row keeps its last probe result.
func (s *SQLiteStore) UpsertService(ctx context.Context, svc domain.ServiceRecord) error {
	if svc.ID == "" {
		return fmt.Errorf("service id is required")
	}
	if svc.Status == "" {
		svc.Status = domain.StatusUnknown
	}
	svc.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO services (id, name, kind, base_url, status, auto_start, last_checked_at, last_latency_ms, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   kind = excluded.kind,
		   base_url = excluded.base_url,
		   auto_start = excluded.auto_start,
		   updated_at = excluded.updated_at`,
		svc.ID, svc.Name, svc.Kind, svc.BaseURL, svc.Status, svc.AutoStart,
		nullTime(svc.LastCheckedAt), nullInt(svc.LastLatencyMs), svc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert service %s: %w", svc.ID, err)
	}
	s.publishService(ctx, domain.ChangeUpsert, svc.ID)
	return nil
}

// UpdateServiceStatus records the latest health of a backend. Unknown
// backends are ignored.
func (s *SQLiteStore) UpdateServiceStatus(ctx context.Context, h domain.AdapterHealth) error {
	var checked *time.Time
	if !h.LastCheckedAt.IsZero() {
		t := h.LastCheckedAt
		checked = &t
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE services SET status = ?, last_checked_at = ?, last_latency_ms = ?, updated_at = ? WHERE id = ?`,
		h.Status, nullTime(checked), nullInt(h.LastLatencyMs), time.Now(), h.BackendID,
	)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", h.BackendID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	s.publishService(ctx, domain.ChangeStatus, h.BackendID)
	return nil
}

func (s *SQLiteStore) DeleteService(ctx context.Context, id string) error {
	svc, err := s.GetService(ctx, id)
	if err != nil {
		return err
	}
	if svc == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete service %s: %w", id, err)
	}
	s.publish(domain.ServiceChange{Op: domain.ChangeDelete, Service: *svc})
	return nil
}

func (s *SQLiteStore) RecordProbe(ctx context.Context, rec domain.ProbeRecord) error {
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO probe_results (service_id, status, latency_ms, error_kind, message, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ServiceID, rec.Status, rec.LatencyMs, string(rec.ErrorKind), rec.Message, rec.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("record probe for %s: %w", rec.ServiceID, err)
	}
	return nil
}

// RecentProbes returns the newest probe results first.
func (s *SQLiteStore) RecentProbes(ctx context.Context, serviceID string, limit int) ([]domain.ProbeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service_id, status, latency_ms, error_kind, message, checked_at
		 FROM probe_results WHERE service_id = ?
		 ORDER BY checked_at DESC, id DESC LIMIT ?`, serviceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProbeRecord
	for rows.Next() {
		var r domain.ProbeRecord
		var kind, msg sql.NullString
		if err := rows.Scan(&r.ID, &r.ServiceID, &r.Status, &r.LatencyMs, &kind, &msg, &r.CheckedAt); err != nil {
			return nil, err
		}
		r.ErrorKind = domain.ErrorKind(kind.String)
		r.Message = msg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneProbes deletes probe results older than the cutoff.
func (s *SQLiteStore) PruneProbes(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM probe_results WHERE checked_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune probes: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) publishService(ctx context.Context, op domain.ChangeOp, id string) {
	svc, err := s.GetService(ctx, id)
	if err != nil || svc == nil {
		s.logger.Warn("cannot reload service for change notification", "service", id, "err", err)
		return
	}
	s.publish(domain.ServiceChange{Op: op, Service: *svc})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*domain.ServiceRecord, error) {
	var svc domain.ServiceRecord
	var checked sql.NullTime
	var latency sql.NullInt64
	var updated sql.NullTime
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Kind, &svc.BaseURL, &svc.Status, &svc.AutoStart,
		&checked, &latency, &updated); err != nil {
		return nil, err
	}
	if checked.Valid {
		t := checked.Time
		svc.LastCheckedAt = &t
	}
	if latency.Valid {
		v := latency.Int64
		svc.LastLatencyMs = &v
	}
	svc.UpdatedAt = updated.Time
	return &svc, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
