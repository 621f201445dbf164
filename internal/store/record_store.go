package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vistoria/fieldsync/internal/models"
	"github.com/vistoria/fieldsync/internal/observability"
)

// RecordStore is the durable on-device store for inspection records pending
// submission, plus generic keyed blobs for auxiliary offline state. It is
// the source of truth for a record until the server acknowledges it.
//
// Every operation may fail on storage I/O; callers must treat a failed
// operation as "state unknown" and re-read before irreversible decisions.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a RecordStore over an initialized database
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Append adds one record to the persisted pending set
func (s *RecordStore) Append(ctx context.Context, record *models.InspectionRecord) error {
	ctx, span := observability.StartStoreSpan(ctx, "append")
	defer span.End()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var position int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position), 0) + 1 FROM pending_inspections",
	).Scan(&position); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_inspections (id, payload, status, position, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.ID, string(payload), string(record.Status), position, record.CreatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ListPending returns all records currently in the pending set, in
// insertion order. The ordering is not stable across writes that
// include removals.
func (s *RecordStore) ListPending(ctx context.Context) ([]models.InspectionRecord, error) {
	return s.list(ctx, "")
}

// ListByStatus returns records with the given lifecycle status, in
// insertion order
func (s *RecordStore) ListByStatus(ctx context.Context, status models.RecordStatus) ([]models.InspectionRecord, error) {
	return s.list(ctx, status)
}

func (s *RecordStore) list(ctx context.Context, status models.RecordStatus) ([]models.InspectionRecord, error) {
	query := "SELECT payload, status FROM pending_inspections"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY position ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.InspectionRecord
	for rows.Next() {
		var payload, st string
		if err := rows.Scan(&payload, &st); err != nil {
			return nil, err
		}

		var record models.InspectionRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		// The status column is authoritative; the payload copy can lag
		// behind an UpdateStatus that did not rewrite the payload.
		record.Status = models.RecordStatus(st)
		records = append(records, record)
	}

	return records, rows.Err()
}

// Get returns one record by identifier, or ErrRecordNotFound
func (s *RecordStore) Get(ctx context.Context, id string) (*models.InspectionRecord, error) {
	var payload, st string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, status FROM pending_inspections WHERE id = ?", id,
	).Scan(&payload, &st)
	if err == sql.ErrNoRows {
		return nil, models.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	var record models.InspectionRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	record.Status = models.RecordStatus(st)
	return &record, nil
}

// Remove deletes one record by identifier. Removing an absent record is
// a no-op, not an error.
func (s *RecordStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_inspections WHERE id = ?", id)
	return err
}

// UpdateStatus rewrites the status of one record in place, with an optional
// error message for records entering the error state. Updating an absent
// record is a no-op. The lifecycle transition table is enforced: a move the
// current status does not allow returns ErrBadTransition, except that
// rewriting the same status (refreshing an error message) is always allowed.
func (s *RecordStore) UpdateStatus(ctx context.Context, id string, status models.RecordStatus, errMsg string) error {
	record, err := s.Get(ctx, id)
	if err == models.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if status != record.Status && !record.Status.CanTransitionTo(status) {
		return models.ErrBadTransition
	}

	record.Status = status
	record.ErrorMessage = errMsg
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE pending_inspections
		SET payload = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(payload), string(status), id,
	)
	return err
}

// ReplacePhotos swaps the record's photo list for its uploaded remote URLs
func (s *RecordStore) ReplacePhotos(ctx context.Context, id string, photos []models.PhotoReference) error {
	record, err := s.Get(ctx, id)
	if err == models.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	record.Photos = photos
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE pending_inspections
		SET payload = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(payload), id,
	)
	return err
}

// Finalize marks a record synced and removes it from the pending set in one
// durable write, so no observable intermediate state exists between the
// acknowledgement and the removal. Finalizing an absent record is a no-op.
func (s *RecordStore) Finalize(ctx context.Context, id string) error {
	ctx, span := observability.StartStoreSpan(ctx, "finalize")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE pending_inspections SET status = ? WHERE id = ?",
		string(models.StatusSynced), id,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM pending_inspections WHERE id = ?", id,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Clear empties the pending set entirely. Destructive resets only; never
// called during normal sync. Blobs are untouched.
func (s *RecordStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_inspections")
	return err
}

// SaveBlob stores auxiliary offline state under a key
func (s *RecordStore) SaveBlob(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

// GetBlob returns the value for a key, or empty string if absent
func (s *RecordStore) GetBlob(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM blobs WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// CountByStatus returns how many records are in each lifecycle status
func (s *RecordStore) CountByStatus(ctx context.Context) (map[models.RecordStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM pending_inspections GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.RecordStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[models.RecordStatus(st)] = n
	}
	return counts, rows.Err()
}
