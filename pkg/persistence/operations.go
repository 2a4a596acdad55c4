package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/kb"
	"helpdesk/pkg/proto"
)

// CreateIncident inserts a fresh record. The record's revision is set to 1.
func (s *Store) CreateIncident(rec *IncidentRecord) error {
	collected, adminLog, kbContext, err := marshalBlobs(rec)
	if err != nil {
		return err
	}

	rec.Revision = 1
	_, err = s.db.Exec(`
		INSERT INTO incidents
			(incident_id, user_demand, status, kb_reference, kb_context,
			 collected_information, admin_messages, revision, created_on, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.IncidentID, rec.UserDemand, string(rec.Status), nullable(rec.KBReference), kbContext,
		collected, adminLog, rec.Revision, rec.CreatedOn, rec.UpdatedOn,
	)
	if err != nil {
		rec.Revision = 0
		return fmt.Errorf("failed to insert incident %s: %w", rec.IncidentID, err)
	}

	s.logger.Debug("Created incident %s (status %s)", rec.IncidentID, rec.Status)
	return nil
}

// GetIncident loads a record by ID. Returns a NotFound error for unknown IDs.
func (s *Store) GetIncident(incidentID string) (*IncidentRecord, error) {
	row := s.db.QueryRow(`
		SELECT incident_id, user_demand, status, kb_reference, kb_context,
		       collected_information, admin_messages, revision, created_on, updated_on
		FROM incidents WHERE incident_id = ?
	`, incidentID)

	rec, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, incerrors.NotFound("incident", incidentID)
		}
		return nil, fmt.Errorf("failed to load incident %s: %w", incidentID, err)
	}
	return rec, nil
}

// UpdateIncident persists a mutated record using optimistic concurrency:
// the UPDATE only applies if the stored revision still equals the revision
// the caller read. On a lost race it returns a Conflict error and the caller
// must re-read and re-decide; the record is never blindly overwritten.
func (s *Store) UpdateIncident(rec *IncidentRecord) error {
	collected, adminLog, kbContext, err := marshalBlobs(rec)
	if err != nil {
		return err
	}

	rec.UpdatedOn = time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE incidents
		SET status = ?, kb_reference = ?, kb_context = ?,
		    collected_information = ?, admin_messages = ?,
		    revision = revision + 1, updated_on = ?
		WHERE incident_id = ? AND revision = ?
	`,
		string(rec.Status), nullable(rec.KBReference), kbContext,
		collected, adminLog, rec.UpdatedOn,
		rec.IncidentID, rec.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to update incident %s: %w", rec.IncidentID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for %s: %w", rec.IncidentID, err)
	}
	if affected == 0 {
		// Distinguish a lost race from a missing record.
		if _, getErr := s.GetIncident(rec.IncidentID); getErr != nil {
			return getErr
		}
		return incerrors.Conflict(rec.IncidentID)
	}

	rec.Revision++
	s.logger.Debug("Updated incident %s to revision %d (status %s)", rec.IncidentID, rec.Revision, rec.Status)
	return nil
}

// ListIncidents returns records, optionally filtered by status (empty status
// means all), newest first.
func (s *Store) ListIncidents(status proto.Status) ([]*IncidentRecord, error) {
	query := `
		SELECT incident_id, user_demand, status, kb_reference, kb_context,
		       collected_information, admin_messages, revision, created_on, updated_on
		FROM incidents`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_on DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*IncidentRecord
	for rows.Next() {
		rec, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}
	return records, nil
}

// CountByStatus returns the number of incidents per status.
func (s *Store) CountByStatus() (map[proto.Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[proto.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[proto.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counts: %w", err)
	}
	return counts, nil
}

// SaveKBText stores the accepted knowledge base text and its generation.
func (s *Store) SaveKBText(fullText string, generation uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO kb_text (id, full_text, generation, updated_on)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_text = excluded.full_text,
			generation = excluded.generation,
			updated_on = excluded.updated_on
	`, fullText, int64(generation), time.Now().UTC()) //nolint:gosec // Generation fits in int64 for any realistic lifetime
	if err != nil {
		return fmt.Errorf("failed to save kb text: %w", err)
	}
	return nil
}

// GetKBText loads the stored knowledge base text and generation.
// Returns a NotFound error if no KB text was ever saved.
func (s *Store) GetKBText() (string, uint64, error) {
	var fullText string
	var generation int64
	err := s.db.QueryRow(`SELECT full_text, generation FROM kb_text WHERE id = 1`).Scan(&fullText, &generation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, incerrors.NotFound("kb text", "1")
		}
		return "", 0, fmt.Errorf("failed to load kb text: %w", err)
	}
	return fullText, uint64(generation), nil //nolint:gosec // Stored generation is never negative
}

// scanner abstracts *sql.Row and *sql.Rows for scanIncident.
type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (*IncidentRecord, error) {
	var rec IncidentRecord
	var status string
	var kbReference, kbContext sql.NullString
	var collected, adminLog string

	err := row.Scan(
		&rec.IncidentID, &rec.UserDemand, &status, &kbReference, &kbContext,
		&collected, &adminLog, &rec.Revision, &rec.CreatedOn, &rec.UpdatedOn,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // Callers wrap with context
	}

	rec.Status = proto.Status(status)
	if kbReference.Valid {
		rec.KBReference = kbReference.String
	}
	if kbContext.Valid && kbContext.String != "" {
		var entry kb.Entry
		if err := json.Unmarshal([]byte(kbContext.String), &entry); err != nil {
			return nil, fmt.Errorf("corrupt kb_context for %s: %w", rec.IncidentID, err)
		}
		rec.KBContext = &entry
	}
	if err := json.Unmarshal([]byte(collected), &rec.Collected); err != nil {
		return nil, fmt.Errorf("corrupt collected_information for %s: %w", rec.IncidentID, err)
	}
	if err := json.Unmarshal([]byte(adminLog), &rec.AdminLog); err != nil {
		return nil, fmt.Errorf("corrupt admin_messages for %s: %w", rec.IncidentID, err)
	}

	return &rec, nil
}

// marshalBlobs serializes the JSON columns of a record.
func marshalBlobs(rec *IncidentRecord) (collected, adminLog string, kbContext sql.NullString, err error) {
	collectedBytes, err := json.Marshal(rec.Collected)
	if err != nil {
		return "", "", sql.NullString{}, fmt.Errorf("failed to marshal collected_information: %w", err)
	}
	adminBytes, err := json.Marshal(rec.AdminLog)
	if err != nil {
		return "", "", sql.NullString{}, fmt.Errorf("failed to marshal admin_messages: %w", err)
	}
	if rec.KBContext != nil {
		ctxBytes, err := json.Marshal(rec.KBContext)
		if err != nil {
			return "", "", sql.NullString{}, fmt.Errorf("failed to marshal kb_context: %w", err)
		}
		kbContext = sql.NullString{String: string(ctxBytes), Valid: true}
	}
	return string(collectedBytes), string(adminBytes), kbContext, nil
}

// nullable converts an empty string to SQL NULL.
func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
