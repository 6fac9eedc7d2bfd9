package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

const eventColumns = `source_id, event_id, title, description, start_date, end_date,
	location_name, location_address, organizer_name, organizer_email, url,
	last_modified, recurrence_json`

func (s *Store) UpsertEvents(ctx context.Context, events []*storage.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ev := range events {
			if err := upsertEventTx(tx, ev, now); err != nil {
				return fmt.Errorf("upsert %s/%s: %w", ev.SourceID, ev.ID, err)
			}
		}
		return nil
	})
}

// upsertEventTx writes one event, keeping the stored row when its
// last_modified is newer than the incoming one. fetched_at is refreshed
// either way so cleanup treats the row as seen.
func upsertEventTx(tx *sql.Tx, ev *storage.Event, fetchedAt time.Time) error {
	var existingModified int64
	err := tx.QueryRow(
		`SELECT last_modified FROM events WHERE source_id = ? AND event_id = ?`,
		ev.SourceID, ev.ID,
	).Scan(&existingModified)

	switch {
	case err == sql.ErrNoRows:
		// fall through to insert
	case err != nil:
		return err
	case ev.LastModified.UnixNano() < existingModified:
		_, err = tx.Exec(
			`UPDATE events SET fetched_at = ? WHERE source_id = ? AND event_id = ?`,
			fetchedAt.UnixNano(), ev.SourceID, ev.ID,
		)
		return err
	}

	recurrence, err := marshalRecurrence(ev.Recurrence)
	if err != nil {
		return err
	}

	var locName, locAddr, orgName, orgEmail string
	if ev.Location != nil {
		locName, locAddr = ev.Location.Name, ev.Location.Address
	}
	if ev.Organizer != nil {
		orgName, orgEmail = ev.Organizer.Name, ev.Organizer.Email
	}

	_, err = tx.Exec(`
		INSERT INTO events (
			source_id, event_id, title, description, start_date, end_date,
			location_name, location_address, organizer_name, organizer_email,
			url, last_modified, fetched_at, recurrence_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, event_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			location_name = excluded.location_name,
			location_address = excluded.location_address,
			organizer_name = excluded.organizer_name,
			organizer_email = excluded.organizer_email,
			url = excluded.url,
			last_modified = excluded.last_modified,
			fetched_at = excluded.fetched_at,
			recurrence_json = excluded.recurrence_json
	`, ev.SourceID, ev.ID, ev.Title, ev.Description,
		ev.Start.UnixNano(), ev.End.UnixNano(),
		locName, locAddr, orgName, orgEmail,
		ev.URL, ev.LastModified.UnixNano(), fetchedAt.UnixNano(), recurrence)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`DELETE FROM event_categories WHERE source_id = ? AND event_id = ?`,
		ev.SourceID, ev.ID,
	); err != nil {
		return err
	}
	for i, cat := range ev.Categories {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO event_categories (source_id, event_id, position, category) VALUES (?, ?, ?, ?)`,
			ev.SourceID, ev.ID, i, cat,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) FindByQuery(ctx context.Context, q storage.Query) ([]*storage.Event, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + eventColumns + ` FROM events WHERE 1=1`)
	var args []interface{}

	if len(q.SourceIDs) > 0 {
		sb.WriteString(" AND source_id IN (")
		for i, id := range q.SourceIDs {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, id)
		}
		sb.WriteString(")")
	}
	if q.Range != nil {
		sb.WriteString(" AND end_date >= ? AND start_date <= ?")
		args = append(args, q.Range.Start.UnixNano(), q.Range.End.UnixNano())
	}
	for _, kw := range q.Keywords {
		sb.WriteString(" AND (instr(lower(title), ?) > 0 OR instr(lower(description), ?) > 0)")
		lowered := strings.ToLower(kw)
		args = append(args, lowered, lowered)
	}
	if len(q.Categories) > 0 {
		sb.WriteString(` AND EXISTS (
			SELECT 1 FROM event_categories c
			WHERE c.source_id = events.source_id AND c.event_id = events.event_id
			AND c.category IN (`)
		for i, cat := range q.Categories {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, cat)
		}
		sb.WriteString("))")
	}
	sb.WriteString(" ORDER BY start_date ASC, source_id ASC, event_id ASC")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.attachCategories(ctx, out)
}

// FindByID looks an event up by its id alone; the source prefix inside
// conventional ids makes collisions unlikely, and ties resolve to the
// smallest source_id.
func (s *Store) FindByID(ctx context.Context, eventID string) (*storage.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = ? ORDER BY source_id ASC LIMIT 1`,
		eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	evs, err := s.attachCategories(ctx, []*storage.Event{ev})
	if err != nil {
		return nil, err
	}
	return evs[0], nil
}

func (s *Store) DeleteBySource(ctx context.Context, sourceID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM events WHERE source_id = ?`, sourceID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM event_categories WHERE source_id = ?`, sourceID); err != nil {
			return err
		}
		fingerprints, err := fingerprintsReferencing(tx, sourceID)
		if err != nil {
			return err
		}
		for _, fp := range fingerprints {
			if _, err := tx.Exec(`DELETE FROM query_cache WHERE fingerprint = ?`, fp); err != nil {
				return err
			}
		}
		return nil
	})
}

func fingerprintsReferencing(tx *sql.Tx, sourceID string) ([]string, error) {
	rows, err := tx.Query(`SELECT fingerprint, result_ids FROM query_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp, raw string
		if err := rows.Scan(&fp, &raw); err != nil {
			return nil, err
		}
		var refs [][2]string
		if err := json.Unmarshal([]byte(raw), &refs); err != nil {
			out = append(out, fp) // unreadable entry, drop it
			continue
		}
		for _, ref := range refs {
			if ref[0] == sourceID {
				out = append(out, fp)
				break
			}
		}
	}
	return out, rows.Err()
}

func (s *Store) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`DELETE FROM query_cache WHERE inserted_at + ttl_seconds * 1000000000 < ?`,
			now.UnixNano())
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed += n

		if s.persistentTTL <= 0 {
			return nil
		}
		cutoff := now.Add(-s.persistentTTL).UnixNano()
		if _, err := tx.Exec(`
			DELETE FROM event_categories WHERE (source_id, event_id) IN (
				SELECT source_id, event_id FROM events WHERE fetched_at < ?
			)`, cutoff); err != nil {
			return err
		}
		res, err = tx.Exec(`DELETE FROM events WHERE fetched_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		removed += n
		return nil
	})
	return removed, err
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*storage.Event, error) {
	var ev storage.Event
	var start, end, modified int64
	var locName, locAddr, orgName, orgEmail string
	var recurrence sql.NullString

	if err := row.Scan(
		&ev.SourceID, &ev.ID, &ev.Title, &ev.Description, &start, &end,
		&locName, &locAddr, &orgName, &orgEmail, &ev.URL,
		&modified, &recurrence,
	); err != nil {
		return nil, err
	}

	ev.Start = time.Unix(0, start).UTC()
	ev.End = time.Unix(0, end).UTC()
	ev.LastModified = time.Unix(0, modified).UTC()
	if locName != "" || locAddr != "" {
		ev.Location = &storage.Location{Name: locName, Address: locAddr}
	}
	if orgName != "" || orgEmail != "" {
		ev.Organizer = &storage.Organizer{Name: orgName, Email: orgEmail}
	}
	if recurrence.Valid && recurrence.String != "" {
		var rec storage.Recurrence
		if err := json.Unmarshal([]byte(recurrence.String), &rec); err != nil {
			return nil, fmt.Errorf("decode recurrence for %s/%s: %w", ev.SourceID, ev.ID, err)
		}
		ev.Recurrence = &rec
	}
	return &ev, nil
}

func (s *Store) attachCategories(ctx context.Context, events []*storage.Event) ([]*storage.Event, error) {
	for _, ev := range events {
		rows, err := s.db.QueryContext(ctx,
			`SELECT category FROM event_categories WHERE source_id = ? AND event_id = ? ORDER BY position ASC`,
			ev.SourceID, ev.ID)
		if err != nil {
			return nil, err
		}
		var cats []string
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				rows.Close()
				return nil, err
			}
			cats = append(cats, c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		ev.Categories = cats
	}
	return events, nil
}

func marshalRecurrence(rec *storage.Recurrence) (sql.NullString, error) {
	if rec == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
