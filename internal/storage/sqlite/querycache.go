package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sonroyaalmerol/calfeed/internal/storage"
)

func (s *Store) StoreQueryResult(ctx context.Context, fingerprint string, events []*storage.Event, ttl time.Duration) error {
	refs := make([][2]string, len(events))
	for i, ev := range events {
		refs[i] = [2]string{ev.SourceID, ev.ID}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ev := range events {
			if err := upsertEventTx(tx, ev, now); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`
			INSERT INTO query_cache (fingerprint, inserted_at, ttl_seconds, result_ids)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(fingerprint) DO UPDATE SET
				inserted_at = excluded.inserted_at,
				ttl_seconds = excluded.ttl_seconds,
				result_ids = excluded.result_ids
		`, fingerprint, now.UnixNano(), int64(ttl/time.Second), string(raw))
		return err
	})
}

func (s *Store) LookupQueryResult(ctx context.Context, fingerprint string, now time.Time) ([]*storage.Event, bool, error) {
	var insertedAt, ttlSeconds int64
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT inserted_at, ttl_seconds, result_ids FROM query_cache WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&insertedAt, &ttlSeconds, &raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if now.UnixNano() > insertedAt+ttlSeconds*int64(time.Second) {
		return nil, false, nil
	}

	var refs [][2]string
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, false, err
	}

	events := make([]*storage.Event, 0, len(refs))
	for _, ref := range refs {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM events WHERE source_id = ? AND event_id = ?`,
			ref[0], ref[1])
		ev, err := scanEvent(row)
		if err == sql.ErrNoRows {
			// a referenced row was cleaned up; the entry is stale
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		events = append(events, ev)
	}
	events, err = s.attachCategories(ctx, events)
	if err != nil {
		return nil, false, err
	}
	return events, true, nil
}
