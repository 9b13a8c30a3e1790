package store

import "time"

// SessionRecord is one registered session id.
type SessionRecord struct {
	ID        string
	CreatedAt int64
}

// InsertSession registers a session id. Re-inserting an existing id
// keeps the original creation time.
func (db *DB) InsertSession(id string) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, created_at)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UnixMilli())
	return err
}

// DeleteSession removes a session id from the registry.
func (db *DB) DeleteSession(id string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// ListSessions returns all registered sessions ordered by creation.
func (db *DB) ListSessions() ([]SessionRecord, error) {
	rows, err := db.Query(`SELECT id, created_at FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
