package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/qninhdt/storyforge/server/internal/game"
)

// DB is the SQLite-backed session and campaign store
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

var (
	_ game.SessionStore  = (*DB)(nil)
	_ game.CampaignStore = (*DB)(nil)
)

// NewDB opens the database at dbPath and runs migrations
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs database migrations
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		doc_json TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		campaign_id TEXT NOT NULL,
		campaign_title TEXT NOT NULL,
		campaign_type TEXT NOT NULL,
		character_id TEXT NOT NULL,
		character_json TEXT NOT NULL,
		current_location TEXT NOT NULL,
		turn_count INTEGER NOT NULL,
		tension_score INTEGER NOT NULL,
		quests_json TEXT NOT NULL,
		anchors_json TEXT NOT NULL,
		world_truths_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS narrative_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		location_image TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_owner_id ON sessions(owner_id);
	CREATE INDEX IF NOT EXISTS idx_narrative_entries_session_id ON narrative_entries(session_id, id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SaveCampaigns upserts campaigns, keeping the given order for listing
func (db *DB) SaveCampaigns(ctx context.Context, campaigns []*game.Campaign) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, c := range campaigns {
		doc, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode campaign %s: %w", c.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO campaigns (id, position, doc_json)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET position = excluded.position, doc_json = excluded.doc_json
		`, c.ID, i, string(doc))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountCampaigns returns how many campaigns are stored
func (db *DB) CountCampaigns(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns").Scan(&n)
	return n, err
}

// ListCampaigns returns campaign summaries in catalog order
func (db *DB) ListCampaigns(ctx context.Context) ([]game.CampaignSummary, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, "SELECT doc_json FROM campaigns ORDER BY position, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []game.CampaignSummary{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		c, err := decodeCampaign(doc)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, c.Summary())
	}

	return summaries, rows.Err()
}

// GetCampaign returns one campaign
func (db *DB) GetCampaign(ctx context.Context, id string) (*game.Campaign, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var doc string
	err := db.conn.QueryRowContext(ctx, "SELECT doc_json FROM campaigns WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", game.ErrCampaignNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeCampaign(doc)
}

func decodeCampaign(doc string) (*game.Campaign, error) {
	var c game.Campaign
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("failed to decode campaign: %w", err)
	}
	c.Normalize()
	return &c, nil
}

// InsertSession stores a new session with its initial history
func (db *DB) InsertSession(ctx context.Context, s *game.Session) error {
	characterJSON, questsJSON, anchorsJSON, truthsJSON, err := encodeSessionDocs(s.Character, s.Quests, s.Anchors, s.WorldTruths)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			id, owner_id, campaign_id, campaign_title, campaign_type, character_id, character_json,
			current_location, turn_count, tension_score, quests_json, anchors_json, world_truths_json,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.OwnerID, s.CampaignID, s.CampaignTitle, s.CampaignType, s.CharacterID, characterJSON,
		s.CurrentLocation, s.TurnCount, s.TensionScore, questsJSON, anchorsJSON, truthsJSON,
		s.Version, formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return err
	}

	if err := insertEntries(ctx, tx, s.ID, s.NarrativeHistory); err != nil {
		return err
	}

	return tx.Commit()
}

// GetSession loads a session and its full history
func (db *DB) GetSession(ctx context.Context, id string) (*game.Session, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var s game.Session
	var characterJSON, questsJSON, anchorsJSON, truthsJSON string
	var createdAt, updatedAt string
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, owner_id, campaign_id, campaign_title, campaign_type, character_id, character_json,
		       current_location, turn_count, tension_score, quests_json, anchors_json, world_truths_json,
		       version, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id).Scan(&s.ID, &s.OwnerID, &s.CampaignID, &s.CampaignTitle, &s.CampaignType, &s.CharacterID, &characterJSON,
		&s.CurrentLocation, &s.TurnCount, &s.TensionScore, &questsJSON, &anchorsJSON, &truthsJSON,
		&s.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", game.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(characterJSON), &s.Character); err != nil {
		return nil, fmt.Errorf("%w: character: %v", game.ErrMalformedSession, err)
	}
	if err := json.Unmarshal([]byte(questsJSON), &s.Quests); err != nil {
		return nil, fmt.Errorf("%w: quests: %v", game.ErrMalformedSession, err)
	}
	if err := json.Unmarshal([]byte(anchorsJSON), &s.Anchors); err != nil {
		return nil, fmt.Errorf("%w: anchors: %v", game.ErrMalformedSession, err)
	}
	if err := json.Unmarshal([]byte(truthsJSON), &s.WorldTruths); err != nil {
		return nil, fmt.Errorf("%w: world truths: %v", game.ErrMalformedSession, err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	if s.NarrativeHistory, err = db.loadEntries(ctx, id); err != nil {
		return nil, err
	}

	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) loadEntries(ctx context.Context, sessionID string) ([]game.NarrativeEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT turn, type, content, location_image, timestamp
		FROM narrative_entries
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []game.NarrativeEntry{}
	for rows.Next() {
		var (
			e  game.NarrativeEntry
			ts string
		)
		if err := rows.Scan(&e.Turn, &e.Type, &e.Content, &e.LocationImage, &ts); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// UpdateSession applies a partial update and appends history in one
// transaction. With ExpectVersion set, a version mismatch yields
// game.ErrConflict and nothing is written.
func (db *DB) UpdateSession(ctx context.Context, id string, u game.SessionUpdate) error {
	var (
		sets []string
		args []any
	)
	addJSON := func(column string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", column, err)
		}
		sets = append(sets, column+" = ?")
		args = append(args, string(data))
		return nil
	}

	if u.TurnCount != nil {
		sets = append(sets, "turn_count = ?")
		args = append(args, *u.TurnCount)
	}
	if u.TensionScore != nil {
		sets = append(sets, "tension_score = ?")
		args = append(args, *u.TensionScore)
	}
	if u.Anchors != nil {
		if err := addJSON("anchors_json", u.Anchors); err != nil {
			return err
		}
	}
	if u.Quests != nil {
		if err := addJSON("quests_json", u.Quests); err != nil {
			return err
		}
	}
	if u.Character != nil {
		if err := addJSON("character_json", u.Character); err != nil {
			return err
		}
	}
	updatedAt := u.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	sets = append(sets, "updated_at = ?", "version = version + 1")
	args = append(args, formatTime(updatedAt))

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx, "SELECT version FROM sessions WHERE id = ?", id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", game.ErrSessionNotFound, id)
	}
	if err != nil {
		return err
	}
	if u.ExpectVersion != nil && *u.ExpectVersion != version {
		return game.ErrConflict
	}

	args = append(args, id)
	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
		return err
	}
	if err := insertEntries(ctx, tx, id, u.AppendHistory); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteSession removes a session and its history
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM narrative_entries WHERE session_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", game.ErrSessionNotFound, id)
	}

	return tx.Commit()
}

// SessionOwner returns the subject that started a session, or "" for
// sessions created without authentication
func (db *DB) SessionOwner(ctx context.Context, id string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var owner string
	err := db.conn.QueryRowContext(ctx, "SELECT owner_id FROM sessions WHERE id = ?", id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", game.ErrSessionNotFound, id)
	}
	return owner, err
}

func insertEntries(ctx context.Context, tx *sql.Tx, sessionID string, entries []game.NarrativeEntry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO narrative_entries (session_id, turn, type, content, location_image, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sessionID, e.Turn, string(e.Type), e.Content, e.LocationImage, formatTime(e.Timestamp))
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeSessionDocs(character game.Character, quests game.QuestState, anchors game.Anchors, truths []game.WorldTruth) (string, string, string, string, error) {
	docs := make([]string, 0, 4)
	for _, v := range []any{character, quests, anchors, truths} {
		data, err := json.Marshal(v)
		if err != nil {
			return "", "", "", "", fmt.Errorf("failed to encode session: %w", err)
		}
		docs = append(docs, string(data))
	}
	return docs[0], docs[1], docs[2], docs[3], nil
}

// Helper functions
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", game.ErrMalformedSession, s)
	}
	return t, nil
}
