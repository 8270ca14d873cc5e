package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

// Draft is the unsent composer state of one room.
type Draft struct {
	RoomID id.RoomID
	Body   string
	// ReplyTo is the event the draft replies to, if any.
	ReplyTo id.EventID
	// EditOf is set when the draft is an edit of an already sent message.
	EditOf    id.EventID
	UpdatedAt time.Time
}

// DraftStore keeps composer drafts per user so they survive restarts.
// Logging out clears them.
type DraftStore struct {
	db     *dbutil.Database
	userID id.UserID
}

func NewDraftStore(db *dbutil.Database, userID id.UserID) *DraftStore {
	return &DraftStore{db: db, userID: userID}
}

// OpenDraftStore opens the SQLite database at uri and prepares the draft table.
func OpenDraftStore(ctx context.Context, uri string, userID id.UserID) (*DraftStore, error) {
	db, err := dbutil.NewWithDialect(uri, "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("failed to open draft database: %w", err)
	}
	store := NewDraftStore(db, userID)
	if err = store.ensureSchema(ctx); err != nil {
		_ = db.RawDB.Close()
		return nil, err
	}
	return store, nil
}

func (s *DraftStore) Close() error {
	return s.db.RawDB.Close()
}

func (s *DraftStore) ensureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS room_draft (
			user_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			body TEXT NOT NULL,
			reply_to TEXT NOT NULL DEFAULT '',
			edit_of TEXT NOT NULL DEFAULT '',
			updated_ts BIGINT NOT NULL,
			PRIMARY KEY (user_id, room_id)
		)`,
		`CREATE INDEX IF NOT EXISTS room_draft_updated_idx
			ON room_draft (user_id, updated_ts)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure draft schema: %w", err)
		}
	}
	return nil
}

// Set stores the draft for its room. A draft with an empty body and no
// reply or edit target deletes the stored one.
func (s *DraftStore) Set(ctx context.Context, draft Draft) error {
	if draft.RoomID == "" {
		return fmt.Errorf("draft is missing room ID")
	}
	if draft.Body == "" && draft.ReplyTo == "" && draft.EditOf == "" {
		return s.Delete(ctx, draft.RoomID)
	}
	updated := draft.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO room_draft (user_id, room_id, body, reply_to, edit_of, updated_ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, room_id) DO UPDATE SET
			body=excluded.body,
			reply_to=excluded.reply_to,
			edit_of=excluded.edit_of,
			updated_ts=excluded.updated_ts
	`, s.userID, draft.RoomID, draft.Body, draft.ReplyTo, draft.EditOf, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save draft for %s: %w", draft.RoomID, err)
	}
	return nil
}

// Get returns the draft of roomID. found is false if there is none.
func (s *DraftStore) Get(ctx context.Context, roomID id.RoomID) (draft Draft, found bool, err error) {
	var updatedMS int64
	err = s.db.QueryRow(ctx, `
		SELECT room_id, body, reply_to, edit_of, updated_ts
		FROM room_draft WHERE user_id=$1 AND room_id=$2
	`, s.userID, roomID).Scan(&draft.RoomID, &draft.Body, &draft.ReplyTo, &draft.EditOf, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, false, nil
	} else if err != nil {
		return Draft{}, false, fmt.Errorf("failed to load draft for %s: %w", roomID, err)
	}
	draft.UpdatedAt = time.UnixMilli(updatedMS)
	return draft, true, nil
}

// List returns every draft of the user, most recently updated first.
func (s *DraftStore) List(ctx context.Context) ([]Draft, error) {
	rows, err := s.db.Query(ctx, `
		SELECT room_id, body, reply_to, edit_of, updated_ts
		FROM room_draft WHERE user_id=$1
		ORDER BY updated_ts DESC, room_id
	`, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	out := make([]Draft, 0)
	for rows.Next() {
		var draft Draft
		var updatedMS int64
		if err = rows.Scan(&draft.RoomID, &draft.Body, &draft.ReplyTo, &draft.EditOf, &updatedMS); err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		draft.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, draft)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return out, nil
}

func (s *DraftStore) Delete(ctx context.Context, roomID id.RoomID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM room_draft WHERE user_id=$1 AND room_id=$2`, s.userID, roomID)
	if err != nil {
		return fmt.Errorf("failed to delete draft for %s: %w", roomID, err)
	}
	return nil
}

// Clear removes all drafts of the user.
func (s *DraftStore) Clear(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM room_draft WHERE user_id=$1`, s.userID)
	if err != nil {
		return fmt.Errorf("failed to clear drafts: %w", err)
	}
	return nil
}
