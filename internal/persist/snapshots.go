package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xhj721521/teamchat/internal/chat"
)

// Snapshots is the storage port the daemon injects into the checkpointer.
// A connection is never valid across process restarts, so implementations
// must hand back snapshots with the connection state normalized to
// disconnected.
type Snapshots interface {
	SaveTeam(st chat.TeamState) error
	LoadTeam(teamID string) (chat.TeamState, bool, error)
	LoadAll() ([]chat.TeamState, error)
	DeleteTeam(teamID string) error
}

var _ Snapshots = (*DB)(nil)

// SaveTeam upserts a team snapshot, serialized as JSON.
func (db *DB) SaveTeam(st chat.TeamState) error {
	st.ConnState = chat.Disconnected
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", st.TeamID, err)
	}
	_, err = db.Exec(`
		INSERT INTO team_snapshots (team_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(team_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		st.TeamID, string(payload), time.Now().UnixMilli())
	return err
}

// LoadTeam returns the snapshot for a team, if one was saved.
func (db *DB) LoadTeam(teamID string) (chat.TeamState, bool, error) {
	var payload string
	err := db.QueryRow(`SELECT payload FROM team_snapshots WHERE team_id = ?`, teamID).Scan(&payload)
	if err == sql.ErrNoRows {
		return chat.TeamState{}, false, nil
	}
	if err != nil {
		return chat.TeamState{}, false, err
	}
	st, err := decodeSnapshot(payload)
	if err != nil {
		return chat.TeamState{}, false, err
	}
	return st, true, nil
}

// LoadAll returns every saved team snapshot.
func (db *DB) LoadAll() ([]chat.TeamState, error) {
	rows, err := db.Query(`SELECT payload FROM team_snapshots ORDER BY team_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var states []chat.TeamState
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		st, err := decodeSnapshot(payload)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// DeleteTeam removes a team's snapshot (leave-team).
func (db *DB) DeleteTeam(teamID string) error {
	_, err := db.Exec(`DELETE FROM team_snapshots WHERE team_id = ?`, teamID)
	return err
}

func decodeSnapshot(payload string) (chat.TeamState, error) {
	var st chat.TeamState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return chat.TeamState{}, fmt.Errorf("decode snapshot: %w", err)
	}
	st.ConnState = chat.Disconnected
	return st, nil
}
