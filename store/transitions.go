package store

import (
	"database/sql"
	"time"
)

// Machines whose transitions are recorded.
const (
	MachineDecision = "decision"
	MachineMode     = "mode"
	MachineRoam     = "roam"
)

// Transition records a state change of one of the state machines.
type Transition struct {
	ID        int64     `json:"id"`
	Machine   string    `json:"machine"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func (db *DB) InsertTransition(machine, fromState, toState, detail string) (int64, error) {
	res, err := db.Exec(`INSERT INTO transitions (machine, from_state, to_state, detail) VALUES (?, ?, ?, ?)`,
		machine, fromState, toState, detail)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListTransitions returns the newest entries first. An empty machine lists all.
func (db *DB) ListTransitions(machine string, limit int) ([]Transition, error) {
	const cols = `SELECT id, machine, from_state, to_state, detail, created_at FROM transitions`
	var (
		rows *sql.Rows
		err  error
	)
	if machine == "" {
		rows, err = db.Query(cols+` ORDER BY id DESC LIMIT ?`, limitOrDefault(limit))
	} else {
		rows, err = db.Query(cols+` WHERE machine = ? ORDER BY id DESC LIMIT ?`, machine, limitOrDefault(limit))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransitions(rows)
}

func scanTransitions(rows rowScanner) ([]Transition, error) {
	var out []Transition
	for rows.Next() {
		var t Transition
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Machine, &t.FromState, &t.ToState, &t.Detail, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = scanTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}
