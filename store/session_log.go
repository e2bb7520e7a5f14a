package store

import "time"

// SessionLog records a session state transition.
type SessionLog struct {
	ID        int64     `json:"id"`
	LocalID   string    `json:"local_id"`
	PeerID    string    `json:"peer_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	CreatedAt time.Time `json:"created_at"`
}

func (db *DB) InsertSessionLog(localID, peerID, fromState, toState string) (int64, error) {
	res, err := db.Exec(`INSERT INTO session_log (local_id, peer_id, from_state, to_state) VALUES (?, ?, ?, ?)`,
		localID, peerID, fromState, toState)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListSessionLog returns the newest entries first.
func (db *DB) ListSessionLog(limit int) ([]SessionLog, error) {
	rows, err := db.Query(`SELECT id, local_id, peer_id, from_state, to_state, created_at FROM session_log ORDER BY id DESC LIMIT ?`, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionLogs(rows)
}

func scanSessionLogs(rows rowScanner) ([]SessionLog, error) {
	var logs []SessionLog
	for rows.Next() {
		var l SessionLog
		var createdAt string
		if err := rows.Scan(&l.ID, &l.LocalID, &l.PeerID, &l.FromState, &l.ToState, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = scanTime(createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
