package store

import "time"

// Instruction directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// InstructionLog records one instruction sent by the controller or handled
// by the robot.
type InstructionLog struct {
	ID        int64     `json:"id"`
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Applied   bool      `json:"applied"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (db *DB) InsertInstructionLog(direction, kind, detail string, applied bool, errMsg string) (int64, error) {
	res, err := db.Exec(`INSERT INTO instruction_log (direction, kind, detail, applied, error) VALUES (?, ?, ?, ?, ?)`,
		direction, kind, detail, applied, errMsg)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListInstructionLog returns the newest entries first.
func (db *DB) ListInstructionLog(limit int) ([]InstructionLog, error) {
	rows, err := db.Query(`SELECT id, direction, kind, detail, applied, error, created_at FROM instruction_log ORDER BY id DESC LIMIT ?`, limitOrDefault(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstructionLogs(rows)
}

func scanInstructionLogs(rows rowScanner) ([]InstructionLog, error) {
	var logs []InstructionLog
	for rows.Next() {
		var l InstructionLog
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Direction, &l.Kind, &l.Detail, &l.Applied, &l.Error, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = scanTime(createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
