package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
)

type RoomRecord struct {
	ID        string `db:"id" json:"id"`
	Board     string `db:"board" json:"board"`
	Status    string `db:"status" json:"status"` // night, day, finished
	Night     int    `db:"night" json:"night"`
	HostToken string `db:"host_token" json:"-"`
	Winner    string `db:"winner" json:"winner,omitempty"`
}

type SeatRow struct {
	RoomID  string `db:"room_id" json:"-"`
	Seat    int    `db:"seat" json:"seat"`
	Name    string `db:"name" json:"name"`
	RoleID  string `db:"role_id" json:"role"`
	IsAlive bool   `db:"is_alive" json:"alive"`
}

// actionRow is a RecordedAction as stored; a night action has at most two
// targets (swap).
type actionRow struct {
	RoomID string `db:"room_id"`
	RecordedAction
	Target1 sql.NullInt64 `db:"target1"`
	Target2 sql.NullInt64 `db:"target2"`
}

type reportRow struct {
	RoomID    string `db:"room_id"`
	Night     int    `db:"night"`
	Deaths    string `db:"deaths"`
	Blocked   string `db:"blocked"`
	Peaceful  bool   `db:"peaceful"`
	Narration string `db:"narration"`
}

// Room statuses
const (
	RoomStatusNight    = "night"
	RoomStatusDay      = "day"
	RoomStatusFinished = "finished"
)

func createRoomRecord(room RoomRecord, seats []SeatAssignment) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO room (id, board, status, night, host_token) VALUES (?, ?, ?, 0, ?)`,
		room.ID, room.Board, RoomStatusDay, room.HostToken); err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	for _, s := range seats {
		if _, err := tx.Exec(`INSERT INTO seat (room_id, seat, name, role_id) VALUES (?, ?, ?, ?)`,
			room.ID, s.Seat, s.Name, s.RoleID); err != nil {
			return fmt.Errorf("insert seat %d: %w", s.Seat, err)
		}
	}
	return tx.Commit()
}

func getRoom(id string) (RoomRecord, error) {
	var room RoomRecord
	err := db.Get(&room, `SELECT id, board, status, night, host_token, winner FROM room WHERE id = ?`, id)
	return room, err
}

func getSeats(roomID string) ([]SeatRow, error) {
	var seats []SeatRow
	err := db.Select(&seats, `SELECT room_id, seat, name, role_id, is_alive FROM seat WHERE room_id = ? ORDER BY seat`, roomID)
	return seats, err
}

func setRoomStatus(roomID, status string, night int) error {
	_, err := db.Exec(`UPDATE room SET status = ?, night = ? WHERE id = ?`, status, night, roomID)
	return err
}

func setRoomWinner(roomID string, winner Team) error {
	_, err := db.Exec(`UPDATE room SET status = ?, winner = ? WHERE id = ?`, RoomStatusFinished, string(winner), roomID)
	return err
}

func markSeatsDead(roomID string, seats []int) error {
	for _, seat := range seats {
		if _, err := db.Exec(`UPDATE seat SET is_alive = 0 WHERE room_id = ? AND seat = ?`, roomID, seat); err != nil {
			return fmt.Errorf("mark seat %d dead: %w", seat, err)
		}
	}
	return nil
}

// saveNightActions appends applied actions to the night log. A repeated
// action (same room, night, step, sub-step and seat) is ignored.
func saveNightActions(roomID string, actions []RecordedAction) error {
	if len(actions) == 0 {
		return nil
	}
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range actions {
		var t1, t2 sql.NullInt64
		if len(a.Targets) > 0 {
			t1 = sql.NullInt64{Int64: int64(a.Targets[0]), Valid: true}
		}
		if len(a.Targets) > 1 {
			t2 = sql.NullInt64{Int64: int64(a.Targets[1]), Valid: true}
		}
		_, err := tx.Exec(`INSERT OR IGNORE INTO night_action
			(room_id, night, step_index, schema_id, sub_step, seat, effect, target1, target2, skipped, nonce)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			roomID, a.Night, a.StepIndex, a.SchemaID, a.Sub, a.Seat, string(a.Effect), t1, t2, a.Skipped, int64(a.Nonce))
		if err != nil {
			return fmt.Errorf("insert action %s/%d: %w", a.SchemaID, a.Seat, err)
		}
	}
	return tx.Commit()
}

// loadNightRecord rebuilds a night's record in the order it was applied.
func loadNightRecord(roomID string, night int) (NightRecord, error) {
	var rows []actionRow
	err := db.Select(&rows, `SELECT room_id, night, step_index, schema_id, sub_step, seat, effect,
			target1, target2, skipped, nonce
		FROM night_action
		WHERE room_id = ? AND night = ?
		ORDER BY rowid`, roomID, night)
	if err != nil {
		return NightRecord{}, err
	}
	rec := NightRecord{Night: night, Actions: make([]RecordedAction, 0, len(rows))}
	for _, row := range rows {
		a := row.RecordedAction
		if row.Target1.Valid {
			a.Targets = append(a.Targets, int(row.Target1.Int64))
		}
		if row.Target2.Valid {
			a.Targets = append(a.Targets, int(row.Target2.Int64))
		}
		rec.Actions = append(rec.Actions, a)
	}
	return rec, nil
}

func saveNightReport(roomID string, rep NightReport) error {
	deaths, err := json.Marshal(rep.Deaths)
	if err != nil {
		return err
	}
	blocked, err := json.Marshal(rep.BlockedSeats)
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT OR REPLACE INTO night_report (room_id, night, deaths, blocked, peaceful)
		VALUES (?, ?, ?, ?, ?)`, roomID, rep.Night, string(deaths), string(blocked), rep.Peaceful)
	return err
}

// loadNightReport returns sql.ErrNoRows (wrapped) for a night that has not
// finished.
func loadNightReport(roomID string, night int) (NightReport, string, error) {
	var row reportRow
	err := db.Get(&row, `SELECT room_id, night, deaths, blocked, peaceful, narration
		FROM night_report WHERE room_id = ? AND night = ?`, roomID, night)
	if err != nil {
		return NightReport{}, "", fmt.Errorf("night %d report: %w", night, err)
	}
	rep := NightReport{Night: row.Night, Peaceful: row.Peaceful}
	if err := json.Unmarshal([]byte(row.Deaths), &rep.Deaths); err != nil {
		return NightReport{}, "", fmt.Errorf("night %d deaths: %w", night, err)
	}
	if err := json.Unmarshal([]byte(row.Blocked), &rep.BlockedSeats); err != nil {
		return NightReport{}, "", fmt.Errorf("night %d blocked seats: %w", night, err)
	}
	return rep, row.Narration, nil
}

func saveNarration(roomID string, night int, text string) error {
	_, err := db.Exec(`UPDATE night_report SET narration = ? WHERE room_id = ? AND night = ?`, text, roomID, night)
	return err
}

func initDB() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS room (
		id TEXT PRIMARY KEY,
		board TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'day',
		night INTEGER NOT NULL DEFAULT 0,
		host_token TEXT NOT NULL,
		winner TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS seat (
		room_id TEXT NOT NULL,
		seat INTEGER NOT NULL,
		name TEXT NOT NULL,
		role_id TEXT NOT NULL,
		is_alive INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (room_id) REFERENCES room(id),
		UNIQUE(room_id, seat)
	);
	CREATE TABLE IF NOT EXISTS session (
		token TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		seat INTEGER NOT NULL,
		FOREIGN KEY (room_id) REFERENCES room(id)
	);
	CREATE TABLE IF NOT EXISTS night_action (
		room_id TEXT NOT NULL,
		night INTEGER NOT NULL,
		step_index INTEGER NOT NULL,
		schema_id TEXT NOT NULL,
		sub_step TEXT NOT NULL DEFAULT '',
		seat INTEGER NOT NULL,
		effect TEXT NOT NULL,
		target1 INTEGER,
		target2 INTEGER,
		skipped INTEGER NOT NULL DEFAULT 0,
		nonce INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (room_id) REFERENCES room(id),
		UNIQUE(room_id, night, step_index, sub_step, seat)
	);
	CREATE INDEX IF NOT EXISTS idx_night_action_lookup ON night_action(room_id, night);
	CREATE TABLE IF NOT EXISTS night_report (
		room_id TEXT NOT NULL,
		night INTEGER NOT NULL,
		deaths TEXT NOT NULL DEFAULT '[]',
		blocked TEXT NOT NULL DEFAULT '[]',
		peaceful INTEGER NOT NULL DEFAULT 0,
		narration TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (room_id) REFERENCES room(id),
		UNIQUE(room_id, night)
	);
	`
	_, err := db.Exec(schema)
	if err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}
