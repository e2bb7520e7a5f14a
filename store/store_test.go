package store

import (
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionLog(t *testing.T) {
	db := openTest(t)
	if _, err := db.InsertSessionLog("robot-1", "", "idle", "initiating"); err != nil {
		t.Fatalf("InsertSessionLog: %v", err)
	}
	if _, err := db.InsertSessionLog("robot-1", "ctl-1", "initiating", "established"); err != nil {
		t.Fatalf("InsertSessionLog: %v", err)
	}

	logs, err := db.ListSessionLog(10)
	if err != nil {
		t.Fatalf("ListSessionLog: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len = %d, want 2", len(logs))
	}
	if logs[0].ToState != "established" || logs[0].PeerID != "ctl-1" {
		t.Errorf("newest = %+v, want established with ctl-1", logs[0])
	}
	if logs[0].CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}
}

func TestTransitionsFilter(t *testing.T) {
	db := openTest(t)
	db.InsertTransition(MachineDecision, "roaming", "tracking", "")
	db.InsertTransition(MachineRoam, "stopped", "moving", "none")
	db.InsertTransition(MachineDecision, "tracking", "picking_up", "")

	all, err := db.ListTransitions("", 0)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}

	dec, err := db.ListTransitions(MachineDecision, 10)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(dec) != 2 || dec[0].ToState != "picking_up" {
		t.Errorf("decision transitions = %+v", dec)
	}
}

func TestInstructionLog(t *testing.T) {
	db := openTest(t)
	db.InsertInstructionLog(DirectionSent, "move", "move(x=0.000, y=0.500)", true, "")
	db.InsertInstructionLog(DirectionReceived, "stop", "stop", false, "")

	logs, err := db.ListInstructionLog(1)
	if err != nil {
		t.Fatalf("ListInstructionLog: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("len = %d, want 1", len(logs))
	}
	if logs[0].Kind != "stop" || logs[0].Applied {
		t.Errorf("newest = %+v, want unapplied stop", logs[0])
	}
}

func TestPrune(t *testing.T) {
	db := openTest(t)
	for i := 0; i < 10; i++ {
		db.InsertInstructionLog(DirectionSent, "stop", "stop", true, "")
	}
	if err := db.Prune(3); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	logs, _ := db.ListInstructionLog(100)
	if len(logs) != 3 {
		t.Errorf("after prune = %d rows, want 3", len(logs))
	}
	if logs[0].ID != 10 {
		t.Errorf("newest id = %d, want 10", logs[0].ID)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.InsertTransition(MachineMode, "command", "roam", "")
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	got, _ := db.ListTransitions(MachineMode, 10)
	if len(got) != 1 {
		t.Errorf("transitions after reopen = %d, want 1", len(got))
	}
}
