package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestAuditRoundTrip verifies records land in the JSONL file in order
func TestAuditRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	audit := NewAuditLog()
	if err := audit.Start(path); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	audit.Record(NewAuditRecord(EventEntityRegistered, "alice", map[string]any{"role": "player"}))
	audit.Record(NewAuditRecord(EventActionScheduled, "", nil))
	audit.Stop() // flushes

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	var records []AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("Bad JSONL line: %v", err)
		}
		records = append(records, rec)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Type != EventEntityRegistered || records[0].ActorID != "alice" {
		t.Errorf("Unexpected first record: %+v", records[0])
	}
	if records[1].Type != EventActionScheduled {
		t.Errorf("Unexpected second record: %+v", records[1])
	}
	if records[0].Sequence >= records[1].Sequence {
		t.Error("Sequence numbers should be monotonic")
	}

	total, dropped := audit.Stats()
	if total != 2 || dropped != 0 {
		t.Errorf("Expected 2 total / 0 dropped, got %d / %d", total, dropped)
	}
}

// TestAuditRejectsWhenStopped verifies records are refused before Start and after Stop
func TestAuditRejectsWhenStopped(t *testing.T) {
	audit := NewAuditLog()
	if audit.Record(NewAuditRecord("x", "", nil)) {
		t.Error("Record before Start should be rejected")
	}

	if err := audit.Start(""); err != nil {
		t.Fatalf("Start without file failed: %v", err)
	}
	if !audit.Record(NewAuditRecord("x", "", nil)) {
		t.Error("Record while running should be accepted")
	}

	audit.Stop()
	if audit.Record(NewAuditRecord("x", "", nil)) {
		t.Error("Record after Stop should be rejected")
	}
}

// TestAuditActorRateLimit verifies one noisy actor gets throttled
func TestAuditActorRateLimit(t *testing.T) {
	audit := NewAuditLog()
	if err := audit.Start(""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer audit.Stop()

	// Burst far past the per-actor allowance within one instant
	accepted := 0
	for i := 0; i < auditMaxPerActor; i++ {
		if audit.Record(NewAuditRecord("spam", "noisy-actor", nil)) {
			accepted++
		}
	}

	if accepted == 0 {
		t.Fatal("Some records should be accepted")
	}
	if accepted == auditMaxPerActor {
		t.Error("Per-actor limiter should throttle a burst of this size")
	}

	_, dropped := audit.Stats()
	if dropped == 0 {
		t.Error("Dropped counter should reflect throttled records")
	}

	// Wait a moment so the flush loop consumes the buffer cleanly
	time.Sleep(auditFlushInterval * 2)
}
