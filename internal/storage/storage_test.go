package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := InitDB(Config{DatabasePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordScan(t *testing.T) {
	db := testDB(t)

	scan := &Scan{
		ArchiveName:    "example.zip",
		SHA256:         "abc123",
		Classification: "library",
		Accepted:       true,
		ModID:          "example-mod",
		ModVersion:     "1.2.3",
	}
	if err := db.RecordScan(scan); err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	if scan.ID == 0 {
		t.Error("expected an assigned primary key")
	}
	if scan.ScannedAt.IsZero() {
		t.Error("expected ScannedAt to be filled")
	}
}

func TestRecordScan_Nil(t *testing.T) {
	db := testDB(t)
	if err := db.RecordScan(nil); !errors.Is(err, ErrNilScan) {
		t.Errorf("expected ErrNilScan, got %v", err)
	}
}

func TestListScans(t *testing.T) {
	db := testDB(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		scan := &Scan{
			ArchiveName:    fmt.Sprintf("mod-%d.zip", i),
			SHA256:         fmt.Sprintf("sha-%d", i),
			Classification: "plugin",
			ScannedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.RecordScan(scan); err != nil {
			t.Fatalf("RecordScan failed: %v", err)
		}
	}

	scans, err := db.ListScans(3)
	if err != nil {
		t.Fatalf("ListScans failed: %v", err)
	}
	if len(scans) != 3 {
		t.Fatalf("expected 3 scans, got %d", len(scans))
	}
	// Newest first.
	if scans[0].ArchiveName != "mod-4.zip" {
		t.Errorf("expected mod-4.zip first, got %q", scans[0].ArchiveName)
	}
	for i := 1; i < len(scans); i++ {
		if scans[i].ScannedAt.After(scans[i-1].ScannedAt) {
			t.Errorf("scans out of order at index %d", i)
		}
	}
}

func TestListScans_DefaultLimit(t *testing.T) {
	db := testDB(t)
	if err := db.RecordScan(&Scan{ArchiveName: "a.zip", SHA256: "x", Classification: "library"}); err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	scans, err := db.ListScans(0)
	if err != nil {
		t.Fatalf("ListScans failed: %v", err)
	}
	if len(scans) != 1 {
		t.Errorf("expected 1 scan, got %d", len(scans))
	}
}

func TestFindByMod(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"alpha", "alpha", "beta"} {
		scan := &Scan{ArchiveName: id + ".zip", SHA256: "s", Classification: "library", ModID: id}
		if err := db.RecordScan(scan); err != nil {
			t.Fatalf("RecordScan failed: %v", err)
		}
	}

	scans, err := db.FindByMod("alpha")
	if err != nil {
		t.Fatalf("FindByMod failed: %v", err)
	}
	if len(scans) != 2 {
		t.Errorf("expected 2 scans for alpha, got %d", len(scans))
	}

	if _, err := db.FindByMod("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLastScanBySHA(t *testing.T) {
	db := testDB(t)

	older := &Scan{ArchiveName: "v1.zip", SHA256: "same", Classification: "plugin", ScannedAt: time.Now().Add(-time.Hour)}
	newer := &Scan{ArchiveName: "v2.zip", SHA256: "same", Classification: "plugin", ScannedAt: time.Now()}
	for _, s := range []*Scan{older, newer} {
		if err := db.RecordScan(s); err != nil {
			t.Fatalf("RecordScan failed: %v", err)
		}
	}

	scan, err := db.LastScanBySHA("same")
	if err != nil {
		t.Fatalf("LastScanBySHA failed: %v", err)
	}
	if scan.ArchiveName != "v2.zip" {
		t.Errorf("expected the newest scan, got %q", scan.ArchiveName)
	}

	if _, err := db.LastScanBySHA("absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
