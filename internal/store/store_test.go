package store

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sqlx.Connect: %v", err)
	}
	schema := `
		create table particle_snapshot (
			vehicle_id text, trip_id text, observed_at datetime, particle_id integer,
			distance real, velocity real, log_likelihood real
		);
		create table segment_stat (
			segment_id text primary key, mean_seconds real,
			variance_seconds real, observed_at datetime, sample_count integer
		);
		create table intersection_stat (
			intersection_id text primary key, mean_seconds real,
			variance_seconds real, observed_at datetime, sample_count integer
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordParticleSnapshotInsertsAllRows(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	rows := []ParticleSnapshotRow{
		{VehicleID: "bus-1", TripID: "trip-1", Timestamp: now, ParticleID: 0, Distance: 10, Velocity: 5, LogLikelihood: -1},
		{VehicleID: "bus-1", TripID: "trip-1", Timestamp: now, ParticleID: 1, Distance: 12, Velocity: 6, LogLikelihood: -2},
	}
	if err := RecordParticleSnapshot(db, rows); err != nil {
		t.Fatalf("RecordParticleSnapshot: %v", err)
	}

	var count int
	if err := db.Get(&count, "select count(*) from particle_snapshot where vehicle_id = 'bus-1'"); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestRecordParticleSnapshotEmptyIsNoop(t *testing.T) {
	db := openTestDB(t)
	if err := RecordParticleSnapshot(db, nil); err != nil {
		t.Fatalf("RecordParticleSnapshot(nil): %v", err)
	}
}

func TestRecordSegmentStatUpsertsOnConflict(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	if err := RecordSegmentStat(db, SegmentStatRow{
		SegmentID: "seg-a", Mean: 60, Variance: 4, Timestamp: now, Count: 1,
	}); err != nil {
		t.Fatalf("RecordSegmentStat (insert): %v", err)
	}
	if err := RecordSegmentStat(db, SegmentStatRow{
		SegmentID: "seg-a", Mean: 65, Variance: 9, Timestamp: now.Add(time.Minute), Count: 2,
	}); err != nil {
		t.Fatalf("RecordSegmentStat (update): %v", err)
	}

	got, err := GetSegmentStat(db, "seg-a")
	if err != nil {
		t.Fatalf("GetSegmentStat: %v", err)
	}
	if got.Mean != 65 || got.Count != 2 {
		t.Fatalf("got %+v, want mean=65 count=2", got)
	}
}

func TestGetSegmentStatMissingReturnsError(t *testing.T) {
	db := openTestDB(t)
	if _, err := GetSegmentStat(db, "does-not-exist"); err == nil {
		t.Fatal("expected an error for a segment with no persisted stats")
	}
}

func TestListActiveVehiclesFiltersByRecency(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	rows := []ParticleSnapshotRow{
		{VehicleID: "bus-1", TripID: "trip-1", Timestamp: now, ParticleID: 0},
		{VehicleID: "bus-2", TripID: "trip-2", Timestamp: now.Add(-time.Hour), ParticleID: 0},
	}
	if err := RecordParticleSnapshot(db, rows); err != nil {
		t.Fatalf("RecordParticleSnapshot: %v", err)
	}

	ids, err := ListActiveVehicles(db, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListActiveVehicles: %v", err)
	}
	if len(ids) != 1 || ids[0] != "bus-1" {
		t.Fatalf("ids = %v, want [bus-1]", ids)
	}
}

func TestGetLatestSnapshotReturnsMostRecentParticles(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	older := []ParticleSnapshotRow{
		{VehicleID: "bus-1", TripID: "trip-1", Timestamp: now.Add(-time.Minute), ParticleID: 0, Distance: 1},
	}
	newer := []ParticleSnapshotRow{
		{VehicleID: "bus-1", TripID: "trip-1", Timestamp: now, ParticleID: 0, Distance: 50},
		{VehicleID: "bus-1", TripID: "trip-1", Timestamp: now, ParticleID: 1, Distance: 55},
	}
	if err := RecordParticleSnapshot(db, older); err != nil {
		t.Fatalf("RecordParticleSnapshot (older): %v", err)
	}
	if err := RecordParticleSnapshot(db, newer); err != nil {
		t.Fatalf("RecordParticleSnapshot (newer): %v", err)
	}

	rows, err := GetLatestSnapshot(db, "bus-1")
	if err != nil {
		t.Fatalf("GetLatestSnapshot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if r.TripID != "trip-1" {
			t.Fatalf("row trip id = %q, want trip-1", r.TripID)
		}
		if r.Distance < 50 {
			t.Fatalf("row distance = %v, want the newer snapshot's values", r.Distance)
		}
	}
}

func TestRecordIntersectionStatUpserts(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	if err := RecordIntersectionStat(db, IntersectionStatRow{
		IntersectionID: "int-a", Mean: 20, Variance: 1, Timestamp: now, Count: 1,
	}); err != nil {
		t.Fatalf("RecordIntersectionStat: %v", err)
	}

	var mean float64
	if err := db.Get(&mean, "select mean_seconds from intersection_stat where intersection_id = 'int-a'"); err != nil {
		t.Fatalf("query: %v", err)
	}
	if mean != 20 {
		t.Fatalf("mean = %v, want 20", mean)
	}
}
