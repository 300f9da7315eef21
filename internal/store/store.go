// Package store persists the engine's optional snapshots: per-vehicle
// particle-population snapshots and segment/intersection running
// statistics. Both are write-mostly, timestamped rows; neither is read
// back by the filter itself (the filter reads live state from
// internal/schedule.Catalogue and internal/network.Aggregator).
package store

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// ParticleSnapshotRow is one particle's posterior state at a moment in
// time: (vehicle id, timestamp, N rows x (distance, velocity,
// log_likelihood)).
type ParticleSnapshotRow struct {
	VehicleID     string    `db:"vehicle_id"`
	TripID        string    `db:"trip_id"`
	Timestamp     time.Time `db:"observed_at"`
	ParticleID    uint64    `db:"particle_id"`
	Distance      float64   `db:"distance"`
	Velocity      float64   `db:"velocity"`
	LogLikelihood float64   `db:"log_likelihood"`
}

// SegmentStatRow is a segment's persisted running statistics.
type SegmentStatRow struct {
	SegmentID string    `db:"segment_id"`
	Mean      float64   `db:"mean_seconds"`
	Variance  float64   `db:"variance_seconds"`
	Timestamp time.Time `db:"observed_at"`
	Count     int       `db:"sample_count"`
}

// IntersectionStatRow is an intersection's persisted delay statistics.
type IntersectionStatRow struct {
	IntersectionID string    `db:"intersection_id"`
	Mean           float64   `db:"mean_seconds"`
	Variance       float64   `db:"variance_seconds"`
	Timestamp      time.Time `db:"observed_at"`
	Count          int       `db:"sample_count"`
}

// RecordParticleSnapshot saves one vehicle's particle population as a
// batch of rows in a single transaction.
func RecordParticleSnapshot(db *sqlx.DB, rows []ParticleSnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Beginx()
	if err != nil {
		return err
	}

	statementString := "insert into particle_snapshot " +
		"(vehicle_id, trip_id, observed_at, particle_id, distance, velocity, log_likelihood) " +
		"values " +
		"(:vehicle_id, :trip_id, :observed_at, :particle_id, :distance, :velocity, :log_likelihood)"

	for _, row := range rows {
		if _, err := tx.NamedExec(statementString, row); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecordSegmentStat upserts a segment's current running statistics.
func RecordSegmentStat(db *sqlx.DB, row SegmentStatRow) error {
	statementString := "insert into segment_stat " +
		"(segment_id, mean_seconds, variance_seconds, observed_at, sample_count) " +
		"values " +
		"(:segment_id, :mean_seconds, :variance_seconds, :observed_at, :sample_count) " +
		"on conflict (segment_id) do update set " +
		"mean_seconds = excluded.mean_seconds, " +
		"variance_seconds = excluded.variance_seconds, " +
		"observed_at = excluded.observed_at, " +
		"sample_count = excluded.sample_count"
	_, err := db.NamedExec(statementString, row)
	return err
}

// RecordIntersectionStat upserts an intersection's current delay
// statistics.
func RecordIntersectionStat(db *sqlx.DB, row IntersectionStatRow) error {
	statementString := "insert into intersection_stat " +
		"(intersection_id, mean_seconds, variance_seconds, observed_at, sample_count) " +
		"values " +
		"(:intersection_id, :mean_seconds, :variance_seconds, :observed_at, :sample_count) " +
		"on conflict (intersection_id) do update set " +
		"mean_seconds = excluded.mean_seconds, " +
		"variance_seconds = excluded.variance_seconds, " +
		"observed_at = excluded.observed_at, " +
		"sample_count = excluded.sample_count"
	_, err := db.NamedExec(statementString, row)
	return err
}

// ListActiveVehicles returns the ids of every vehicle with a particle
// snapshot recorded at or after since, for gtfs-eta-feed to know which
// vehicles to compute estimates for without holding its own live Pool.
func ListActiveVehicles(db *sqlx.DB, since time.Time) ([]string, error) {
	var ids []string
	err := db.Select(&ids, db.Rebind(
		"select distinct vehicle_id from particle_snapshot where observed_at >= ?"), since)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetLatestSnapshot returns vehicleID's particle population as of its
// most recently recorded timestamp, or an empty slice if the vehicle has
// no recorded snapshot.
func GetLatestSnapshot(db *sqlx.DB, vehicleID string) ([]ParticleSnapshotRow, error) {
	var rows []ParticleSnapshotRow
	err := db.Select(&rows, db.Rebind(
		"select vehicle_id, trip_id, observed_at, particle_id, distance, velocity, log_likelihood "+
			"from particle_snapshot where vehicle_id = ? and observed_at = "+
			"(select max(observed_at) from particle_snapshot where vehicle_id = ?)"),
		vehicleID, vehicleID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetSegmentStat retrieves the persisted statistics for segmentID, if any.
func GetSegmentStat(db *sqlx.DB, segmentID string) (*SegmentStatRow, error) {
	var row SegmentStatRow
	err := db.Get(&row, db.Rebind("select segment_id, mean_seconds, variance_seconds, observed_at, sample_count "+
		"from segment_stat where segment_id = ?"), segmentID)
	if err != nil {
		return nil, err
	}
	return &row, nil
}
