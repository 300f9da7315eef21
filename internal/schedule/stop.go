package schedule

import (
	"time"

	"github.com/transitnet/flowmodel/internal/geo"
)

// Stop is a physical transit stop. DwellMean/DwellVar summarize recent
// dwell-time observations aggregated from particle populations
// (internal/network); they are mutable by the aggregator.
type Stop struct {
	ID        string
	Coord     geo.Coord
	DwellMean float64
	DwellVar  float64
	Timestamp time.Time
}
