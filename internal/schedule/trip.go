package schedule

import "fmt"

// StopTime is a trip's scheduled arrival and departure at a stop.
type StopTime struct {
	StopID            string
	ArrivalSeconds    int // seconds since midnight on the service day
	DepartureSeconds  int
	ShapeDistTraveled float64
	Layover           bool
}

func (st StopTime) validate() error {
	if st.DepartureSeconds < st.ArrivalSeconds {
		return fmt.Errorf("stop_time at stop %s: departure %d precedes arrival %d", st.StopID, st.DepartureSeconds, st.ArrivalSeconds)
	}
	return nil
}

// Trip is a scheduled instance of a Route running at a specific time of
// day, with an ordered sequence of stop times.
type Trip struct {
	ID        string
	RouteID   string
	StopTimes []StopTime
}

func (t Trip) validate() error {
	for _, st := range t.StopTimes {
		if err := st.validate(); err != nil {
			return fmt.Errorf("trip %s: %w", t.ID, err)
		}
	}
	return nil
}
