package network

import (
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

// HolidayCalendar identifies service days that fall on an observed
// holiday, used to keep the aggregator's holiday and regular-day dwell
// and intersection-delay statistics apart, the way traffic patterns
// shift on holidays versus weekdays.
type HolidayCalendar struct {
	calendar *cal.BusinessCalendar
}

// NewHolidayCalendar builds a HolidayCalendar over eight US federal
// holidays; Presidents Day, Columbus Day and Veterans Day are not
// included.
//
// TODO: make the observed holiday set configurable per transit agency
// instead of hardcoding the US federal calendar.
func NewHolidayCalendar() *HolidayCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.MemorialDay,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
		us.Juneteenth,
	)
	return &HolidayCalendar{calendar: calendar}
}

// IsHoliday reports whether at falls on an observed holiday.
func (h *HolidayCalendar) IsHoliday(at time.Time) bool {
	_, observed, _ := h.calendar.IsHoliday(at)
	return observed
}
