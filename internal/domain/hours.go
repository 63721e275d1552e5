package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayHours is the opening window of a business for one weekday. Open and
// Close are "HH:MM" in 24h notation and both ends are inclusive.
type DayHours struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	IsOpen bool   `json:"is_open"`
}

// Contains reports whether the "HH:MM" clock value falls inside the window.
func (d DayHours) Contains(clock string) bool {
	if !d.IsOpen {
		return false
	}
	return clock >= d.Open && clock <= d.Close
}

// WeeklyHours holds one DayHours per weekday, indexed by time.Weekday.
type WeeklyHours [7]DayHours

// On returns the hours for the given weekday.
func (w WeeklyHours) On(day time.Weekday) DayHours {
	return w[day]
}

// EveryDay builds WeeklyHours that use the same window on all seven days.
func EveryDay(open, close string) WeeklyHours {
	var w WeeklyHours
	for i := range w {
		w[i] = DayHours{Open: open, Close: close, IsOpen: true}
	}
	return w
}

// MarshalJSON renders the week as an object keyed by lowercase weekday name.
func (w WeeklyHours) MarshalJSON() ([]byte, error) {
	m := make(map[string]DayHours, len(w))
	for i, d := range w {
		m[strings.ToLower(time.Weekday(i).String())] = d
	}
	return json.Marshal(m)
}

func (w *WeeklyHours) UnmarshalJSON(b []byte) error {
	var m map[string]DayHours
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out WeeklyHours
	for name, d := range m {
		day, ok := parseWeekday(name)
		if !ok {
			return fmt.Errorf("unknown weekday %q in operating hours", name)
		}
		out[day] = d
	}
	*w = out
	return nil
}

func parseWeekday(name string) (time.Weekday, bool) {
	for i := time.Sunday; i <= time.Saturday; i++ {
		if strings.EqualFold(i.String(), name) {
			return i, true
		}
	}
	return 0, false
}
