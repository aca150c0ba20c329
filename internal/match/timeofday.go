package match

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS on a 24 hour clock.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("time %q: want HH:MM or HH:MM:SS", value)
	}
	limits := []int{23, 59, 59}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("time %q: want two digits per field", value)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("time %q: field %q out of range", value, p)
		}
		total += time.Duration(n) * units[i]
	}
	return TimeOfDay(total), nil
}

// Window is a daily interval [Start, End). Start after End wraps midnight.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

func ParseWindow(value string) (Window, error) {
	start, end, ok := strings.Cut(value, "-")
	if !ok {
		return Window{}, fmt.Errorf("window %q: want HH:MM-HH:MM", value)
	}
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Window{}, err
	}
	if s == e {
		return Window{}, fmt.Errorf("window %q is empty", value)
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) Contains(t TimeOfDay) bool {
	if w.Start < w.End {
		return t >= w.Start && t < w.End
	}
	return t >= w.Start || t < w.End
}

func clockOf(ts time.Time, loc *time.Location) TimeOfDay {
	if loc != nil {
		ts = ts.In(loc)
	}
	h, m, s := ts.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}
