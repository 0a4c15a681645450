package batch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CutOff is a daily wall-clock boundary (time of day, no date). Once the
// current time of day reaches or passes it, a loop stops requesting batches
// and defers remaining work to the next scheduled run.
type CutOff struct {
	hour   int
	minute int
	second int
}

// NewCutOff builds a CutOff from clock components.
func NewCutOff(hour, minute, second int) (CutOff, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return CutOff{}, fmt.Errorf("%w: %02d:%02d:%02d out of range", ErrInvalidCutOff, hour, minute, second)
	}
	return CutOff{hour: hour, minute: minute, second: second}, nil
}

// ParseCutOff parses "HH:MM" or "HH:MM:SS".
func ParseCutOff(s string) (CutOff, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return CutOff{}, fmt.Errorf("%w: %q", ErrInvalidCutOff, s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return CutOff{}, fmt.Errorf("%w: %q", ErrInvalidCutOff, s)
		}
		nums[i] = n
	}

	c, err := NewCutOff(nums[0], nums[1], nums[2])
	if err != nil {
		return CutOff{}, fmt.Errorf("%w: %q", ErrInvalidCutOff, s)
	}
	return c, nil
}

// Reached reports whether now's time of day is at or past the cut-off.
// Only the clock components of now are compared; the date is ignored.
func (c CutOff) Reached(now time.Time) bool {
	h, m, s := now.Clock()
	nowSecs := h*3600 + m*60 + s
	cutSecs := c.hour*3600 + c.minute*60 + c.second
	return nowSecs >= cutSecs
}

func (c CutOff) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.hour, c.minute, c.second)
}
