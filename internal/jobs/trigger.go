package jobs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Parser accepts the six-field specs produced by Trigger.Spec.
var Parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Trigger compiles to a six-field cron spec: sec min hour dom month dow.
type Trigger interface {
	Spec() (string, error)
	String() string
}

// Daily fires once a day at a fixed wall-clock time.
type Daily struct {
	Hour, Minute, Second int
}

func (d Daily) Spec() (string, error) {
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second > 59 {
		return "", fmt.Errorf("%w: %02d:%02d:%02d out of range", ErrInvalidTrigger, d.Hour, d.Minute, d.Second)
	}
	return fmt.Sprintf("%d %d %d * * *", d.Second, d.Minute, d.Hour), nil
}

func (d Daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d:%02d", d.Hour, d.Minute, d.Second)
}

// Cron holds raw cron field expressions. Empty fields follow the usual
// defaulting: fields more significant than the least significant set field
// mean "every", the rest take their minimum. So Cron{Hour: "2"} fires once
// at 02:00:00 rather than every second of that hour.
//
// DayOfWeek numbers Monday as 0 and also accepts mon..sun.
type Cron struct {
	Month      string
	DayOfMonth string
	DayOfWeek  string
	Hour       string
	Minute     string
	Second     string
}

func (c Cron) String() string {
	s, err := c.Spec()
	if err != nil {
		return "cron(invalid)"
	}
	return "cron(" + s + ")"
}

func (c Cron) Spec() (string, error) {
	// Most significant first.
	fields := []struct {
		val string
		def string
	}{
		{strings.TrimSpace(c.Month), "1"},
		{strings.TrimSpace(c.DayOfMonth), "1"},
		{strings.TrimSpace(c.DayOfWeek), "*"},
		{strings.TrimSpace(c.Hour), "0"},
		{strings.TrimSpace(c.Minute), "0"},
		{strings.TrimSpace(c.Second), "0"},
	}
	last := -1
	for i, f := range fields {
		if f.val != "" {
			last = i
		}
	}
	if last < 0 {
		return "", ErrNoTrigger
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		switch {
		case f.val != "":
			out[i] = f.val
		case i < last:
			out[i] = "*"
		default:
			out[i] = f.def
		}
	}
	if c.DayOfWeek != "" {
		dow, err := convertDayOfWeek(out[2])
		if err != nil {
			return "", err
		}
		out[2] = dow
	}
	month, dom, dow, hour, minute, second := out[0], out[1], out[2], out[3], out[4], out[5]
	spec := strings.Join([]string{second, minute, hour, dom, month, dow}, " ")
	if _, err := Parser.Parse(spec); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidTrigger, spec, err)
	}
	return spec, nil
}

// Monday-first names, indexed by the configured numbering.
var weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func weekdayIndex(tok string) (int, error) {
	tok = strings.ToLower(strings.TrimSpace(tok))
	for i, d := range weekdays {
		if tok == d {
			return i, nil
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 || n > 6 {
		return 0, fmt.Errorf("%w: day_of_week %q", ErrInvalidTrigger, tok)
	}
	return n, nil
}

// convertDayOfWeek rewrites a Monday=0 expression into an explicit list of
// day names, which the cron parser maps to its own Sunday=0 numbering.
// Ranges are expanded so wrap-arounds like sat-sun stay valid.
func convertDayOfWeek(expr string) (string, error) {
	if expr == "*" || expr == "?" {
		return expr, nil
	}
	seen := map[int]bool{}
	var days []string
	add := func(i int) {
		if !seen[i] {
			seen[i] = true
			days = append(days, weekdays[i])
		}
	}
	for _, part := range strings.Split(expr, ",") {
		rng, step := part, 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n <= 0 {
				return "", fmt.Errorf("%w: day_of_week step %q", ErrInvalidTrigger, part)
			}
			rng, step = part[:i], n
		}
		lo, hi := 0, 6
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			ends := strings.SplitN(rng, "-", 2)
			var err error
			if lo, err = weekdayIndex(ends[0]); err != nil {
				return "", err
			}
			if hi, err = weekdayIndex(ends[1]); err != nil {
				return "", err
			}
			if hi < lo {
				return "", fmt.Errorf("%w: day_of_week range %q", ErrInvalidTrigger, rng)
			}
		default:
			i, err := weekdayIndex(rng)
			if err != nil {
				return "", err
			}
			lo, hi = i, i
			if step > 1 {
				hi = 6
			}
		}
		for i := lo; i <= hi; i += step {
			add(i)
		}
	}
	return strings.Join(days, ","), nil
}
