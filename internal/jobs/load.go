package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kavitabot/internal/config"
)

// flexString accepts a JSON string or number.
type flexString struct {
	set bool
	v   string
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.set, f.v = true, strings.TrimSpace(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	f.set, f.v = true, n.String()
	return nil
}

// flexBool accepts true/false or their string spellings.
type flexBool struct {
	set bool
	v   bool
}

func (f *flexBool) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		f.set, f.v = true, v
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected boolean, got %s", b)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		f.set, f.v = true, true
	case "false", "no", "off", "0":
		f.set, f.v = true, false
	default:
		return fmt.Errorf("expected boolean, got %q", s)
	}
	return nil
}

type rawJob struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	ChannelID   flexString `json:"channel_id"`
	Message     string     `json:"message"`
	CommandName string     `json:"command_name"`
	Enabled     flexBool   `json:"enabled"`

	Hour       flexString `json:"hour"`
	Minute     flexString `json:"minute"`
	Second     flexString `json:"second"`
	DayOfWeek  flexString `json:"day_of_week"`
	DayOfMonth flexString `json:"day_of_month"`
	Month      flexString `json:"month"`
}

// Rejected describes one job entry that failed validation.
type Rejected struct {
	Index int
	ID    string
	Err   error
}

func (r Rejected) Error() string {
	if r.ID == "" {
		return fmt.Sprintf("job #%d: %v", r.Index, r.Err)
	}
	return fmt.Sprintf("job %q: %v", r.ID, r.Err)
}

func (r Rejected) Unwrap() error { return r.Err }

// Parse decodes a jobs document: either {"jobs": [...]} or a bare array,
// in JSON or (when path ends in .yaml/.yml) YAML.
//
// A document that is not one of those shapes returns an error and no jobs.
// Individual entries that fail validation are skipped and reported in
// rejected; the remaining jobs are still returned. Disabled jobs are
// returned with Enabled=false.
func Parse(path string, data []byte) (jobs []Job, rejected []Rejected, err error) {
	jb, err := config.ToJSON(path, data)
	if err != nil {
		return nil, nil, err
	}
	entries, err := splitEntries(jb)
	if err != nil {
		return nil, nil, err
	}

	seen := map[string]bool{}
	for i, raw := range entries {
		job, err := decodeEntry(raw)
		if err == nil && seen[job.ID] {
			err = ErrDuplicateID
		}
		if err != nil {
			rejected = append(rejected, Rejected{Index: i, ID: job.ID, Err: err})
			continue
		}
		seen[job.ID] = true
		jobs = append(jobs, job)
	}
	return jobs, rejected, nil
}

func splitEntries(jb []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(jb)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("jobs document: %w", err)
		}
		return entries, nil
	}
	var doc struct {
		Jobs []json.RawMessage `json:"jobs"`
	}
	if err := config.DecodeStrict(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("jobs document: %w", err)
	}
	return doc.Jobs, nil
}

func decodeEntry(raw json.RawMessage) (Job, error) {
	var r rawJob
	if err := config.DecodeStrict(raw, &r); err != nil {
		var head struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &head)
		return Job{ID: head.ID}, err
	}

	job := Job{ID: strings.TrimSpace(r.ID), Enabled: !r.Enabled.set || r.Enabled.v}
	if job.ID == "" {
		return job, ErrMissingID
	}

	trig, err := buildTrigger(r)
	if err != nil {
		return job, err
	}
	job.Trigger = trig

	switch strings.ToLower(strings.TrimSpace(r.Type)) {
	case "send_message":
		job.Action = SendMessage(r.ChannelID.v, r.Message)
	case "command", "run_command":
		cmd, err := ParseCommand(r.CommandName)
		if err != nil {
			return job, err
		}
		job.Action = RunCommand(r.ChannelID.v, cmd)
	default:
		return job, fmt.Errorf("%w: %q", ErrUnknownAction, r.Type)
	}

	if err := job.Validate(); err != nil {
		return job, err
	}
	return job, nil
}

func buildTrigger(r rawJob) (Trigger, error) {
	if !r.Hour.set && !r.Minute.set && !r.Second.set &&
		!r.DayOfWeek.set && !r.DayOfMonth.set && !r.Month.set {
		return nil, ErrNoTrigger
	}
	calendar := r.DayOfWeek.set || r.DayOfMonth.set || r.Month.set
	if r.Hour.set && r.Minute.set && r.Second.set && !calendar {
		h, herr := strconv.Atoi(r.Hour.v)
		m, merr := strconv.Atoi(r.Minute.v)
		s, serr := strconv.Atoi(r.Second.v)
		if err := errors.Join(herr, merr, serr); err == nil {
			d := Daily{Hour: h, Minute: m, Second: s}
			if _, err := d.Spec(); err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	c := Cron{
		Month:      r.Month.v,
		DayOfMonth: r.DayOfMonth.v,
		DayOfWeek:  r.DayOfWeek.v,
		Hour:       r.Hour.v,
		Minute:     r.Minute.v,
		Second:     r.Second.v,
	}
	if _, err := c.Spec(); err != nil {
		return nil, err
	}
	return c, nil
}
