package scheduler

import "time"

const hourKeyLayout = "2006-01-02T15"

// HourKey identifies the calendar hour of t in loc.
func HourKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(hourKeyLayout)
}

// State holds the last hour each job fired in. It performs no I/O.
type State struct {
	loc        *time.Location
	watermarks map[string]string
	failed     map[string]string
}

// NewState returns an empty state keyed in loc.
func NewState(loc *time.Location) *State {
	if loc == nil {
		loc = time.Local
	}
	return &State{loc: loc, watermarks: make(map[string]string), failed: make(map[string]string)}
}

// Prime raises job's watermark to the hour of lastRun. A nil lastRun or one
// older than the current watermark leaves it unchanged.
func (s *State) Prime(job string, lastRun *time.Time) {
	if lastRun == nil || lastRun.IsZero() {
		return
	}
	key := HourKey(*lastRun, s.loc)
	if key > s.watermarks[job] {
		s.watermarks[job] = key
	}
}

// ShouldRun reports whether job has neither fired nor failed in hourKey.
func (s *State) ShouldRun(job, hourKey string) bool {
	return s.watermarks[job] != hourKey && s.failed[job] != hourKey
}

// MarkRan records that job fired in hourKey.
func (s *State) MarkRan(job, hourKey string) {
	s.watermarks[job] = hourKey
}

// MarkFailed records a failed attempt in hourKey. The watermark is left
// alone, so the job is retried in its next configured hour rather than on
// the next tick.
func (s *State) MarkFailed(job, hourKey string) {
	s.failed[job] = hourKey
}

// Watermark returns the last hour job fired in, or "".
func (s *State) Watermark(job string) string {
	return s.watermarks[job]
}
