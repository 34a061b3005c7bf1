package ticket

import (
	"sort"
	"time"
)

// ApproachWindow is how far ahead of the SLA deadline a task counts as
// approaching.
const ApproachWindow = 24 * time.Hour

// DeadlineFor derives the SLA deadline for a task created at createdAt with
// the given priority, using the configured per-priority hour offsets.
func DeadlineFor(createdAt time.Time, p Priority, hours map[string]int) time.Time {
	h, ok := hours[p.String()]
	if !ok {
		h = hours[PriorityMedium.String()]
	}
	return createdAt.Add(time.Duration(h) * time.Hour)
}

// Classification buckets non-terminal tasks by SLA state. Each bucket is
// ordered by priority descending, then by the governing deadline ascending.
type Classification struct {
	Overdue     []*Task `json:"overdue"`
	Approaching []*Task `json:"approaching"`
}

func overdue(t *Task, now time.Time) bool {
	if t.DueDate != nil && t.DueDate.Before(now) {
		return true
	}
	return t.SLADeadline != nil && t.SLADeadline.Before(now)
}

func approaching(t *Task, now time.Time) bool {
	if t.SLADeadline == nil {
		return false
	}
	d := *t.SLADeadline
	return !d.Before(now) && !d.After(now.Add(ApproachWindow))
}

// governingDeadline is the deadline a bucket sorts on: for overdue tasks the
// earliest of the breached dates, for approaching tasks the SLA deadline.
func governingDeadline(t *Task, now time.Time) time.Time {
	if overdue(t, now) {
		var g *time.Time
		if t.DueDate != nil && t.DueDate.Before(now) {
			g = t.DueDate
		}
		if t.SLADeadline != nil && t.SLADeadline.Before(now) && (g == nil || t.SLADeadline.Before(*g)) {
			g = t.SLADeadline
		}
		if g != nil {
			return *g
		}
	}
	if t.SLADeadline != nil {
		return *t.SLADeadline
	}
	return now
}

func sortBucket(bucket []*Task, now time.Time) {
	sort.SliceStable(bucket, func(i, j int) bool {
		a, b := bucket[i], bucket[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		return governingDeadline(a, now).Before(governingDeadline(b, now))
	})
}

// ClassifySLA buckets the supplied tasks at the given instant. Tasks in a
// terminal status are never classified, regardless of their deadlines.
func ClassifySLA(tasks []*Task, now time.Time) Classification {
	out := Classification{
		Overdue:     []*Task{},
		Approaching: []*Task{},
	}

	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		switch {
		case overdue(t, now):
			out.Overdue = append(out.Overdue, t)
		case approaching(t, now):
			out.Approaching = append(out.Approaching, t)
		}
	}

	sortBucket(out.Overdue, now)
	sortBucket(out.Approaching, now)

	return out
}

// TimeRemaining is the time left until the SLA deadline, floored to whole
// hours and never negative. Tasks without a deadline report zero.
func TimeRemaining(t *Task, now time.Time) time.Duration {
	if t.SLADeadline == nil {
		return 0
	}
	remaining := t.SLADeadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining / time.Hour * time.Hour
}

// ReportEntry pairs a classified task with the whole hours left on its SLA.
type ReportEntry struct {
	*Task
	TimeRemainingHours int `json:"time_remaining_hours"`
}

// Report is the SLA dashboard payload.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Overdue     []ReportEntry `json:"overdue"`
	Approaching []ReportEntry `json:"approaching"`
}

// BuildReport attaches remaining-hour figures to a classification.
func BuildReport(c Classification, now time.Time) Report {
	entries := func(bucket []*Task) []ReportEntry {
		out := make([]ReportEntry, 0, len(bucket))
		for _, t := range bucket {
			out = append(out, ReportEntry{
				Task:               t,
				TimeRemainingHours: int(TimeRemaining(t, now) / time.Hour),
			})
		}
		return out
	}
	return Report{
		GeneratedAt: now,
		Overdue:     entries(c.Overdue),
		Approaching: entries(c.Approaching),
	}
}
