package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func timePtr(ts time.Time) *time.Time {
	return &ts
}

func defaultHours() map[string]int {
	return map[string]int{
		"critical": 4,
		"high":     24,
		"medium":   48,
		"low":      120,
	}
}

func TestDeadlineFor(t *testing.T) {
	createdAt := mustParse(t, "2024-01-01T00:00:00Z")

	require.Equal(t, mustParse(t, "2024-01-01T04:00:00Z"), DeadlineFor(createdAt, PriorityCritical, defaultHours()))
	require.Equal(t, mustParse(t, "2024-01-02T00:00:00Z"), DeadlineFor(createdAt, PriorityHigh, defaultHours()))
	require.Equal(t, mustParse(t, "2024-01-03T00:00:00Z"), DeadlineFor(createdAt, PriorityMedium, defaultHours()))
	require.Equal(t, mustParse(t, "2024-01-06T00:00:00Z"), DeadlineFor(createdAt, PriorityLow, defaultHours()))
}

func TestClassifySLA_CriticalLifecycle(t *testing.T) {
	createdAt := mustParse(t, "2024-01-01T00:00:00Z")
	task := &Task{
		ID:          "1",
		Status:      StatusOpen,
		Priority:    PriorityCritical,
		SLADeadline: timePtr(DeadlineFor(createdAt, PriorityCritical, defaultHours())),
	}

	// Inside the approach window but before the deadline.
	at := mustParse(t, "2024-01-01T03:00:00Z")
	c := ClassifySLA([]*Task{task}, at)
	require.Empty(t, c.Overdue)
	require.Len(t, c.Approaching, 1)

	// One hour past the deadline.
	at = mustParse(t, "2024-01-01T05:00:00Z")
	c = ClassifySLA([]*Task{task}, at)
	require.Len(t, c.Overdue, 1)
	require.Empty(t, c.Approaching)
}

func TestClassifySLA_TerminalExcluded(t *testing.T) {
	deadline := mustParse(t, "2024-01-01T04:00:00Z")
	at := mustParse(t, "2024-01-02T00:00:00Z")

	for _, status := range []Status{StatusResolved, StatusClosed} {
		task := &Task{ID: "1", Status: status, Priority: PriorityCritical, SLADeadline: &deadline}
		c := ClassifySLA([]*Task{task}, at)
		require.Empty(t, c.Overdue, "status %s", status)
		require.Empty(t, c.Approaching, "status %s", status)
	}
}

func TestClassifySLA_DueDateAloneMakesOverdue(t *testing.T) {
	at := mustParse(t, "2024-01-10T00:00:00Z")
	task := &Task{
		ID:       "1",
		Status:   StatusInProgress,
		Priority: PriorityLow,
		DueDate:  timePtr(mustParse(t, "2024-01-09T00:00:00Z")),
		// SLA deadline still comfortably in the future.
		SLADeadline: timePtr(mustParse(t, "2024-01-20T00:00:00Z")),
	}

	c := ClassifySLA([]*Task{task}, at)
	require.Len(t, c.Overdue, 1)
	require.Empty(t, c.Approaching)
}

func TestClassifySLA_ApproachWindowBounds(t *testing.T) {
	at := mustParse(t, "2024-01-01T00:00:00Z")

	inside := &Task{ID: "in", Status: StatusOpen, Priority: PriorityMedium,
		SLADeadline: timePtr(at.Add(24 * time.Hour))}
	outside := &Task{ID: "out", Status: StatusOpen, Priority: PriorityMedium,
		SLADeadline: timePtr(at.Add(24*time.Hour + time.Minute))}

	c := ClassifySLA([]*Task{inside, outside}, at)
	require.Len(t, c.Approaching, 1)
	require.Equal(t, "in", c.Approaching[0].ID)
}

func TestClassifySLA_Ordering(t *testing.T) {
	at := mustParse(t, "2024-01-05T00:00:00Z")

	lowEarly := &Task{ID: "low-early", Status: StatusOpen, Priority: PriorityLow,
		SLADeadline: timePtr(mustParse(t, "2024-01-01T00:00:00Z"))}
	criticalLate := &Task{ID: "critical-late", Status: StatusOpen, Priority: PriorityCritical,
		SLADeadline: timePtr(mustParse(t, "2024-01-04T00:00:00Z"))}
	criticalEarly := &Task{ID: "critical-early", Status: StatusOpen, Priority: PriorityCritical,
		SLADeadline: timePtr(mustParse(t, "2024-01-02T00:00:00Z"))}

	c := ClassifySLA([]*Task{lowEarly, criticalLate, criticalEarly}, at)
	require.Len(t, c.Overdue, 3)
	require.Equal(t, "critical-early", c.Overdue[0].ID)
	require.Equal(t, "critical-late", c.Overdue[1].ID)
	require.Equal(t, "low-early", c.Overdue[2].ID)
}

func TestTimeRemaining(t *testing.T) {
	at := mustParse(t, "2024-01-01T00:00:00Z")

	// Floored to whole hours.
	task := &Task{SLADeadline: timePtr(at.Add(90 * time.Minute))}
	require.Equal(t, time.Hour, TimeRemaining(task, at))

	// Never negative.
	task = &Task{SLADeadline: timePtr(at.Add(-3 * time.Hour))}
	require.Equal(t, time.Duration(0), TimeRemaining(task, at))

	// No deadline at all.
	require.Equal(t, time.Duration(0), TimeRemaining(&Task{}, at))
}

func TestBuildReport(t *testing.T) {
	at := mustParse(t, "2024-01-01T00:00:00Z")
	approaching := &Task{ID: "a", Status: StatusOpen, Priority: PriorityHigh,
		SLADeadline: timePtr(at.Add(5*time.Hour + 30*time.Minute))}
	overdue := &Task{ID: "o", Status: StatusOpen, Priority: PriorityHigh,
		SLADeadline: timePtr(at.Add(-time.Hour))}

	report := BuildReport(ClassifySLA([]*Task{approaching, overdue}, at), at)
	require.Len(t, report.Overdue, 1)
	require.Equal(t, 0, report.Overdue[0].TimeRemainingHours)
	require.Len(t, report.Approaching, 1)
	require.Equal(t, 5, report.Approaching[0].TimeRemainingHours)
}
