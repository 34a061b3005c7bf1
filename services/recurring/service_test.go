package recurring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"opsdesk/pkg/config"
	"opsdesk/pkg/errutil"
	"opsdesk/services/audit"
	"opsdesk/services/authz"
	"opsdesk/services/testutil"
	"opsdesk/services/ticket"
	"opsdesk/services/user"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type testEnv struct {
	svc     *Service
	tickets *ticket.Service
	db      *gorm.DB

	admin      user.User
	technician user.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&user.User{},
		&ticket.Task{},
		&ticket.TaskContext{},
		&ticket.Subscriber{},
		&ticket.Comment{},
		&ticket.Mention{},
		&ticket.Attachment{},
		&audit.AuditLog{},
		&audit.SystemLog{},
		&Config{},
	)
	node := testutil.NewTestNode(t)

	policy, err := authz.NewPolicy()
	require.NoError(t, err)

	usersRepo := user.NewRepository(db)
	recorder := audit.NewRecorder(node)

	tickets := ticket.NewService(ticket.ServiceParams{
		DB:       db,
		Node:     node,
		Config:   &config.Config{},
		Policy:   policy,
		Repo:     ticket.NewRepository(db),
		Users:    usersRepo,
		Recorder: recorder,
	})

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Policy:   policy,
		Repo:     NewRepository(db),
		Users:    usersRepo,
		Tickets:  tickets,
		Recorder: recorder,
	})

	env := &testEnv{svc: svc, tickets: tickets, db: db}

	admin := &user.User{ID: "admin-id", Username: "admin1", Email: "admin1@example.com", Role: user.RoleAdmin, IsActive: true}
	tech := &user.User{ID: "tech-id", Username: "tech1", Email: "tech1@example.com", Role: user.RoleTechnician, IsActive: true}
	require.NoError(t, usersRepo.Create(context.Background(), admin))
	require.NoError(t, usersRepo.Create(context.Background(), tech))
	env.admin = *admin
	env.technician = *tech

	return env
}

func requireCode(t *testing.T, err error, code errutil.CoreStatus) {
	t.Helper()

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, code, be.Code)
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("0 9 * * *")
	require.NoError(t, err)

	_, err = ParseSchedule("not a schedule")
	requireCode(t, err, errutil.StatusValidationFailed)

	// Six-field (seconds) form is rejected.
	_, err = ParseSchedule("0 0 9 * * *")
	requireCode(t, err, errutil.StatusValidationFailed)
}

func TestNextRun_StrictlyAfter(t *testing.T) {
	at := mustTime(t, "2024-03-01T09:00:00Z")

	next, err := NextRun("0 9 * * *", at)
	require.NoError(t, err)
	require.Equal(t, mustTime(t, "2024-03-02T09:00:00Z"), next)
}

func TestService_CreateConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title:      "Weekly backup check",
		Priority:   ticket.PriorityMedium,
		AssigneeID: &env.technician.ID,
		CronExpr:   "0 9 * * 1",
	}, env.admin)
	require.NoError(t, err)
	require.True(t, cfg.IsActive)
	require.NotNil(t, cfg.NextGenerationAt)
	require.True(t, cfg.NextGenerationAt.After(time.Now().UTC()))

	// Technicians cannot create configs.
	_, err = env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "x", Priority: ticket.PriorityLow, CronExpr: "* * * * *",
	}, env.technician)
	requireCode(t, err, errutil.StatusForbidden)

	_, err = env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "x", Priority: ticket.PriorityLow, CronExpr: "bad",
	}, env.admin)
	requireCode(t, err, errutil.StatusValidationFailed)

	ghost := "no-such-user"
	_, err = env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "x", Priority: ticket.PriorityLow, CronExpr: "* * * * *", AssigneeID: &ghost,
	}, env.admin)
	requireCode(t, err, errutil.StatusNotFound)
}

func TestService_Evaluate_GeneratesAndAdvances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title:       "Daily morning checklist",
		Description: "run the 9am checks",
		Priority:    ticket.PriorityHigh,
		AssigneeID:  &env.technician.ID,
		CronExpr:    "0 9 * * *",
		Context:     TemplateContext{ServerName: "ops01"},
	}, env.admin)
	require.NoError(t, err)

	// Pretend the 9:00 firing time has been reached.
	next := mustTime(t, "2024-03-01T09:00:00Z")
	require.NoError(t, env.svc.repo.Update(ctx, cfg.ID, map[string]any{"next_generation_at": next}))

	at := mustTime(t, "2024-03-01T10:00:00Z")
	res, err := env.svc.Evaluate(ctx, at)
	require.NoError(t, err)
	require.Len(t, res.GeneratedTaskIDs, 1)
	require.Equal(t, []string{cfg.ID}, res.UpdatedConfigIDs)
	require.Empty(t, res.Failures)

	generated, err := env.tickets.GetTask(ctx, res.GeneratedTaskIDs[0])
	require.NoError(t, err)
	require.Equal(t, "Daily morning checklist", generated.Title)
	require.Equal(t, ticket.PriorityHigh, generated.Priority)
	require.Equal(t, env.technician.ID, *generated.AssigneeID)
	require.Equal(t, cfg.ID, *generated.RecurringConfigID)
	require.NotNil(t, generated.Context)
	require.Equal(t, "ops01", generated.Context.ServerName)

	// Schedule advanced to the next 9:00 after the evaluation instant.
	reloaded, err := env.svc.GetConfig(ctx, cfg.ID)
	require.NoError(t, err)
	require.True(t, reloaded.NextGenerationAt.Equal(mustTime(t, "2024-03-02T09:00:00Z")))
	require.True(t, reloaded.LastGeneratedAt.Equal(at))

	// Generation is recorded in the system log.
	var logs []audit.SystemLog
	require.NoError(t, env.db.Where("event = ?", audit.EventTaskGenerated).Find(&logs).Error)
	require.Len(t, logs, 1)
}

func TestService_Evaluate_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "Nightly cleanup", Priority: ticket.PriorityLow, CronExpr: "0 2 * * *",
	}, env.admin)
	require.NoError(t, err)

	next := mustTime(t, "2024-03-01T02:00:00Z")
	require.NoError(t, env.svc.repo.Update(ctx, cfg.ID, map[string]any{"next_generation_at": next}))

	at := mustTime(t, "2024-03-01T02:30:00Z")
	res, err := env.svc.Evaluate(ctx, at)
	require.NoError(t, err)
	require.Len(t, res.GeneratedTaskIDs, 1)

	// A second pass at the same instant finds nothing due.
	res, err = env.svc.Evaluate(ctx, at)
	require.NoError(t, err)
	require.Empty(t, res.GeneratedTaskIDs)
	require.Empty(t, res.Failures)
}

func TestService_Evaluate_FailureDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	good, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "Healthy config", Priority: ticket.PriorityLow, CronExpr: "0 6 * * *",
	}, env.admin)
	require.NoError(t, err)

	bad, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "Broken config", Priority: ticket.PriorityLow, CronExpr: "0 6 * * *",
		AssigneeID: &env.technician.ID,
	}, env.admin)
	require.NoError(t, err)

	next := mustTime(t, "2024-03-01T06:00:00Z")
	for _, id := range []string{good.ID, bad.ID} {
		require.NoError(t, env.svc.repo.Update(ctx, id, map[string]any{"next_generation_at": next}))
	}

	// Invalidate the bad config's assignee after creation.
	require.NoError(t, env.db.Where("id = ?", env.technician.ID).Delete(&user.User{}).Error)

	at := mustTime(t, "2024-03-01T06:30:00Z")
	res, err := env.svc.Evaluate(ctx, at)
	require.NoError(t, err)
	require.Len(t, res.GeneratedTaskIDs, 1)
	require.Equal(t, []string{good.ID}, res.UpdatedConfigIDs)
	require.Len(t, res.Failures, 1)
	require.Equal(t, bad.ID, res.Failures[0].ConfigID)

	// The failed config keeps its old schedule and is retried next pass.
	reloaded, err := env.svc.GetConfig(ctx, bad.ID)
	require.NoError(t, err)
	require.True(t, reloaded.NextGenerationAt.Equal(next))
	require.Nil(t, reloaded.LastGeneratedAt)

	// The healthy config advanced normally.
	reloaded, err = env.svc.GetConfig(ctx, good.ID)
	require.NoError(t, err)
	require.True(t, reloaded.NextGenerationAt.Equal(mustTime(t, "2024-03-02T06:00:00Z")))
}

func TestService_Evaluate_SkipsInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "Paused config", Priority: ticket.PriorityLow, CronExpr: "0 6 * * *",
	}, env.admin)
	require.NoError(t, err)

	next := mustTime(t, "2024-03-01T06:00:00Z")
	require.NoError(t, env.svc.repo.Update(ctx, cfg.ID, map[string]any{
		"next_generation_at": next,
		"is_active":          false,
	}))

	res, err := env.svc.Evaluate(ctx, mustTime(t, "2024-03-01T07:00:00Z"))
	require.NoError(t, err)
	require.Empty(t, res.GeneratedTaskIDs)
}

func TestService_RunNow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "On demand", Priority: ticket.PriorityMedium, CronExpr: "0 9 1 * *",
	}, env.admin)
	require.NoError(t, err)

	_, err = env.svc.RunNow(ctx, cfg.ID, env.technician)
	requireCode(t, err, errutil.StatusForbidden)

	generated, err := env.svc.RunNow(ctx, cfg.ID, env.admin)
	require.NoError(t, err)
	require.Equal(t, "On demand", generated.Title)
	require.Equal(t, cfg.ID, *generated.RecurringConfigID)
}

func TestService_UpdateConfig_RecomputesSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "Reschedule me", Priority: ticket.PriorityLow, CronExpr: "0 9 * * *",
	}, env.admin)
	require.NoError(t, err)
	before := *cfg.NextGenerationAt

	expr := "30 14 * * *"
	updated, err := env.svc.UpdateConfig(ctx, cfg.ID, UpdateConfigInput{CronExpr: &expr}, env.admin)
	require.NoError(t, err)
	require.Equal(t, expr, updated.CronExpr)
	require.False(t, updated.NextGenerationAt.Equal(before))
	next := updated.NextGenerationAt.UTC()
	require.Equal(t, 14, next.Hour())
	require.Equal(t, 30, next.Minute())

	badExpr := "nope"
	_, err = env.svc.UpdateConfig(ctx, cfg.ID, UpdateConfigInput{CronExpr: &badExpr}, env.admin)
	requireCode(t, err, errutil.StatusValidationFailed)
}

func TestService_DeleteConfig_LeavesGeneratedTasks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg, err := env.svc.CreateConfig(ctx, CreateConfigInput{
		Title: "Short lived", Priority: ticket.PriorityLow, CronExpr: "0 9 * * *",
	}, env.admin)
	require.NoError(t, err)

	generated, err := env.svc.RunNow(ctx, cfg.ID, env.admin)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteConfig(ctx, cfg.ID, env.admin))

	_, err = env.svc.GetConfig(ctx, cfg.ID)
	requireCode(t, err, errutil.StatusNotFound)

	// The generated task survives, still pointing at the removed config.
	still, err := env.tickets.GetTask(ctx, generated.ID)
	require.NoError(t, err)
	require.Equal(t, cfg.ID, *still.RecurringConfigID)

	var logs []audit.SystemLog
	require.NoError(t, env.db.Where("event = ?", audit.EventConfigDeleted).Find(&logs).Error)
	require.Len(t, logs, 1)
}
