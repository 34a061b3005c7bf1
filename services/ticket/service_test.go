package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"opsdesk/pkg/config"
	"opsdesk/pkg/errutil"
	"opsdesk/services/audit"
	"opsdesk/services/authz"
	"opsdesk/services/testutil"
	"opsdesk/services/user"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeEnqueuer records enqueued notification tasks without a broker.
type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) typesSeen() []string {
	out := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t.Type())
	}
	return out
}

type testEnv struct {
	svc     *Service
	db      *gorm.DB
	users   user.Repository
	enqueue *fakeEnqueuer

	admin      user.User
	lead       user.User
	technician user.User
	viewer     user.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&user.User{},
		&Task{},
		&TaskContext{},
		&Subscriber{},
		&Comment{},
		&Mention{},
		&Attachment{},
		&audit.AuditLog{},
		&audit.SystemLog{},
	)
	node := testutil.NewTestNode(t)

	policy, err := authz.NewPolicy()
	require.NoError(t, err)

	usersRepo := user.NewRepository(db)
	enqueue := &fakeEnqueuer{}

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   &config.Config{},
		Policy:   policy,
		Repo:     NewRepository(db),
		Users:    usersRepo,
		Enqueuer: enqueue,
		Recorder: audit.NewRecorder(node),
	})

	env := &testEnv{svc: svc, db: db, users: usersRepo, enqueue: enqueue}
	env.admin = env.seedUser(t, "admin1", user.RoleAdmin)
	env.lead = env.seedUser(t, "lead1", user.RoleTeamLead)
	env.technician = env.seedUser(t, "tech1", user.RoleTechnician)
	env.viewer = env.seedUser(t, "viewer1", user.RoleViewer)

	return env
}

func (e *testEnv) seedUser(t *testing.T, username string, role user.Role) user.User {
	t.Helper()

	u := &user.User{
		ID:       username + "-id",
		Username: username,
		Email:    username + "@example.com",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return *u
}

func requireCode(t *testing.T, err error, code errutil.CoreStatus) {
	t.Helper()

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, code, be.Code)
}

func TestService_CreateTask_DerivesSLADeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title:    "Replace backup tapes",
		Priority: PriorityCritical,
	}, env.technician.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, created.Status)
	require.NotNil(t, created.SLADeadline)
	require.Equal(t, 4*time.Hour, created.SLADeadline.Sub(created.CreatedAt))

	trail, err := env.svc.AuditTrail(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, audit.ActionCreated, trail[0].Action)
}

func TestService_CreateTask_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateTask(ctx, CreateInput{Priority: PriorityLow}, env.admin.ID)
	requireCode(t, err, errutil.StatusValidationFailed)

	_, err = env.svc.CreateTask(ctx, CreateInput{Title: "x", Priority: Priority("urgent")}, env.admin.ID)
	requireCode(t, err, errutil.StatusValidationFailed)

	ghost := "no-such-user"
	_, err = env.svc.CreateTask(ctx, CreateInput{
		Title: "x", Priority: PriorityLow, AssigneeID: &ghost,
	}, env.admin.ID)
	requireCode(t, err, errutil.StatusNotFound)

	due := time.Now().UTC().Add(48 * time.Hour)
	sla := due.Add(-time.Hour)
	_, err = env.svc.CreateTask(ctx, CreateInput{
		Title: "x", Priority: PriorityLow, DueDate: &due, SLADeadline: &sla,
	}, env.admin.ID)
	requireCode(t, err, errutil.StatusValidationFailed)
}

func TestService_CreateTask_WithContextAndSubscribers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title:         "Patch mail server",
		Priority:      PriorityHigh,
		AssigneeID:    &env.technician.ID,
		SubscriberIDs: []string{env.lead.ID},
		Context: &ContextInput{
			ServerName:  "mail01",
			Environment: "production",
		},
	}, env.admin.ID)
	require.NoError(t, err)
	require.NotNil(t, created.Context)
	require.Equal(t, "mail01", created.Context.ServerName)
	require.Len(t, created.Subscribers, 1)

	// Assignment at creation notifies the assignee.
	require.Contains(t, env.enqueue.typesSeen(), "opsdesk:notify:assigned")
}

func TestService_ChangeStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Check disk space", Priority: PriorityMedium, AssigneeID: &env.technician.ID,
	}, env.admin.ID)
	require.NoError(t, err)

	// The assignee may move the task.
	updated, err := env.svc.ChangeStatus(ctx, created.ID, StatusInProgress, "", env.technician)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, updated.Status)

	// No transition graph: jumping straight to closed is allowed.
	updated, err = env.svc.ChangeStatus(ctx, created.ID, StatusClosed, "", env.admin)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, updated.Status)

	// An unrelated viewer may not.
	_, err = env.svc.ChangeStatus(ctx, created.ID, StatusOpen, "", env.viewer)
	requireCode(t, err, errutil.StatusForbidden)

	require.Contains(t, env.enqueue.typesSeen(), "opsdesk:notify:status_changed")
}

func TestService_ChangeStatus_WithNotePersistsComment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Renew certificate", Priority: PriorityHigh,
	}, env.admin.ID)
	require.NoError(t, err)

	_, err = env.svc.ChangeStatus(ctx, created.ID, StatusInProgress, "waiting on CA, cc @lead1", env.admin)
	require.NoError(t, err)

	comments, err := env.svc.ListComments(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Equal(t, "waiting on CA, cc @lead1", comments[0].Content)
	require.Len(t, comments[0].Mentions, 1)
	require.Equal(t, env.lead.ID, comments[0].Mentions[0].UserID)

	require.Contains(t, env.enqueue.typesSeen(), "opsdesk:notify:mentioned")
}

func TestService_Reassign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Install RAM", Priority: PriorityLow, AssigneeID: &env.technician.ID,
	}, env.admin.ID)
	require.NoError(t, err)

	// Technicians cannot reassign, not even their own tasks.
	_, err = env.svc.Reassign(ctx, created.ID, env.lead.ID, env.technician)
	requireCode(t, err, errutil.StatusForbidden)

	updated, err := env.svc.Reassign(ctx, created.ID, env.lead.ID, env.lead)
	require.NoError(t, err)
	require.Equal(t, env.lead.ID, *updated.AssigneeID)

	_, err = env.svc.Reassign(ctx, created.ID, "no-such-user", env.admin)
	requireCode(t, err, errutil.StatusNotFound)
}

func TestService_Subscribers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Audit firewall rules", Priority: PriorityMedium,
	}, env.admin.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.AddSubscriber(ctx, created.ID, env.technician.ID, env.lead))
	// Adding twice is a no-op, not an error.
	require.NoError(t, env.svc.AddSubscriber(ctx, created.ID, env.technician.ID, env.lead))

	got, err := env.svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Subscribers, 1)

	err = env.svc.AddSubscriber(ctx, created.ID, env.viewer.ID, env.technician)
	requireCode(t, err, errutil.StatusForbidden)

	require.NoError(t, env.svc.RemoveSubscriber(ctx, created.ID, env.technician.ID, env.admin))
	got, err = env.svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.Empty(t, got.Subscribers)
}

func TestService_EditTask_TitleImmutable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Original title", Priority: PriorityLow,
	}, env.admin.ID)
	require.NoError(t, err)

	newTitle := "Sneaky rename"
	_, err = env.svc.EditTask(ctx, created.ID, EditInput{Title: &newTitle}, env.admin)
	requireCode(t, err, errutil.StatusValidationFailed)

	got, err := env.svc.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Original title", got.Title)
}

func TestService_EditTask_UpsertsContext(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Upgrade DB", Priority: PriorityHigh,
	}, env.admin.ID)
	require.NoError(t, err)

	desc := "postgres 16 upgrade"
	pr := PriorityCritical
	updated, err := env.svc.EditTask(ctx, created.ID, EditInput{
		Description: &desc,
		Priority:    &pr,
		Context:     &ContextInput{ServerName: "db01", Version: "15.4"},
	}, env.admin)
	require.NoError(t, err)
	require.Equal(t, desc, updated.Description)
	require.Equal(t, PriorityCritical, updated.Priority)
	require.NotNil(t, updated.Context)
	require.Equal(t, "db01", updated.Context.ServerName)

	// Second edit overwrites every context field, including ones left empty.
	updated, err = env.svc.EditTask(ctx, created.ID, EditInput{
		Context: &ContextInput{ServerName: "db02"},
	}, env.admin)
	require.NoError(t, err)
	require.Equal(t, "db02", updated.Context.ServerName)
	require.Empty(t, updated.Context.Version)
}

func TestService_DeleteTask_CascadesButKeepsSystemLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title:         "Decommission host",
		Priority:      PriorityMedium,
		SubscriberIDs: []string{env.technician.ID},
		Context:       &ContextInput{ServerName: "old01"},
	}, env.admin.ID)
	require.NoError(t, err)

	_, err = env.svc.AddComment(ctx, created.ID, "drained, cc @tech1", env.admin)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteTask(ctx, nil, created.ID, env.admin))

	_, err = env.svc.GetTask(ctx, created.ID)
	requireCode(t, err, errutil.StatusNotFound)

	for _, model := range []any{
		&TaskContext{}, &Subscriber{}, &Comment{}, &Mention{}, &audit.AuditLog{},
	} {
		var count int64
		require.NoError(t, env.db.Model(model).Where("task_id = ?", created.ID).Count(&count).Error)
		require.Zero(t, count, "%T rows must be cascaded", model)
	}

	// The system log snapshot survives the cascade.
	var logs []audit.SystemLog
	require.NoError(t, env.db.Where("task_id = ?", created.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, audit.EventTaskDeleted, logs[0].Event)
	require.NotEmpty(t, logs[0].Payload)
}

func TestService_DeleteTask_Authorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Owned by technician", Priority: PriorityLow,
	}, env.technician.ID)
	require.NoError(t, err)

	err = env.svc.DeleteTask(ctx, nil, created.ID, env.viewer)
	requireCode(t, err, errutil.StatusForbidden)

	// The creator may delete their own task regardless of role.
	require.NoError(t, env.svc.DeleteTask(ctx, nil, created.ID, env.technician))
}

func TestService_AddComment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Printer on fire", Priority: PriorityCritical,
	}, env.admin.ID)
	require.NoError(t, err)

	_, err = env.svc.AddComment(ctx, created.ID, "", env.admin)
	requireCode(t, err, errutil.StatusValidationFailed)

	comment, err := env.svc.AddComment(ctx, created.ID, "mention of @nobody is dropped", env.admin)
	require.NoError(t, err)
	require.Empty(t, comment.Mentions)

	_, err = env.svc.AddComment(ctx, "missing-task", "hello", env.admin)
	requireCode(t, err, errutil.StatusNotFound)
}

func TestService_SLAReport_SkipsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	open, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Open critical", Priority: PriorityCritical,
	}, env.admin.ID)
	require.NoError(t, err)

	closed, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Closed critical", Priority: PriorityCritical,
	}, env.admin.ID)
	require.NoError(t, err)
	_, err = env.svc.ChangeStatus(ctx, closed.ID, StatusClosed, "", env.admin)
	require.NoError(t, err)

	report, err := env.svc.SLAReport(ctx, time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, report.Overdue, 1)
	require.Equal(t, open.ID, report.Overdue[0].ID)
}

func TestService_ListTasks_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "HQ task", Priority: PriorityLow, Branch: "hq",
	}, env.admin.ID)
	require.NoError(t, err)
	branch, err := env.svc.CreateTask(ctx, CreateInput{
		Title: "Branch task", Priority: PriorityHigh, Branch: "west",
	}, env.technician.ID)
	require.NoError(t, err)

	tasks, err := env.svc.ListTasks(ctx, ListParams{Branch: "west"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, branch.ID, tasks[0].ID)

	tasks, err = env.svc.ListTasks(ctx, ListParams{Priority: PriorityHigh, CreatorID: env.technician.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}
