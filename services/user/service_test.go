package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"opsdesk/pkg/errutil"
	"opsdesk/services/audit"
	"opsdesk/services/authz"
	"opsdesk/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &User{}, &Team{}, &audit.SystemLog{})
	node := testutil.NewTestNode(t)

	policy, err := authz.NewPolicy()
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Policy:   policy,
		Repo:     NewRepository(db),
		Recorder: audit.NewRecorder(node),
	})
	return svc, db
}

func admin() User {
	return User{ID: "admin-id", Username: "root", Role: RoleAdmin, IsActive: true}
}

func requireCode(t *testing.T, err error, code errutil.CoreStatus) {
	t.Helper()

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, code, be.Code)
}

func TestService_CreateUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, CreateInput{
		Username: "alice",
		Email:    "alice@example.com",
		Role:     RoleTechnician,
	}, admin())
	require.NoError(t, err)
	require.True(t, u.IsActive)

	// Duplicate username.
	_, err = svc.CreateUser(ctx, CreateInput{
		Username: "alice", Email: "other@example.com", Role: RoleViewer,
	}, admin())
	requireCode(t, err, errutil.StatusConflict)

	// Bad role.
	_, err = svc.CreateUser(ctx, CreateInput{
		Username: "bob", Email: "bob@example.com", Role: Role("superuser"),
	}, admin())
	requireCode(t, err, errutil.StatusValidationFailed)

	// TeamLead may not manage accounts.
	lead := User{ID: "lead-id", Role: RoleTeamLead}
	_, err = svc.CreateUser(ctx, CreateInput{
		Username: "carol", Email: "carol@example.com", Role: RoleViewer,
	}, lead)
	requireCode(t, err, errutil.StatusForbidden)
}

func TestService_UpdateUser_DeactivationLogged(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, CreateInput{
		Username: "dave", Email: "dave@example.com", Role: RoleTechnician,
	}, admin())
	require.NoError(t, err)

	inactive := false
	updated, err := svc.UpdateUser(ctx, u.ID, UpdateInput{IsActive: &inactive}, admin())
	require.NoError(t, err)
	require.False(t, updated.IsActive)

	var logs []audit.SystemLog
	require.NoError(t, db.Where("event = ?", audit.EventUserDeactivated).Find(&logs).Error)
	require.Len(t, logs, 1)

	// Deactivating an already inactive account does not log again.
	_, err = svc.UpdateUser(ctx, u.ID, UpdateInput{IsActive: &inactive}, admin())
	require.NoError(t, err)
	require.NoError(t, db.Where("event = ?", audit.EventUserDeactivated).Find(&logs).Error)
	require.Len(t, logs, 1)
}

func TestService_Teams(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	lead := User{ID: "lead-id", Role: RoleTeamLead}

	team, err := svc.CreateTeam(ctx, "Infrastructure", nil, lead)
	require.NoError(t, err)

	teams, err := svc.ListTeams(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 1)

	tech := User{ID: "tech-id", Role: RoleTechnician}
	err = svc.DeleteTeam(ctx, team.ID, tech)
	requireCode(t, err, errutil.StatusForbidden)

	require.NoError(t, svc.DeleteTeam(ctx, team.ID, lead))

	err = svc.DeleteTeam(ctx, team.ID, lead)
	requireCode(t, err, errutil.StatusNotFound)
}
