package user

import (
	"context"

	"opsdesk/pkg/errutil"
	"opsdesk/services/audit"
	"opsdesk/services/authz"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	policy   *authz.Policy
	repo     Repository
	recorder *audit.Recorder
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Policy   *authz.Policy
	Repo     Repository
	Recorder *audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		policy:   p.Policy,
		repo:     p.Repo,
		recorder: p.Recorder,
	}
}

type CreateInput struct {
	Username    string
	Email       string
	DisplayName string
	Role        Role
	TeamID      *string
}

func (s *Service) CreateUser(ctx context.Context, in CreateInput, actor User) (*User, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("actor_id", actor.ID),
	)

	if !s.policy.CanManageUsers(actor.Role.String()) {
		return nil, errutil.Forbidden("only Admin can manage user accounts")
	}

	if in.Username == "" || in.Email == "" {
		return nil, errutil.ValidationFailed("username and email are required")
	}
	if !in.Role.Valid() {
		return nil, errutil.ValidationFailed("unknown role " + string(in.Role))
	}

	existing, err := s.repo.GetByUsername(ctx, in.Username)
	if err != nil {
		zapLog.Error("failed to check existing user", zap.Error(err))
		return nil, errutil.Internal("failed to create user", errutil.WithErr(err))
	}
	if existing != nil {
		return nil, errutil.Conflict("username already taken")
	}

	u := &User{
		ID:          s.node.Generate().String(),
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Role:        in.Role,
		TeamID:      in.TeamID,
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		zapLog.Error("failed to create user", zap.Error(err))
		return nil, errutil.Internal("failed to create user", errutil.WithErr(err))
	}

	zapLog.Info("user created", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errutil.Internal("failed to get user", errutil.WithErr(err))
	}
	if u == nil {
		return nil, errutil.NotFound("user not found")
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to list users", errutil.WithErr(err))
	}
	return users, nil
}

type UpdateInput struct {
	DisplayName *string
	Role        *Role
	TeamID      *string
	IsActive    *bool
}

func (s *Service) UpdateUser(ctx context.Context, id string, in UpdateInput, actor User) (*User, error) {
	if !s.policy.CanManageUsers(actor.Role.String()) {
		return nil, errutil.Forbidden("only Admin can manage user accounts")
	}

	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if in.DisplayName != nil {
		fields["display_name"] = *in.DisplayName
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, errutil.ValidationFailed("unknown role " + string(*in.Role))
		}
		fields["role"] = *in.Role
	}
	if in.TeamID != nil {
		fields["team_id"] = *in.TeamID
	}
	if in.IsActive != nil {
		fields["is_active"] = *in.IsActive
	}

	if len(fields) > 0 {
		if err := s.repo.Update(ctx, u.ID, fields); err != nil {
			return nil, errutil.Internal("failed to update user", errutil.WithErr(err))
		}
	}

	if in.IsActive != nil && !*in.IsActive && u.IsActive {
		if err := s.recorder.System(ctx, s.db, nil, actor.ID, audit.EventUserDeactivated, map[string]any{
			"user_id":  u.ID,
			"username": u.Username,
		}); err != nil {
			zap.L().Error("failed to record deactivation", zap.String("user_id", u.ID), zap.Error(err))
		}
	}

	return s.GetUser(ctx, id)
}

func (s *Service) DeleteUser(ctx context.Context, id string, actor User) error {
	if !s.policy.CanManageUsers(actor.Role.String()) {
		return errutil.Forbidden("only Admin can manage user accounts")
	}

	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return errutil.Internal("failed to delete user", errutil.WithErr(err))
	}
	return nil
}

func (s *Service) CreateTeam(ctx context.Context, name string, leadID *string, actor User) (*Team, error) {
	if !s.policy.CanAdminister(actor.Role.String()) {
		return nil, errutil.Forbidden("only Admin and TeamLead can manage teams")
	}
	if name == "" {
		return nil, errutil.ValidationFailed("team name is required")
	}

	t := &Team{
		ID:     s.node.Generate().String(),
		Name:   name,
		LeadID: leadID,
	}
	if err := s.repo.CreateTeam(ctx, t); err != nil {
		return nil, errutil.Internal("failed to create team", errutil.WithErr(err))
	}
	return t, nil
}

func (s *Service) ListTeams(ctx context.Context) ([]*Team, error) {
	teams, err := s.repo.ListTeams(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to list teams", errutil.WithErr(err))
	}
	return teams, nil
}

func (s *Service) DeleteTeam(ctx context.Context, id string, actor User) error {
	if !s.policy.CanAdminister(actor.Role.String()) {
		return errutil.Forbidden("only Admin and TeamLead can manage teams")
	}
	t, err := s.repo.GetTeam(ctx, id)
	if err != nil {
		return errutil.Internal("failed to get team", errutil.WithErr(err))
	}
	if t == nil {
		return errutil.NotFound("team not found")
	}
	if err := s.repo.DeleteTeam(ctx, id); err != nil {
		return errutil.Internal("failed to delete team", errutil.WithErr(err))
	}
	return nil
}
