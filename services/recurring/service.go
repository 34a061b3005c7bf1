package recurring

import (
	"context"
	"sync"
	"time"

	"opsdesk/pkg/errutil"
	"opsdesk/services/audit"
	"opsdesk/services/authz"
	"opsdesk/services/ticket"
	"opsdesk/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// evaluateConcurrency bounds how many configs generate at once during a
// scheduler pass.
const evaluateConcurrency = 4

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	policy   *authz.Policy
	repo     Repository
	users    user.Repository
	tickets  *ticket.Service
	recorder *audit.Recorder

	// locks serializes generation per config so an overlapping scheduler
	// pass and a manual run cannot double-generate.
	locks sync.Map
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Policy   *authz.Policy
	Repo     Repository
	Users    user.Repository
	Tickets  *ticket.Service
	Recorder *audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		policy:   p.Policy,
		repo:     p.Repo,
		users:    p.Users,
		tickets:  p.Tickets,
		recorder: p.Recorder,
	}
}

func (s *Service) lock(configID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(configID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

type CreateConfigInput struct {
	Title       string
	Description string
	Priority    ticket.Priority
	AssigneeID  *string
	Branch      string
	CronExpr    string
	Context     TemplateContext
}

// CreateConfig registers a recurring template. The first generation time is
// computed immediately so the scheduler never has to parse the expression
// just to decide whether a config is due.
func (s *Service) CreateConfig(ctx context.Context, in CreateConfigInput, actor user.User) (*Config, error) {
	if !s.policy.CanAdminister(actor.Role.String()) {
		return nil, errutil.Forbidden("only Admin and TeamLead can manage recurring configs")
	}

	if in.Title == "" {
		return nil, errutil.ValidationFailed("title is required")
	}
	if !in.Priority.Valid() {
		return nil, errutil.ValidationFailed("unknown priority " + string(in.Priority))
	}
	if _, err := ParseSchedule(in.CronExpr); err != nil {
		return nil, err
	}

	if in.AssigneeID != nil {
		assignee, err := s.users.GetByID(ctx, *in.AssigneeID)
		if err != nil {
			return nil, errutil.Internal("failed to create recurring config", errutil.WithErr(err))
		}
		if assignee == nil {
			return nil, errutil.NotFound("assignee not found")
		}
	}

	now := time.Now().UTC()
	next, err := NextRun(in.CronExpr, now)
	if err != nil {
		return nil, err
	}

	c := &Config{
		ID:               s.node.Generate().String(),
		Title:            in.Title,
		Description:      in.Description,
		Priority:         in.Priority,
		AssigneeID:       in.AssigneeID,
		Branch:           in.Branch,
		CronExpr:         in.CronExpr,
		Context:          in.Context,
		CreatedBy:        actor.ID,
		IsActive:         true,
		NextGenerationAt: &next,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errutil.Internal("failed to create recurring config", errutil.WithErr(err))
	}

	zap.L().Info("recurring config created",
		zap.String("config_id", c.ID),
		zap.String("cron", c.CronExpr),
		zap.Time("next_generation_at", next),
	)
	return c, nil
}

func (s *Service) GetConfig(ctx context.Context, id string) (*Config, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errutil.Internal("failed to load recurring config", errutil.WithErr(err))
	}
	if c == nil {
		return nil, errutil.NotFound("recurring config not found")
	}
	return c, nil
}

func (s *Service) ListConfigs(ctx context.Context, activeOnly bool) ([]*Config, error) {
	configs, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, errutil.Internal("failed to list recurring configs", errutil.WithErr(err))
	}
	return configs, nil
}

type UpdateConfigInput struct {
	Description *string
	Priority    *ticket.Priority
	AssigneeID  *string
	Branch      *string
	CronExpr    *string
	IsActive    *bool
	Context     *TemplateContext
}

// UpdateConfig edits a template. Changing the schedule or reactivating a
// paused config recomputes the next generation time from now, never from
// the missed past.
func (s *Service) UpdateConfig(ctx context.Context, id string, in UpdateConfigInput, actor user.User) (*Config, error) {
	if !s.policy.CanAdminister(actor.Role.String()) {
		return nil, errutil.Forbidden("only Admin and TeamLead can manage recurring configs")
	}

	c, err := s.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fields := map[string]any{"updated_at": now}

	if in.Description != nil {
		fields["description"] = *in.Description
	}
	if in.Priority != nil {
		if !in.Priority.Valid() {
			return nil, errutil.ValidationFailed("unknown priority " + string(*in.Priority))
		}
		fields["priority"] = *in.Priority
	}
	if in.AssigneeID != nil {
		assignee, err := s.users.GetByID(ctx, *in.AssigneeID)
		if err != nil {
			return nil, errutil.Internal("failed to update recurring config", errutil.WithErr(err))
		}
		if assignee == nil {
			return nil, errutil.NotFound("assignee not found")
		}
		fields["assignee_id"] = *in.AssigneeID
	}
	if in.Branch != nil {
		fields["branch"] = *in.Branch
	}
	if in.Context != nil {
		tc := *in.Context
		fields["ctx_server_name"] = tc.ServerName
		fields["ctx_application"] = tc.Application
		fields["ctx_ip_address"] = tc.IPAddress
		fields["ctx_environment"] = tc.Environment
		fields["ctx_workstation_id"] = tc.WorkstationID
		fields["ctx_ad_user"] = tc.ADUser
		fields["ctx_manufacturer"] = tc.Manufacturer
		fields["ctx_version"] = tc.Version
	}

	cronExpr := c.CronExpr
	if in.CronExpr != nil {
		if _, err := ParseSchedule(*in.CronExpr); err != nil {
			return nil, err
		}
		cronExpr = *in.CronExpr
		fields["cron_expr"] = cronExpr
	}

	reactivated := in.IsActive != nil && *in.IsActive && !c.IsActive
	if in.IsActive != nil {
		fields["is_active"] = *in.IsActive
	}
	if in.CronExpr != nil || reactivated {
		next, err := NextRun(cronExpr, now)
		if err != nil {
			return nil, err
		}
		fields["next_generation_at"] = next
	}

	if err := s.repo.Update(ctx, id, fields); err != nil {
		return nil, errutil.Internal("failed to update recurring config", errutil.WithErr(err))
	}
	return s.GetConfig(ctx, id)
}

// DeleteConfig removes a template. Tasks it generated keep their config
// reference and are not touched; the removal itself is recorded in the
// system log.
func (s *Service) DeleteConfig(ctx context.Context, id string, actor user.User) error {
	if !s.policy.CanAdminister(actor.Role.String()) {
		return errutil.Forbidden("only Admin and TeamLead can manage recurring configs")
	}

	c, err := s.GetConfig(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.recorder.System(ctx, tx, nil, actor.ID, audit.EventConfigDeleted, map[string]any{
			"config_id": c.ID,
			"title":     c.Title,
			"cron_expr": c.CronExpr,
		}); err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Config{}).Error
	}); err != nil {
		return errutil.Internal("failed to delete recurring config", errutil.WithErr(err))
	}

	zap.L().Info("recurring config deleted",
		zap.String("config_id", id),
		zap.String("actor_id", actor.ID),
	)
	return nil
}

// Failure records one config the evaluator skipped without advancing its
// schedule.
type Failure struct {
	ConfigID string `json:"config_id"`
	Error    string `json:"error"`
}

// Result summarizes one evaluation pass. A config appears in
// UpdatedConfigIDs exactly when its schedule advanced, which happens only
// after its task was generated.
type Result struct {
	Evaluated        int       `json:"evaluated"`
	GeneratedTaskIDs []string  `json:"generated_task_ids"`
	UpdatedConfigIDs []string  `json:"updated_config_ids"`
	Failures         []Failure `json:"failures"`
}

// Evaluate generates a task for every due config. Configs fail
// independently: a failed generation is reported and its schedule is left
// where it was, so the next pass retries it.
func (s *Service) Evaluate(ctx context.Context, now time.Time) (*Result, error) {
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return nil, errutil.Internal("failed to list due configs", errutil.WithErr(err))
	}

	res := &Result{
		Evaluated:        len(due),
		GeneratedTaskIDs: []string{},
		UpdatedConfigIDs: []string{},
		Failures:         []Failure{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(evaluateConcurrency)
	for _, c := range due {
		g.Go(func() error {
			taskID, err := s.generateOne(gctx, c, now, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failures = append(res.Failures, Failure{ConfigID: c.ID, Error: err.Error()})
			case taskID != "":
				res.GeneratedTaskIDs = append(res.GeneratedTaskIDs, taskID)
				res.UpdatedConfigIDs = append(res.UpdatedConfigIDs, c.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(res.GeneratedTaskIDs) > 0 || len(res.Failures) > 0 {
		zap.L().Info("recurring evaluation finished",
			zap.Int("evaluated", res.Evaluated),
			zap.Int("generated", len(res.GeneratedTaskIDs)),
			zap.Int("failures", len(res.Failures)),
		)
	}
	return res, nil
}

// RunNow forces a single generation for one config regardless of its
// schedule, then advances the schedule from now.
func (s *Service) RunNow(ctx context.Context, id string, actor user.User) (*ticket.Task, error) {
	if !s.policy.CanAdminister(actor.Role.String()) {
		return nil, errutil.Forbidden("only Admin and TeamLead can manage recurring configs")
	}

	c, err := s.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	taskID, err := s.generateOne(ctx, c, time.Now().UTC(), true)
	if err != nil {
		return nil, err
	}
	return s.tickets.GetTask(ctx, taskID)
}

// generateOne holds the per-config lock, re-checks dueness against fresh
// state, creates the task, then advances the schedule. Any error before the
// advance leaves the schedule untouched.
func (s *Service) generateOne(ctx context.Context, stale *Config, now time.Time, force bool) (string, error) {
	mu := s.lock(stale.ID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.repo.GetByID(ctx, stale.ID)
	if err != nil {
		return "", err
	}
	if c == nil || !c.IsActive {
		return "", nil
	}

	sched, err := ParseSchedule(c.CronExpr)
	if err != nil {
		return "", err
	}
	if !force && !s.due(c, sched, now) {
		return "", nil
	}

	t, err := s.tickets.CreateTask(ctx, ticket.CreateInput{
		Title:             c.Title,
		Description:       c.Description,
		Priority:          c.Priority,
		AssigneeID:        c.AssigneeID,
		Branch:            c.Branch,
		Context:           c.contextInput(),
		RecurringConfigID: &c.ID,
	}, c.CreatedBy)
	if err != nil {
		return "", err
	}

	if err := s.recorder.System(ctx, s.db, &t.ID, c.CreatedBy, audit.EventTaskGenerated, map[string]any{
		"config_id": c.ID,
		"task_id":   t.ID,
	}); err != nil {
		zap.L().Error("failed to record generation",
			zap.String("config_id", c.ID),
			zap.Error(err),
		)
	}

	next := sched.Next(now)
	if err := s.repo.Update(ctx, c.ID, map[string]any{
		"last_generated_at":  now,
		"next_generation_at": next,
		"updated_at":         now,
	}); err != nil {
		return "", err
	}

	zap.L().Info("recurring task generated",
		zap.String("config_id", c.ID),
		zap.String("task_id", t.ID),
		zap.Time("next_generation_at", next),
	)
	return t.ID, nil
}

func (s *Service) due(c *Config, sched cron.Schedule, now time.Time) bool {
	if c.NextGenerationAt != nil {
		return !c.NextGenerationAt.After(now)
	}
	return matchesMinute(sched, now)
}
