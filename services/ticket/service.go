package ticket

import (
	"context"
	"time"

	"opsdesk/pkg/config"
	"opsdesk/pkg/errutil"
	"opsdesk/pkg/objstore"
	"opsdesk/pkg/task"
	"opsdesk/services/audit"
	"opsdesk/services/authz"
	"opsdesk/services/user"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      *config.Config
	policy   *authz.Policy
	repo     Repository
	users    user.Repository
	enqueue  task.Enqueuer
	recorder *audit.Recorder
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Policy   *authz.Policy
	Repo     Repository
	Users    user.Repository
	Enqueuer task.Enqueuer `optional:"true"`
	Recorder *audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      p.Config,
		policy:   p.Policy,
		repo:     p.Repo,
		users:    p.Users,
		enqueue:  p.Enqueuer,
		recorder: p.Recorder,
	}
}

func (s *Service) zapLog(ctx context.Context) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	return zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)
}

type ContextInput struct {
	ServerName    string
	Application   string
	IPAddress     string
	Environment   string
	WorkstationID string
	ADUser        string
	Manufacturer  string
	Version       string
}

type CreateInput struct {
	Title             string
	Description       string
	Priority          Priority
	AssigneeID        *string
	SubscriberIDs     []string
	Branch            string
	DueDate           *time.Time
	SLADeadline       *time.Time
	Context           *ContextInput
	RecurringConfigID *string
}

// CreateTask is the single creation path, used by interactive callers and by
// the recurring generator alike. When no explicit SLA deadline is given it is
// derived from the priority's configured hour offset.
func (s *Service) CreateTask(ctx context.Context, in CreateInput, actorID string) (*Task, error) {
	zapLog := s.zapLog(ctx)

	if in.Title == "" {
		return nil, errutil.ValidationFailed("title is required")
	}
	if !in.Priority.Valid() {
		return nil, errutil.ValidationFailed("unknown priority " + string(in.Priority))
	}

	if in.AssigneeID != nil {
		assignee, err := s.users.GetByID(ctx, *in.AssigneeID)
		if err != nil {
			zapLog.Error("failed to resolve assignee", zap.Error(err))
			return nil, errutil.Internal("failed to create task", errutil.WithErr(err))
		}
		if assignee == nil {
			return nil, errutil.NotFound("assignee not found")
		}
	}

	now := time.Now().UTC()
	deadline := in.SLADeadline
	if deadline == nil {
		d := DeadlineFor(now, in.Priority, s.cfg.SLAHours())
		deadline = &d
	} else if in.DueDate != nil && deadline.Before(*in.DueDate) {
		return nil, errutil.ValidationFailed("SLA deadline before due date")
	}

	t := &Task{
		ID:                s.node.Generate().String(),
		Title:             in.Title,
		Description:       in.Description,
		Status:            StatusOpen,
		Priority:          in.Priority,
		CreatorID:         actorID,
		AssigneeID:        in.AssigneeID,
		Branch:            in.Branch,
		DueDate:           in.DueDate,
		SLADeadline:       deadline,
		RecurringConfigID: in.RecurringConfigID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}

		if in.Context != nil {
			if err := tx.Create(s.newContextRow(t.ID, in.Context)).Error; err != nil {
				return err
			}
		}

		for _, uid := range in.SubscriberIDs {
			sub := &Subscriber{TaskID: t.ID, UserID: uid}
			if err := tx.Create(sub).Error; err != nil {
				return err
			}
			t.Subscribers = append(t.Subscribers, *sub)
		}

		return s.recorder.Audit(ctx, tx, t.ID, actorID, audit.ActionCreated, nil, map[string]any{
			"title":        t.Title,
			"status":       t.Status,
			"priority":     t.Priority,
			"sla_deadline": t.SLADeadline,
		})
	}); err != nil {
		zapLog.Error("failed to create task", zap.Error(err))
		return nil, errutil.Internal("failed to create task", errutil.WithErr(err))
	}

	zapLog.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("priority", string(t.Priority)),
		zap.Timep("sla_deadline", t.SLADeadline),
	)

	if t.AssigneeID != nil {
		s.emitAssigned(t, *t.AssigneeID, actorID)
	}

	return s.GetTask(ctx, t.ID)
}

func (s *Service) newContextRow(taskID string, in *ContextInput) *TaskContext {
	return &TaskContext{
		ID:            s.node.Generate().String(),
		TaskID:        taskID,
		ServerName:    in.ServerName,
		Application:   in.Application,
		IPAddress:     in.IPAddress,
		Environment:   in.Environment,
		WorkstationID: in.WorkstationID,
		ADUser:        in.ADUser,
		Manufacturer:  in.Manufacturer,
		Version:       in.Version,
	}
}

func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errutil.Internal("failed to get task", errutil.WithErr(err))
	}
	if t == nil {
		return nil, errutil.NotFound("task not found")
	}
	return t, nil
}

func (s *Service) ListTasks(ctx context.Context, params ListParams) ([]*Task, error) {
	tasks, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, errutil.Internal("failed to list tasks", errutil.WithErr(err))
	}
	return tasks, nil
}

// ChangeStatus moves a task to any of the six statuses; there is no
// transition graph, any permitted actor may set any status. An optional
// progress note is persisted as a comment in the same transaction.
func (s *Service) ChangeStatus(ctx context.Context, taskID string, newStatus Status, note string, actor user.User) (*Task, error) {
	zapLog := s.zapLog(ctx)

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !s.policy.CanManage(actor.Role.String(), actor.ID, t.CreatorID, t.AssigneeID) {
		return nil, errutil.Forbidden("only Admin, TeamLead, the assignee or the creator can update this task")
	}
	if !newStatus.Valid() {
		return nil, errutil.ValidationFailed("unknown status " + string(newStatus))
	}

	oldStatus := t.Status

	var comment *Comment
	var mentionedIDs []string
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Task{}).Where("id = ?", t.ID).Updates(map[string]any{
			"status":     newStatus,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
			return err
		}

		if note != "" {
			comment, mentionedIDs, err = s.addCommentTx(ctx, tx, t, actor.ID, note)
			if err != nil {
				return err
			}
		}

		return s.recorder.Audit(ctx, tx, t.ID, actor.ID, audit.ActionStatusChanged,
			map[string]any{"status": oldStatus},
			map[string]any{"status": newStatus},
		)
	}); err != nil {
		zapLog.Error("failed to change status", zap.String("task_id", t.ID), zap.Error(err))
		return nil, errutil.Internal("failed to change status", errutil.WithErr(err))
	}

	t.Status = newStatus

	s.emitStatusChanged(t, oldStatus, note, actor.ID)
	if comment != nil {
		s.emitMentioned(t, comment, mentionedIDs)
	}

	return s.GetTask(ctx, t.ID)
}

// Reassign replaces the single assignee; the subscriber set is untouched.
func (s *Service) Reassign(ctx context.Context, taskID, newAssigneeID string, actor user.User) (*Task, error) {
	zapLog := s.zapLog(ctx)

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !s.policy.CanAssign(actor.Role.String()) {
		return nil, errutil.Forbidden("only Admin and TeamLead can assign tasks")
	}

	assignee, err := s.users.GetByID(ctx, newAssigneeID)
	if err != nil {
		zapLog.Error("failed to resolve assignee", zap.Error(err))
		return nil, errutil.Internal("failed to reassign task", errutil.WithErr(err))
	}
	if assignee == nil {
		return nil, errutil.NotFound("assignee not found")
	}

	oldAssignee := t.AssigneeID

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Task{}).Where("id = ?", t.ID).Updates(map[string]any{
			"assignee_id": newAssigneeID,
			"updated_at":  time.Now().UTC(),
		}).Error; err != nil {
			return err
		}

		return s.recorder.Audit(ctx, tx, t.ID, actor.ID, audit.ActionReassigned,
			map[string]any{"assignee_id": oldAssignee},
			map[string]any{"assignee_id": newAssigneeID},
		)
	}); err != nil {
		zapLog.Error("failed to reassign task", zap.String("task_id", t.ID), zap.Error(err))
		return nil, errutil.Internal("failed to reassign task", errutil.WithErr(err))
	}

	s.emitAssigned(t, newAssigneeID, actor.ID)

	return s.GetTask(ctx, t.ID)
}

// AddSubscriber adds a technician to the task's unordered subscriber set.
func (s *Service) AddSubscriber(ctx context.Context, taskID, userID string, actor user.User) error {
	if !s.policy.CanAssign(actor.Role.String()) {
		return errutil.Forbidden("only Admin and TeamLead can manage subscribers")
	}

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return errutil.Internal("failed to add subscriber", errutil.WithErr(err))
	}
	if u == nil {
		return errutil.NotFound("user not found")
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(Subscriber{TaskID: t.ID, UserID: userID}).
			FirstOrCreate(&Subscriber{TaskID: t.ID, UserID: userID}).Error; err != nil {
			return err
		}

		return s.recorder.Audit(ctx, tx, t.ID, actor.ID, audit.ActionSubscriberAdded,
			nil, map[string]any{"user_id": userID})
	}); err != nil {
		return errutil.Internal("failed to add subscriber", errutil.WithErr(err))
	}
	return nil
}

func (s *Service) RemoveSubscriber(ctx context.Context, taskID, userID string, actor user.User) error {
	if !s.policy.CanAssign(actor.Role.String()) {
		return errutil.Forbidden("only Admin and TeamLead can manage subscribers")
	}

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ? AND user_id = ?", t.ID, userID).
			Delete(&Subscriber{}).Error; err != nil {
			return err
		}

		return s.recorder.Audit(ctx, tx, t.ID, actor.ID, audit.ActionSubscriberRemoved,
			map[string]any{"user_id": userID}, nil)
	}); err != nil {
		return errutil.Internal("failed to remove subscriber", errutil.WithErr(err))
	}
	return nil
}

type EditInput struct {
	Title       *string
	Description *string
	Priority    *Priority
	DueDate     *time.Time
	Branch      *string
	Context     *ContextInput
}

// EditTask updates mutable fields. The title is immutable after creation and
// its presence in the field set is rejected outright. A context record is
// upserted: created if absent, otherwise all of its fields are overwritten.
func (s *Service) EditTask(ctx context.Context, taskID string, in EditInput, actor user.User) (*Task, error) {
	zapLog := s.zapLog(ctx)

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !s.policy.CanManage(actor.Role.String(), actor.ID, t.CreatorID, t.AssigneeID) {
		return nil, errutil.Forbidden("only Admin, TeamLead, the assignee or the creator can update this task")
	}
	if in.Title != nil {
		return nil, errutil.ValidationFailed("title is immutable and cannot be edited")
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return nil, errutil.ValidationFailed("unknown priority " + string(*in.Priority))
	}

	fields := map[string]any{"updated_at": time.Now().UTC()}
	oldValues := map[string]any{}
	newValues := map[string]any{}
	if in.Description != nil {
		oldValues["description"] = t.Description
		newValues["description"] = *in.Description
		fields["description"] = *in.Description
	}
	if in.Priority != nil {
		oldValues["priority"] = t.Priority
		newValues["priority"] = *in.Priority
		fields["priority"] = *in.Priority
	}
	if in.DueDate != nil {
		oldValues["due_date"] = t.DueDate
		newValues["due_date"] = *in.DueDate
		fields["due_date"] = *in.DueDate
	}
	if in.Branch != nil {
		oldValues["branch"] = t.Branch
		newValues["branch"] = *in.Branch
		fields["branch"] = *in.Branch
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Task{}).Where("id = ?", t.ID).Updates(fields).Error; err != nil {
			return err
		}

		if in.Context != nil {
			if err := s.upsertContextTx(tx, t.ID, in.Context); err != nil {
				return err
			}
			newValues["context"] = in.Context
		}

		return s.recorder.Audit(ctx, tx, t.ID, actor.ID, audit.ActionEdited, oldValues, newValues)
	}); err != nil {
		zapLog.Error("failed to edit task", zap.String("task_id", t.ID), zap.Error(err))
		return nil, errutil.Internal("failed to edit task", errutil.WithErr(err))
	}

	return s.GetTask(ctx, t.ID)
}

func (s *Service) upsertContextTx(tx *gorm.DB, taskID string, in *ContextInput) error {
	row := s.newContextRow(taskID, in)

	var existing TaskContext
	err := tx.Where("task_id = ?", taskID).First(&existing).Error
	if err == nil {
		row.ID = existing.ID
		return tx.Save(row).Error
	}
	if err == gorm.ErrRecordNotFound {
		return tx.Create(row).Error
	}
	return err
}

// deleteCascade declares the dependency order DeleteTask clears before the
// task row itself. Entries earlier in the list reference later ones.
var deleteCascade = []struct {
	Name  string
	Model func() any
}{
	{"context", func() any { return &TaskContext{} }},
	{"subscribers", func() any { return &Subscriber{} }},
	{"mentions", func() any { return &Mention{} }},
	{"comments", func() any { return &Comment{} }},
	{"attachments", func() any { return &Attachment{} }},
	{"audit_log", func() any { return &audit.AuditLog{} }},
}

// DeleteTask removes a task and everything belonging to it, in declared order,
// inside one transaction. A system-log snapshot of the full task state is
// written first: it is the only place task state survives deletion. When a
// store is present, stored attachment objects are removed after the commit.
func (s *Service) DeleteTask(ctx context.Context, store objstore.Store, taskID string, actor user.User) error {
	zapLog := s.zapLog(ctx)

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if !s.policy.CanDelete(actor.Role.String(), actor.ID, t.CreatorID) {
		return errutil.Forbidden("only Admin, TeamLead or the creator can delete tasks")
	}

	comments, err := s.repo.ListComments(ctx, t.ID)
	if err != nil {
		return errutil.Internal("failed to delete task", errutil.WithErr(err))
	}
	attachments, err := s.repo.ListAttachments(ctx, t.ID)
	if err != nil {
		return errutil.Internal("failed to delete task", errutil.WithErr(err))
	}

	snapshot := map[string]any{
		"task":        t,
		"comments":    comments,
		"attachments": attachments,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.recorder.System(ctx, tx, &t.ID, actor.ID, audit.EventTaskDeleted, snapshot); err != nil {
			return err
		}

		for _, dep := range deleteCascade {
			if err := tx.Where("task_id = ?", t.ID).Delete(dep.Model()).Error; err != nil {
				return err
			}
		}

		return tx.Where("id = ?", t.ID).Delete(&Task{}).Error
	}); err != nil {
		zapLog.Error("failed to delete task", zap.String("task_id", t.ID), zap.Error(err))
		return errutil.Internal("failed to delete task", errutil.WithErr(err))
	}

	// Object removal is a side effect of the committed delete; failure is
	// logged, not surfaced.
	if store != nil {
		for _, a := range attachments {
			if err := store.Remove(ctx, a.FilePath); err != nil {
				zapLog.Warn("failed to remove attachment object", zap.String("path", a.FilePath), zap.Error(err))
			}
		}
	}

	zapLog.Info("task deleted", zap.String("task_id", t.ID), zap.String("actor_id", actor.ID))
	return nil
}

// AddComment persists a comment, materializes @mentions it contains and
// notifies the task's audience.
func (s *Service) AddComment(ctx context.Context, taskID, content string, actor user.User) (*Comment, error) {
	zapLog := s.zapLog(ctx)

	if content == "" {
		return nil, errutil.ValidationFailed("comment content is required")
	}

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var comment *Comment
	var mentionedIDs []string
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comment, mentionedIDs, err = s.addCommentTx(ctx, tx, t, actor.ID, content)
		if err != nil {
			return err
		}

		return s.recorder.Audit(ctx, tx, t.ID, actor.ID, audit.ActionCommentAdded,
			nil, map[string]any{"comment_id": comment.ID})
	}); err != nil {
		zapLog.Error("failed to add comment", zap.String("task_id", t.ID), zap.Error(err))
		return nil, errutil.Internal("failed to add comment", errutil.WithErr(err))
	}

	s.emitCommentAdded(t, comment)
	s.emitMentioned(t, comment, mentionedIDs)

	return comment, nil
}

func (s *Service) addCommentTx(ctx context.Context, tx *gorm.DB, t *Task, authorID, content string) (*Comment, []string, error) {
	comment := &Comment{
		ID:       s.node.Generate().String(),
		TaskID:   t.ID,
		AuthorID: authorID,
		Content:  content,
	}
	if err := tx.Create(comment).Error; err != nil {
		return nil, nil, err
	}

	tokens := ParseMentions(content)
	mentioned, err := s.users.FindByUsernames(ctx, tokens)
	if err != nil {
		return nil, nil, err
	}

	mentionedIDs := make([]string, 0, len(mentioned))
	for _, u := range mentioned {
		mention := &Mention{
			ID:        s.node.Generate().String(),
			CommentID: comment.ID,
			TaskID:    t.ID,
			UserID:    u.ID,
		}
		if err := tx.Create(mention).Error; err != nil {
			return nil, nil, err
		}
		comment.Mentions = append(comment.Mentions, *mention)
		mentionedIDs = append(mentionedIDs, u.ID)
	}

	return comment, mentionedIDs, nil
}

func (s *Service) ListComments(ctx context.Context, taskID string) ([]*Comment, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	comments, err := s.repo.ListComments(ctx, taskID)
	if err != nil {
		return nil, errutil.Internal("failed to list comments", errutil.WithErr(err))
	}
	return comments, nil
}

// SLAReport classifies every non-terminal task against the given instant.
func (s *Service) SLAReport(ctx context.Context, now time.Time) (Report, error) {
	tasks, err := s.repo.ListNonTerminal(ctx)
	if err != nil {
		return Report{}, errutil.Internal("failed to build SLA report", errutil.WithErr(err))
	}
	return BuildReport(ClassifySLA(tasks, now), now), nil
}

func (s *Service) AuditTrail(ctx context.Context, taskID string) ([]*audit.AuditLog, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	entries, err := s.recorder.ListForTask(ctx, s.db, taskID)
	if err != nil {
		return nil, errutil.Internal("failed to load audit trail", errutil.WithErr(err))
	}
	return entries, nil
}
