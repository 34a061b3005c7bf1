package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"opsdesk/services/user"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification.worker",
	fx.Provide(NewMailer, NewWorker),
	fx.Invoke(RegisterHandlers),
)

// Worker consumes notification tasks and delivers mail.
type Worker struct {
	users  user.Repository
	mailer Mailer
}

type WorkerParams struct {
	fx.In
	Users  user.Repository
	Mailer Mailer
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{users: p.Users, mailer: p.Mailer}
}

func RegisterHandlers(mux *asynq.ServeMux, w *Worker) {
	mux.HandleFunc(TaskNotifyStatusChanged, w.HandleStatusChanged)
	mux.HandleFunc(TaskNotifyAssigned, w.HandleAssigned)
	mux.HandleFunc(TaskNotifyCommentAdded, w.HandleCommentAdded)
	mux.HandleFunc(TaskNotifyMentioned, w.HandleMentioned)
}

// resolveAddresses maps recipient ids to email addresses, excluding the actor
// who triggered the event.
func (w *Worker) resolveAddresses(ctx context.Context, recipientIDs []string, actorID string) ([]string, error) {
	ids := make([]string, 0, len(recipientIDs))
	seen := map[string]struct{}{}
	for _, id := range recipientIDs {
		if id == actorID || id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	users, err := w.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(users))
	for _, u := range users {
		if u.IsActive && u.Email != "" {
			addrs = append(addrs, u.Email)
		}
	}
	return addrs, nil
}

func (w *Worker) HandleStatusChanged(ctx context.Context, t *asynq.Task) error {
	var p StatusChangedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid status_changed payload", zap.Error(err))
		return err
	}

	to, err := w.resolveAddresses(ctx, p.RecipientIDs, p.ActorID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[opsdesk] %s moved to %s", p.TaskTitle, p.NewStatus)
	body := fmt.Sprintf("Task %q changed status from %s to %s.", p.TaskTitle, p.OldStatus, p.NewStatus)
	if p.Note != "" {
		body += "\n\nNote: " + p.Note
	}

	return w.mailer.Send(to, subject, body)
}

func (w *Worker) HandleAssigned(ctx context.Context, t *asynq.Task) error {
	var p AssignedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid assigned payload", zap.Error(err))
		return err
	}

	to, err := w.resolveAddresses(ctx, p.RecipientIDs, p.ActorID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[opsdesk] %s assigned to you", p.TaskTitle)
	body := fmt.Sprintf("Task %q has been assigned to you.", p.TaskTitle)
	return w.mailer.Send(to, subject, body)
}

func (w *Worker) HandleCommentAdded(ctx context.Context, t *asynq.Task) error {
	var p CommentAddedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid comment_added payload", zap.Error(err))
		return err
	}

	to, err := w.resolveAddresses(ctx, p.RecipientIDs, p.AuthorID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[opsdesk] new comment on %s", p.TaskTitle)
	body := fmt.Sprintf("New comment on task %q:\n\n%s", p.TaskTitle, p.Content)
	return w.mailer.Send(to, subject, body)
}

func (w *Worker) HandleMentioned(ctx context.Context, t *asynq.Task) error {
	var p MentionedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid mentioned payload", zap.Error(err))
		return err
	}

	to, err := w.resolveAddresses(ctx, p.RecipientIDs, p.AuthorID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[opsdesk] you were mentioned on %s", p.TaskTitle)
	body := fmt.Sprintf("You were mentioned in a comment on task %q.", p.TaskTitle)
	return w.mailer.Send(to, subject, body)
}
