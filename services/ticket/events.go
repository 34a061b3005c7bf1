package ticket

import (
	"opsdesk/services/notification"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// recipients is the default notification audience of a task: creator,
// assignee and every subscriber.
func recipients(t *Task) []string {
	out := []string{t.CreatorID}
	if t.AssigneeID != nil {
		out = append(out, *t.AssigneeID)
	}
	for _, sub := range t.Subscribers {
		out = append(out, sub.UserID)
	}
	return out
}

// emit enqueues a notification task. Dispatch is fire-and-forget: a failure
// here is logged and never rolls back the mutation that triggered it.
func (s *Service) emit(t *asynq.Task) {
	if s.enqueue == nil {
		return
	}
	if _, err := s.enqueue.Enqueue(t, asynq.Queue("default")); err != nil {
		zap.L().Error("failed to enqueue notification",
			zap.String("task_type", t.Type()),
			zap.Error(err),
		)
	}
}

func (s *Service) emitStatusChanged(t *Task, oldStatus Status, note, actorID string) {
	s.emit(notification.NewStatusChangedTask(notification.StatusChangedPayload{
		TaskID:       t.ID,
		TaskTitle:    t.Title,
		OldStatus:    oldStatus.String(),
		NewStatus:    t.Status.String(),
		Note:         note,
		ActorID:      actorID,
		RecipientIDs: recipients(t),
	}))
}

func (s *Service) emitAssigned(t *Task, assigneeID, actorID string) {
	s.emit(notification.NewAssignedTask(notification.AssignedPayload{
		TaskID:       t.ID,
		TaskTitle:    t.Title,
		AssigneeID:   assigneeID,
		ActorID:      actorID,
		RecipientIDs: []string{assigneeID},
	}))
}

func (s *Service) emitCommentAdded(t *Task, c *Comment) {
	s.emit(notification.NewCommentAddedTask(notification.CommentAddedPayload{
		TaskID:       t.ID,
		TaskTitle:    t.Title,
		CommentID:    c.ID,
		AuthorID:     c.AuthorID,
		Content:      c.Content,
		RecipientIDs: recipients(t),
	}))
}

func (s *Service) emitMentioned(t *Task, c *Comment, mentionedIDs []string) {
	if len(mentionedIDs) == 0 {
		return
	}
	s.emit(notification.NewMentionedTask(notification.MentionedPayload{
		TaskID:       t.ID,
		TaskTitle:    t.Title,
		CommentID:    c.ID,
		AuthorID:     c.AuthorID,
		RecipientIDs: mentionedIDs,
	}))
}
