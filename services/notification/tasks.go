package notification

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskNotifyStatusChanged = "opsdesk:notify:status_changed"
	TaskNotifyAssigned      = "opsdesk:notify:assigned"
	TaskNotifyCommentAdded  = "opsdesk:notify:comment_added"
	TaskNotifyMentioned     = "opsdesk:notify:mentioned"
)

// Payloads are self-contained: the emitter resolves recipient ids so the
// worker never has to read the task row, which may already be gone.

type StatusChangedPayload struct {
	TaskID       string   `json:"task_id"`
	TaskTitle    string   `json:"task_title"`
	OldStatus    string   `json:"old_status"`
	NewStatus    string   `json:"new_status"`
	Note         string   `json:"note,omitempty"`
	ActorID      string   `json:"actor_id"`
	RecipientIDs []string `json:"recipient_ids"`
}

type AssignedPayload struct {
	TaskID       string   `json:"task_id"`
	TaskTitle    string   `json:"task_title"`
	AssigneeID   string   `json:"assignee_id"`
	ActorID      string   `json:"actor_id"`
	RecipientIDs []string `json:"recipient_ids"`
}

type CommentAddedPayload struct {
	TaskID       string   `json:"task_id"`
	TaskTitle    string   `json:"task_title"`
	CommentID    string   `json:"comment_id"`
	AuthorID     string   `json:"author_id"`
	Content      string   `json:"content"`
	RecipientIDs []string `json:"recipient_ids"`
}

type MentionedPayload struct {
	TaskID       string   `json:"task_id"`
	TaskTitle    string   `json:"task_title"`
	CommentID    string   `json:"comment_id"`
	AuthorID     string   `json:"author_id"`
	RecipientIDs []string `json:"recipient_ids"`
}

func NewStatusChangedTask(p StatusChangedPayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(TaskNotifyStatusChanged, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second))
}

func NewAssignedTask(p AssignedPayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(TaskNotifyAssigned, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second))
}

func NewCommentAddedTask(p CommentAddedPayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(TaskNotifyCommentAdded, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second))
}

func NewMentionedTask(p MentionedPayload) *asynq.Task {
	payload, _ := json.Marshal(p)
	return asynq.NewTask(TaskNotifyMentioned, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second))
}
