package audit

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions recorded against tasks.
const (
	ActionCreated           = "task.created"
	ActionStatusChanged     = "task.status_changed"
	ActionReassigned        = "task.reassigned"
	ActionEdited            = "task.edited"
	ActionCommentAdded      = "task.comment_added"
	ActionSubscriberAdded   = "task.subscriber_added"
	ActionSubscriberRemoved = "task.subscriber_removed"
	ActionAttachmentAdded   = "task.attachment_added"
	ActionAttachmentRemoved = "task.attachment_removed"
)

// System events that must survive task deletion.
const (
	EventTaskDeleted     = "task.deleted"
	EventTaskGenerated   = "task.generated"
	EventConfigDeleted   = "recurring_config.deleted"
	EventUserDeactivated = "user.deactivated"
)

// AuditLog is a per-task mutation record. Rows are removed together with
// their task; the required task reference makes the cascade mandatory.
type AuditLog struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id"`
	TaskID    string         `gorm:"column:task_id;index;not null" json:"task_id"`
	ActorID   string         `gorm:"column:actor_id;index;not null" json:"actor_id"`
	Action    string         `gorm:"column:action;type:varchar(50);not null" json:"action"`
	OldValue  datatypes.JSON `gorm:"column:old_value" json:"old_value,omitempty"`
	NewValue  datatypes.JSON `gorm:"column:new_value" json:"new_value,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}

// SystemLog is an append-only administrative record. The task reference is
// nullable so entries outlive the task they describe.
type SystemLog struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id"`
	TaskID    *string        `gorm:"column:task_id;index" json:"task_id,omitempty"`
	ActorID   string         `gorm:"column:actor_id;index;not null" json:"actor_id"`
	Event     string         `gorm:"column:event;type:varchar(50);not null" json:"event"`
	Payload   datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}
