package audit

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Module = fx.Module("audit", fx.Provide(NewRecorder))

// Recorder writes audit and system log rows. Methods take the *gorm.DB they
// should write through so callers can place entries inside their own
// transaction.
type Recorder struct {
	node *snowflake.Node
}

func NewRecorder(node *snowflake.Node) *Recorder {
	return &Recorder{node: node}
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Audit appends a task mutation record.
func (r *Recorder) Audit(ctx context.Context, tx *gorm.DB, taskID, actorID, action string, oldValue, newValue any) error {
	entry := &AuditLog{
		ID:       r.node.Generate().String(),
		TaskID:   taskID,
		ActorID:  actorID,
		Action:   action,
		OldValue: toJSON(oldValue),
		NewValue: toJSON(newValue),
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// System appends an administrative record that survives task deletion.
func (r *Recorder) System(ctx context.Context, tx *gorm.DB, taskID *string, actorID, event string, payload any) error {
	entry := &SystemLog{
		ID:      r.node.Generate().String(),
		TaskID:  taskID,
		ActorID: actorID,
		Event:   event,
		Payload: toJSON(payload),
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// ListForTask returns the audit trail of one task, newest first.
func (r *Recorder) ListForTask(ctx context.Context, db *gorm.DB, taskID string) ([]*AuditLog, error) {
	var entries []*AuditLog
	err := db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
