package ticket

import (
	"context"
	"fmt"
	"io"
	"path"

	"opsdesk/pkg/errutil"
	"opsdesk/pkg/objstore"
	"opsdesk/services/audit"
	"opsdesk/services/user"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMaxAttachmentSize = 10 << 20 // 10 MiB

var defaultAllowedMIME = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"application/pdf",
	"text/plain",
	"application/zip",
}

func (s *Service) allowedMIME() []string {
	if len(s.cfg.Attachment.AllowedMIME) > 0 {
		return s.cfg.Attachment.AllowedMIME
	}
	return defaultAllowedMIME
}

func (s *Service) maxAttachmentSize() int64 {
	if s.cfg.Attachment.MaxSizeBytes > 0 {
		return s.cfg.Attachment.MaxSizeBytes
	}
	return defaultMaxAttachmentSize
}

func (s *Service) validateAttachment(contentType string, size int64) error {
	if size > s.maxAttachmentSize() {
		return errutil.ValidationFailed(fmt.Sprintf("attachment exceeds maximum size of %d bytes", s.maxAttachmentSize()))
	}
	for _, m := range s.allowedMIME() {
		if m == contentType {
			return nil
		}
	}
	return errutil.ValidationFailed("attachment type " + contentType + " is not allowed")
}

// AddAttachment validates and stores an uploaded file, then records it
// against the task.
func (s *Service) AddAttachment(ctx context.Context, store objstore.Store, taskID, filename, contentType string, size int64, r io.Reader, actor user.User) (*Attachment, error) {
	zapLog := s.zapLog(ctx)

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !s.policy.CanManage(actor.Role.String(), actor.ID, t.CreatorID, t.AssigneeID) {
		return nil, errutil.Forbidden("only Admin, TeamLead, the assignee or the creator can update this task")
	}
	if err := s.validateAttachment(contentType, size); err != nil {
		return nil, err
	}

	id := s.node.Generate().String()
	objectName := path.Join(t.ID, id+"_"+filename)

	storedPath, err := store.Put(ctx, objectName, r, size, contentType)
	if err != nil {
		zapLog.Error("failed to store attachment", zap.String("task_id", t.ID), zap.Error(err))
		return nil, errutil.Internal("failed to store attachment", errutil.WithErr(err))
	}

	a := &Attachment{
		ID:         id,
		TaskID:     t.ID,
		FilePath:   storedPath,
		MIMEType:   contentType,
		SizeBytes:  size,
		UploaderID: actor.ID,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		return s.recorder.Audit(ctx, tx, t.ID, actor.ID, audit.ActionAttachmentAdded,
			nil, map[string]any{"attachment_id": a.ID, "file_path": a.FilePath})
	}); err != nil {
		if rmErr := store.Remove(ctx, storedPath); rmErr != nil {
			zapLog.Warn("failed to remove orphaned attachment object", zap.String("path", storedPath), zap.Error(rmErr))
		}
		return nil, errutil.Internal("failed to record attachment", errutil.WithErr(err))
	}

	return a, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, store objstore.Store, taskID, attachmentID string, actor user.User) error {
	zapLog := s.zapLog(ctx)

	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if !s.policy.CanManage(actor.Role.String(), actor.ID, t.CreatorID, t.AssigneeID) {
		return errutil.Forbidden("only Admin, TeamLead, the assignee or the creator can update this task")
	}

	a, err := s.repo.GetAttachment(ctx, attachmentID)
	if err != nil {
		return errutil.Internal("failed to delete attachment", errutil.WithErr(err))
	}
	if a == nil || a.TaskID != t.ID {
		return errutil.NotFound("attachment not found")
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", a.ID).Delete(&Attachment{}).Error; err != nil {
			return err
		}
		return s.recorder.Audit(ctx, tx, t.ID, actor.ID, audit.ActionAttachmentRemoved,
			map[string]any{"attachment_id": a.ID, "file_path": a.FilePath}, nil)
	}); err != nil {
		return errutil.Internal("failed to delete attachment", errutil.WithErr(err))
	}

	// Object removal is a side effect of the committed delete; failure is
	// logged, not surfaced.
	if err := store.Remove(ctx, a.FilePath); err != nil {
		zapLog.Warn("failed to remove attachment object", zap.String("path", a.FilePath), zap.Error(err))
	}

	return nil
}

func (s *Service) ListAttachments(ctx context.Context, taskID string) ([]*Attachment, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	attachments, err := s.repo.ListAttachments(ctx, taskID)
	if err != nil {
		return nil, errutil.Internal("failed to list attachments", errutil.WithErr(err))
	}
	return attachments, nil
}
