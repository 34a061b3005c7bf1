package ticket

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ListParams describes filters applied when listing tasks.
type ListParams struct {
	Status         Status
	Priority       Priority
	AssigneeID     string
	CreatorID      string
	Branch         string
	AfterCreatedAt string
	AfterID        string
	Limit          int
}

// Repository describes database operations available for tasks.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, params ListParams) ([]*Task, error)
	ListNonTerminal(ctx context.Context) ([]*Task, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	GetComment(ctx context.Context, id string) (*Comment, error)
	ListComments(ctx context.Context, taskID string) ([]*Comment, error)
	GetAttachment(ctx context.Context, id string) (*Attachment, error)
	ListAttachments(ctx context.Context, taskID string) ([]*Attachment, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, t *Task) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*Task, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var t Task
	err := r.db.WithContext(ctx).
		Preload("Context").
		Preload("Subscribers").
		Where("id = ?", id).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) List(ctx context.Context, params ListParams) ([]*Task, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Task{}).Preload("Context").Preload("Subscribers")

	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Priority != "" {
		query = query.Where("priority = ?", params.Priority)
	}
	if params.AssigneeID != "" {
		query = query.Where("assignee_id = ?", params.AssigneeID)
	}
	if params.CreatorID != "" {
		query = query.Where("creator_id = ?", params.CreatorID)
	}
	if params.Branch != "" {
		query = query.Where("branch = ?", params.Branch)
	}
	if params.AfterCreatedAt != "" && params.AfterID != "" {
		query = query.Where("(created_at > ?) OR (created_at = ? AND id > ?)",
			params.AfterCreatedAt, params.AfterCreatedAt, params.AfterID)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var tasks []*Task
	if err := query.Order("created_at, id").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *gormRepository) ListNonTerminal(ctx context.Context) ([]*Task, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var tasks []*Task
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []Status{StatusResolved, StatusClosed}).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *gormRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Model(&Task{}).Where("id = ?", id).Updates(fields).Error
}

func (r *gormRepository) GetComment(ctx context.Context, id string) (*Comment, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var c Comment
	err := r.db.WithContext(ctx).Preload("Mentions").Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) ListComments(ctx context.Context, taskID string) ([]*Comment, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var comments []*Comment
	err := r.db.WithContext(ctx).
		Preload("Mentions").
		Where("task_id = ?", taskID).
		Order("created_at").
		Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func (r *gormRepository) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var a Attachment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *gormRepository) ListAttachments(ctx context.Context, taskID string) ([]*Attachment, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var attachments []*Attachment
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at").
		Find(&attachments).Error
	if err != nil {
		return nil, err
	}
	return attachments, nil
}
