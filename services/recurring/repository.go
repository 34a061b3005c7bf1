package recurring

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Repository describes database operations on recurring configs.
type Repository interface {
	Create(ctx context.Context, c *Config) error
	GetByID(ctx context.Context, id string) (*Config, error)
	List(ctx context.Context, activeOnly bool) ([]*Config, error)
	// ListDue returns active configs whose next generation time has passed,
	// plus active configs that were never evaluated. The caller decides
	// whether the latter actually fire.
	ListDue(ctx context.Context, now time.Time) ([]*Config, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, c *Config) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*Config, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var c Config
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) List(ctx context.Context, activeOnly bool) ([]*Config, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&Config{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var configs []*Config
	if err := query.Order("created_at, id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *gormRepository) ListDue(ctx context.Context, now time.Time) ([]*Config, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var configs []*Config
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("next_generation_at <= ? OR next_generation_at IS NULL", now).
		Order("created_at, id").
		Find(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *gormRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Model(&Config{}).Where("id = ?", id).Updates(fields).Error
}

func (r *gormRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&Config{}).Error
}
