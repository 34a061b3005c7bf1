package user

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository describes database operations available for users and teams.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	FindByUsernames(ctx context.Context, usernames []string) ([]*User, error)
	FindByIDs(ctx context.Context, ids []string) ([]*User, error)
	List(ctx context.Context) ([]*User, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error

	CreateTeam(ctx context.Context, t *Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	ListTeams(ctx context.Context) ([]*Team, error)
	DeleteTeam(ctx context.Context, id string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, u *User) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*User, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var u User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var u User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) FindByUsernames(ctx context.Context, usernames []string) ([]*User, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if len(usernames) == 0 {
		return nil, nil
	}

	var users []*User
	if err := r.db.WithContext(ctx).Where("username IN ?", usernames).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *gormRepository) FindByIDs(ctx context.Context, ids []string) ([]*User, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var users []*User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *gormRepository) List(ctx context.Context) ([]*User, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var users []*User
	if err := r.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *gormRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(fields).Error
}

func (r *gormRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&User{}).Error
}

func (r *gormRepository) CreateTeam(ctx context.Context, t *Team) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *gormRepository) GetTeam(ctx context.Context, id string) (*Team, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var t Team
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) ListTeams(ctx context.Context) ([]*Team, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var teams []*Team
	if err := r.db.WithContext(ctx).Order("name").Find(&teams).Error; err != nil {
		return nil, err
	}
	return teams, nil
}

func (r *gormRepository) DeleteTeam(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&Team{}).Error
}
