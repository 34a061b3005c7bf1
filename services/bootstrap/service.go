package bootstrap

import (
	"context"
	"fmt"

	"opsdesk/services/audit"
	"opsdesk/services/recurring"
	"opsdesk/services/ticket"
	"opsdesk/services/user"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	users user.Repository
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Users user.Repository
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		users: p.Users,
	}
}

// Migrate creates the schema and seeds the default admin account when no
// admin exists yet.
func (s *Service) Migrate() error {
	ctx := context.Background()

	if err := s.db.AutoMigrate(
		&user.User{},
		&user.Team{},
		&ticket.Task{},
		&ticket.TaskContext{},
		&ticket.Subscriber{},
		&ticket.Comment{},
		&ticket.Mention{},
		&ticket.Attachment{},
		&audit.AuditLog{},
		&audit.SystemLog{},
		&recurring.Config{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	exist, err := s.users.GetByUsername(ctx, "admin")
	if err != nil {
		zap.L().Error("[bootstrap] Error checking admin account", zap.Error(err))
		return fmt.Errorf("failed to check existing admin account: %w", err)
	}
	if exist != nil {
		zap.L().Info("[bootstrap] Default admin account already exists")
		return nil
	}

	admin := &user.User{
		ID:          s.node.Generate().String(),
		Username:    "admin",
		Email:       "admin@localhost",
		DisplayName: "Administrator",
		Role:        user.RoleAdmin,
		IsActive:    true,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		zap.L().Error("[bootstrap] failed to create admin account", zap.Error(err))
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	zap.L().Info("[bootstrap] Default admin account created", zap.String("user_id", admin.ID))
	return nil
}
