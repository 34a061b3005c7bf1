package recurring

import (
	"time"

	"opsdesk/services/ticket"
)

// TemplateContext is the environment block stamped onto every generated task.
type TemplateContext struct {
	ServerName    string `gorm:"column:server_name;type:varchar(100)" json:"server_name,omitempty"`
	Application   string `gorm:"column:application;type:varchar(100)" json:"application,omitempty"`
	IPAddress     string `gorm:"column:ip_address;type:varchar(45)" json:"ip_address,omitempty"`
	Environment   string `gorm:"column:environment;type:varchar(50)" json:"environment,omitempty"`
	WorkstationID string `gorm:"column:workstation_id;type:varchar(100)" json:"workstation_id,omitempty"`
	ADUser        string `gorm:"column:ad_user;type:varchar(100)" json:"ad_user,omitempty"`
	Manufacturer  string `gorm:"column:manufacturer;type:varchar(100)" json:"manufacturer,omitempty"`
	Version       string `gorm:"column:version;type:varchar(50)" json:"version,omitempty"`
}

// Config is a recurring task template plus its cron schedule. Generated
// tasks reference the config but never depend on it: deleting a config
// leaves its tasks untouched.
type Config struct {
	ID               string          `gorm:"column:id;primaryKey" json:"id"`
	Title            string          `gorm:"column:title;type:varchar(200);not null" json:"title"`
	Description      string          `gorm:"column:description;type:text" json:"description"`
	Priority         ticket.Priority `gorm:"column:priority;type:varchar(20);not null" json:"priority"`
	AssigneeID       *string         `gorm:"column:assignee_id;index" json:"assignee_id,omitempty"`
	Branch           string          `gorm:"column:branch;type:varchar(100)" json:"branch,omitempty"`
	CronExpr         string          `gorm:"column:cron_expr;type:varchar(100);not null" json:"cron_expr"`
	Context          TemplateContext `gorm:"embedded;embeddedPrefix:ctx_" json:"context"`
	CreatedBy        string          `gorm:"column:created_by;index;not null" json:"created_by"`
	IsActive         bool            `gorm:"column:is_active;index;default:true" json:"is_active"`
	LastGeneratedAt  *time.Time      `gorm:"column:last_generated_at" json:"last_generated_at,omitempty"`
	NextGenerationAt *time.Time      `gorm:"column:next_generation_at;index" json:"next_generation_at,omitempty"`
	CreatedAt        time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (c *Config) contextInput() *ticket.ContextInput {
	tc := c.Context
	if tc == (TemplateContext{}) {
		return nil
	}
	return &ticket.ContextInput{
		ServerName:    tc.ServerName,
		Application:   tc.Application,
		IPAddress:     tc.IPAddress,
		Environment:   tc.Environment,
		WorkstationID: tc.WorkstationID,
		ADUser:        tc.ADUser,
		Manufacturer:  tc.Manufacturer,
		Version:       tc.Version,
	}
}
