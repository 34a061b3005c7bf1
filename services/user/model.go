package user

import (
	"time"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTeamLead   Role = "teamlead"
	RoleTechnician Role = "technician"
	RoleViewer     Role = "viewer"
)

func (r Role) String() string {
	switch r {
	case RoleAdmin, RoleTeamLead, RoleTechnician, RoleViewer:
		return string(r)
	default:
		return ""
	}
}

func (r Role) Valid() bool {
	return r.String() != ""
}

type User struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Username    string    `gorm:"column:username;uniqueIndex;type:varchar(100);not null" json:"username"`
	Email       string    `gorm:"column:email;uniqueIndex;type:varchar(255);not null" json:"email"`
	DisplayName string    `gorm:"column:display_name;type:varchar(200)" json:"display_name"`
	Role        Role      `gorm:"column:role;type:varchar(20);index;not null" json:"role"`
	TeamID      *string   `gorm:"column:team_id;index" json:"team_id,omitempty"`
	IsActive    bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

type Team struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;uniqueIndex;type:varchar(100);not null" json:"name"`
	LeadID    *string   `gorm:"column:lead_id;index" json:"lead_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}
