package ticket

import (
	"time"
)

type Status string

const (
	StatusOpen          Status = "open"
	StatusInProgress    Status = "in_progress"
	StatusPendingVendor Status = "pending_vendor"
	StatusPendingUser   Status = "pending_user"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

func (s Status) String() string {
	switch s {
	case StatusOpen, StatusInProgress, StatusPendingVendor, StatusPendingUser, StatusResolved, StatusClosed:
		return string(s)
	default:
		return ""
	}
}

func (s Status) Valid() bool {
	return s.String() != ""
}

// Terminal statuses are excluded from SLA monitoring.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) String() string {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return string(p)
	default:
		return ""
	}
}

func (p Priority) Valid() bool {
	return p.String() != ""
}

// Rank orders priorities for display, Critical highest.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Task is the unit of work. Title never changes after creation.
type Task struct {
	ID                string       `gorm:"column:id;primaryKey" json:"id"`
	Title             string       `gorm:"column:title;type:varchar(200);not null" json:"title"`
	Description       string       `gorm:"column:description;type:text" json:"description"`
	Status            Status       `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	Priority          Priority     `gorm:"column:priority;type:varchar(20);index;not null" json:"priority"`
	CreatorID         string       `gorm:"column:creator_id;index;not null" json:"creator_id"`
	AssigneeID        *string      `gorm:"column:assignee_id;index" json:"assignee_id,omitempty"`
	Branch            string       `gorm:"column:branch;type:varchar(100)" json:"branch,omitempty"`
	DueDate           *time.Time   `gorm:"column:due_date" json:"due_date,omitempty"`
	SLADeadline       *time.Time   `gorm:"column:sla_deadline;index" json:"sla_deadline,omitempty"`
	RecurringConfigID *string      `gorm:"column:recurring_config_id;index" json:"recurring_config_id,omitempty"`
	CreatedAt         time.Time    `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"column:updated_at" json:"updated_at"`
	Context           *TaskContext `gorm:"foreignKey:TaskID" json:"context,omitempty"`
	Subscribers       []Subscriber `gorm:"foreignKey:TaskID" json:"subscribers,omitempty"`
}

// TaskContext is the optional structured environment record, one per task.
type TaskContext struct {
	ID            string `gorm:"column:id;primaryKey" json:"-"`
	TaskID        string `gorm:"column:task_id;uniqueIndex;not null" json:"-"`
	ServerName    string `gorm:"column:server_name;type:varchar(100)" json:"server_name,omitempty"`
	Application   string `gorm:"column:application;type:varchar(100)" json:"application,omitempty"`
	IPAddress     string `gorm:"column:ip_address;type:varchar(45)" json:"ip_address,omitempty"`
	Environment   string `gorm:"column:environment;type:varchar(50)" json:"environment,omitempty"`
	WorkstationID string `gorm:"column:workstation_id;type:varchar(100)" json:"workstation_id,omitempty"`
	ADUser        string `gorm:"column:ad_user;type:varchar(100)" json:"ad_user,omitempty"`
	Manufacturer  string `gorm:"column:manufacturer;type:varchar(100)" json:"manufacturer,omitempty"`
	Version       string `gorm:"column:version;type:varchar(50)" json:"version,omitempty"`
}

// Subscriber is a secondary technician following the task; independent of
// the single assignee.
type Subscriber struct {
	TaskID    string    `gorm:"column:task_id;primaryKey" json:"-"`
	UserID    string    `gorm:"column:user_id;primaryKey" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

type Comment struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	TaskID    string    `gorm:"column:task_id;index;not null" json:"task_id"`
	AuthorID  string    `gorm:"column:author_id;index;not null" json:"author_id"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	Mentions  []Mention `gorm:"foreignKey:CommentID" json:"mentions,omitempty"`
}

// Mention carries the task id as well so the delete cascade can clear
// mentions without joining through comments.
type Mention struct {
	ID        string    `gorm:"column:id;primaryKey" json:"-"`
	CommentID string    `gorm:"column:comment_id;index;not null" json:"-"`
	TaskID    string    `gorm:"column:task_id;index;not null" json:"-"`
	UserID    string    `gorm:"column:user_id;index;not null" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

type Attachment struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	TaskID     string    `gorm:"column:task_id;index;not null" json:"task_id"`
	FilePath   string    `gorm:"column:file_path;type:varchar(500);not null" json:"file_path"`
	MIMEType   string    `gorm:"column:mime_type;type:varchar(100);not null" json:"mime_type"`
	SizeBytes  int64     `gorm:"column:size_bytes" json:"size_bytes"`
	UploaderID string    `gorm:"column:uploader_id;index;not null" json:"uploader_id"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}
