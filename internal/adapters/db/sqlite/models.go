package sqlite

import "time"

type BuildSessionModel struct {
	ID        string `gorm:"primaryKey"`
	Brand     string
	State     string `gorm:"not null;default:'empty'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (BuildSessionModel) TableName() string { return "build_sessions" }

type VerificationRunModel struct {
	ID            uint   `gorm:"primaryKey"`
	SessionID     string `gorm:"not null;index"`
	SelectionHash string `gorm:"not null"`
	OK            bool   `gorm:"column:ok;not null;default:false"`
	Errors        string `gorm:"not null;default:'[]'"`
	CreatedAt     time.Time
}

func (VerificationRunModel) TableName() string { return "verification_runs" }

type DraftRecordModel struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"not null;index"`
	BuildID     string `gorm:"uniqueIndex;not null"`
	Subtotal    string `gorm:"not null;default:'0'"`
	Total       string `gorm:"not null;default:'0'"`
	Snapshot    string
	Status      string `gorm:"not null;default:'draft'"`
	Message     string
	CreatedAt   time.Time
	SubmittedAt *time.Time
}

func (DraftRecordModel) TableName() string { return "draft_records" }
