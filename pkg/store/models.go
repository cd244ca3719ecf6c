package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID            string `gorm:"primaryKey"`
	Email         string `gorm:"uniqueIndex;not null"`
	Username      string `gorm:"index"`
	FullName      string
	PasswordHash  string `gorm:"not null"`
	Role          string `gorm:"not null"`
	Active        bool   `gorm:"not null;default:true"`
	AssistantID   string
	VectorStoreID string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

type DocumentModel struct {
	ID             string `gorm:"primaryKey"`
	Title          string `gorm:"not null"`
	Filename       string `gorm:"not null;index"`
	StorageKey     string `gorm:"not null"`
	SizeBytes      int64  `gorm:"not null"`
	MimeType       string
	Category       string `gorm:"not null;index"`
	UploaderID     string `gorm:"index"`
	ProviderFileID string
	Deleted        bool      `gorm:"not null;default:false;index"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time
}

type ThreadMapModel struct {
	ConversationID string `gorm:"primaryKey"`
	ThreadID       string `gorm:"uniqueIndex;not null"`
	UserID         string `gorm:"not null;index"`
	Title          string
	CreatedAt      time.Time `gorm:"not null"`
	LastUsedAt     time.Time `gorm:"not null"`
}

type ChatMessageModel struct {
	ID             string         `gorm:"primaryKey"`
	UserID         string         `gorm:"not null;index"`
	ConversationID string         `gorm:"not null;index"`
	Message        string         `gorm:"type:text;not null"`
	Response       string         `gorm:"type:text"`
	Context        datatypes.JSON `gorm:"type:jsonb"`
	Escalated      bool           `gorm:"not null;default:false"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}

type QueryLogModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"not null;index"`
	ConversationID string `gorm:"index"`
	Query          string `gorm:"type:text;not null"`
	Response       string `gorm:"type:text;not null"`
	OperationType  string
	IPAddress      string
	CreatedAt      time.Time `gorm:"not null;index"`
}

// Learning-context tables. The rest of the platform writes these; this
// service only selects from them.
type ProgressModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"not null;index"`
	ModuleID       string `gorm:"not null"`
	ModuleTitle    string
	Status         string  `gorm:"not null"`
	CompletionPct  float64 `gorm:"not null"`
	LastAccessedAt time.Time
}

type AssessmentAttemptModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	AssessmentID string `gorm:"not null"`
	ModuleID     string
	Correct      bool `gorm:"not null"`
	PointsEarned int
	Feedback     string    `gorm:"type:text"`
	AttemptedAt  time.Time `gorm:"not null;index"`
}

type AchievementModel struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"not null;index"`
	Name        string `gorm:"not null"`
	Description string
	Points      int
	EarnedAt    time.Time `gorm:"not null;index"`
}

type ForumPostModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	ModuleID  string
	Title     string `gorm:"not null"`
	Solved    bool   `gorm:"not null;default:false"`
	Upvotes   int
	CreatedAt time.Time `gorm:"not null;index"`
}
