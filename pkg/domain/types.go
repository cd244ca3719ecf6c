package domain

import "time"

type UserRole string

const (
	RoleStudent    UserRole = "student"
	RoleInstructor UserRole = "instructor"
	RoleAdmin      UserRole = "admin"
)

type DocumentCategory string

const (
	CategoryUserUpload DocumentCategory = "user-upload"
	CategoryStandard   DocumentCategory = "standard"
)

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	FullName      string    `json:"fullName,omitempty"`
	PasswordHash  string    `json:"-"`
	Role          UserRole  `json:"role"`
	Active        bool      `json:"active"`
	AssistantID   string    `json:"-"`
	VectorStoreID string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DisplayName is used when naming provider-side resources for a user.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// Document is a reference file visible to the AI assistant.
// Standard-category documents are shared with every user; everything else is
// visible only to its uploader.
type Document struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Filename       string           `json:"filename"`
	StorageKey     string           `json:"-"`
	SizeBytes      int64            `json:"sizeBytes"`
	MimeType       string           `json:"mimeType,omitempty"`
	Category       DocumentCategory `json:"category"`
	UploaderID     string           `json:"uploaderId,omitempty"`
	ProviderFileID string           `json:"-"`
	Deleted        bool             `json:"-"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// ThreadMap binds a platform conversation to a provider thread, 1:1 both
// ways. The owner never changes after creation.
type ThreadMap struct {
	ConversationID string    `json:"conversationId"`
	ThreadID       string    `json:"-"`
	UserID         string    `json:"-"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastUsedAt     time.Time `json:"lastUsedAt"`
}

// ChatMessage is one exchanged turn of a conversation transcript.
// Rows are append-only.
type ChatMessage struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	ConversationID string            `json:"conversationId"`
	Message        string            `json:"message"`
	Response       string            `json:"response"`
	Context        map[string]string `json:"context,omitempty"`
	Escalated      bool              `json:"escalated"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// QueryLog is the append-only audit trail of assistant queries. Unlike the
// transcript it survives conversation deletion.
type QueryLog struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Query          string    `json:"query"`
	Response       string    `json:"response"`
	OperationType  string    `json:"operationType"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationSummary is the listing view over thread mappings.
type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	Title          string    `json:"title,omitempty"`
	MessageCount   int       `json:"messageCount"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Learning-context rows. This service only reads them; the rest of the
// platform owns their lifecycle.

type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

type ProgressRecord struct {
	UserID         string         `json:"userId"`
	ModuleID       string         `json:"moduleId"`
	ModuleTitle    string         `json:"moduleTitle"`
	Status         ProgressStatus `json:"status"`
	CompletionPct  float64        `json:"completionPct"`
	LastAccessedAt time.Time      `json:"lastAccessedAt"`
}

type AssessmentAttempt struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	AssessmentID string    `json:"assessmentId"`
	ModuleID     string    `json:"moduleId"`
	Correct      bool      `json:"correct"`
	PointsEarned int       `json:"pointsEarned"`
	Feedback     string    `json:"feedback,omitempty"`
	AttemptedAt  time.Time `json:"attemptedAt"`
}

type Achievement struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Points      int       `json:"points"`
	EarnedAt    time.Time `json:"earnedAt"`
}

type ForumPost struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ModuleID  string    `json:"moduleId,omitempty"`
	Title     string    `json:"title"`
	Solved    bool      `json:"solved"`
	Upvotes   int       `json:"upvotes"`
	CreatedAt time.Time `json:"createdAt"`
}
