package store

import (
	"errors"
	"time"

	"tutorhub/pkg/domain"
)

// ErrConflict indicates a uniqueness violation, e.g. two concurrent attempts
// to map the same conversation id.
var ErrConflict = errors.New("store: conflict")

// Store defines persistence operations for users, documents, thread mappings,
// transcripts, audit logs, and the read-only learning-context feeds.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	SetUserAssistantID(userID, assistantID string) error
	SetUserVectorStoreID(userID, vectorStoreID string) error

	// documents
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListVisibleDocuments(userID string) ([]domain.Document, error)
	ListDocumentsByUploader(userID string) ([]domain.Document, error)
	SetDocumentProviderFileID(id, fileID string) error
	SoftDeleteDocument(id string) error
	FindDocumentByFilename(filename string) (domain.Document, bool, error)
	FindDocumentByFilenameStem(stem string) (domain.Document, bool, error)
	FindDocumentByStorageKeyContains(fragment string) (domain.Document, bool, error)

	// thread mappings
	CreateThreadMap(domain.ThreadMap) error
	GetThreadMap(conversationID string) (domain.ThreadMap, bool, error)
	TouchThreadMap(conversationID string, usedAt time.Time) error
	SetThreadMapTitle(conversationID, title string) error
	DeleteThreadMap(conversationID string) error
	ListThreadMaps(userID string, limit, offset int) ([]domain.ThreadMap, error)
	CountThreadMaps(userID string) (int, error)

	// conversation transcript
	AppendChatMessage(domain.ChatMessage) error
	ListConversationMessages(userID, conversationID string) ([]domain.ChatMessage, error)
	CountConversationMessages(userID, conversationID string) (int, error)
	DeleteConversationMessages(userID, conversationID string) error
	ListChatHistory(userID, conversationID string, limit int) ([]domain.ChatMessage, error)

	// audit log, kept even after conversation deletion
	AppendQueryLog(domain.QueryLog) error

	// learning-context feeds (read-only collaborator data)
	ListProgress(userID string) ([]domain.ProgressRecord, error)
	ListRecentAssessmentAttempts(userID string, limit int) ([]domain.AssessmentAttempt, error)
	ListAchievements(userID string) ([]domain.Achievement, error)
	ListRecentForumPosts(userID string, limit int) ([]domain.ForumPost, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
