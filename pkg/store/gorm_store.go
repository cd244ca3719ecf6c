package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tutorhub/pkg/domain"
)

const migrateLockID int64 = 48293107

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race each other.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&UserModel{},
			&DocumentModel{},
			&ThreadMapModel{},
			&ChatMessageModel{},
			&QueryLogModel{},
			&ProgressModel{},
			&AssessmentAttemptModel{},
			&AchievementModel{},
			&ForumPostModel{},
		)
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrateLockID).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		return fn(tx)
	})
}

// users

func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("get user: %w", err)
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	err := s.db.First(&model, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("get user by email: %w", err)
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) SetUserAssistantID(userID, assistantID string) error {
	if err := s.db.Model(&UserModel{}).Where("id = ?", userID).
		Update("assistant_id", assistantID).Error; err != nil {
		return fmt.Errorf("set assistant id: %w", err)
	}
	return nil
}

func (s *GormStore) SetUserVectorStoreID(userID, vectorStoreID string) error {
	if err := s.db.Model(&UserModel{}).Where("id = ?", userID).
		Update("vector_store_id", vectorStoreID).Error; err != nil {
		return fmt.Errorf("set vector store id: %w", err)
	}
	return nil
}

// documents

func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("get document: %w", err)
	}
	return documentFromModel(model), true, nil
}

// ListVisibleDocuments returns the user's own uploads plus every shared
// standard-category document, excluding soft-deleted rows.
func (s *GormStore) ListVisibleDocuments(userID string) ([]domain.Document, error) {
	var models []DocumentModel
	err := s.db.
		Where("deleted = ?", false).
		Where("uploader_id = ? OR category = ?", userID, string(domain.CategoryStandard)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list visible documents: %w", err)
	}
	return documentsFromModels(models), nil
}

func (s *GormStore) ListDocumentsByUploader(userID string) ([]domain.Document, error) {
	var models []DocumentModel
	err := s.db.
		Where("deleted = ? AND uploader_id = ?", false, userID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return documentsFromModels(models), nil
}

func (s *GormStore) SetDocumentProviderFileID(id, fileID string) error {
	if err := s.db.Model(&DocumentModel{}).Where("id = ?", id).
		Update("provider_file_id", fileID).Error; err != nil {
		return fmt.Errorf("set provider file id: %w", err)
	}
	return nil
}

func (s *GormStore) SoftDeleteDocument(id string) error {
	if err := s.db.Model(&DocumentModel{}).Where("id = ?", id).
		Update("deleted", true).Error; err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	return nil
}

func (s *GormStore) FindDocumentByFilename(filename string) (domain.Document, bool, error) {
	return s.findDocument("filename = ?", filename)
}

func (s *GormStore) FindDocumentByFilenameStem(stem string) (domain.Document, bool, error) {
	return s.findDocument("filename LIKE ?", stem+".%")
}

func (s *GormStore) FindDocumentByStorageKeyContains(fragment string) (domain.Document, bool, error) {
	return s.findDocument("storage_key LIKE ?", "%"+fragment+"%")
}

func (s *GormStore) findDocument(query string, arg any) (domain.Document, bool, error) {
	var model DocumentModel
	err := s.db.Where("deleted = ?", false).Where(query, arg).
		Order("created_at ASC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("find document: %w", err)
	}
	return documentFromModel(model), true, nil
}

// thread mappings

func (s *GormStore) CreateThreadMap(tm domain.ThreadMap) error {
	model := threadMapToModel(tm)
	err := s.db.Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create thread map: %w", err)
	}
	return nil
}

func (s *GormStore) GetThreadMap(conversationID string) (domain.ThreadMap, bool, error) {
	var model ThreadMapModel
	err := s.db.First(&model, "conversation_id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ThreadMap{}, false, nil
	}
	if err != nil {
		return domain.ThreadMap{}, false, fmt.Errorf("get thread map: %w", err)
	}
	return threadMapFromModel(model), true, nil
}

func (s *GormStore) TouchThreadMap(conversationID string, usedAt time.Time) error {
	if err := s.db.Model(&ThreadMapModel{}).
		Where("conversation_id = ?", conversationID).
		Update("last_used_at", usedAt).Error; err != nil {
		return fmt.Errorf("touch thread map: %w", err)
	}
	return nil
}

func (s *GormStore) SetThreadMapTitle(conversationID, title string) error {
	if err := s.db.Model(&ThreadMapModel{}).
		Where("conversation_id = ?", conversationID).
		Update("title", title).Error; err != nil {
		return fmt.Errorf("set thread map title: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteThreadMap(conversationID string) error {
	if err := s.db.Delete(&ThreadMapModel{}, "conversation_id = ?", conversationID).Error; err != nil {
		return fmt.Errorf("delete thread map: %w", err)
	}
	return nil
}

func (s *GormStore) ListThreadMaps(userID string, limit, offset int) ([]domain.ThreadMap, error) {
	var models []ThreadMapModel
	err := s.db.Where("user_id = ?", userID).
		Order("last_used_at DESC").
		Limit(limit).Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list thread maps: %w", err)
	}
	out := make([]domain.ThreadMap, 0, len(models))
	for _, model := range models {
		out = append(out, threadMapFromModel(model))
	}
	return out, nil
}

func (s *GormStore) CountThreadMaps(userID string) (int, error) {
	var count int64
	if err := s.db.Model(&ThreadMapModel{}).
		Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count thread maps: %w", err)
	}
	return int(count), nil
}

// conversation transcript

func (s *GormStore) AppendChatMessage(msg domain.ChatMessage) error {
	model, err := chatMessageToModel(msg)
	if err != nil {
		return err
	}
	if err := s.db.Create(&model).Error; err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *GormStore) ListConversationMessages(userID, conversationID string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	err := s.db.Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	return chatMessagesFromModels(models)
}

func (s *GormStore) CountConversationMessages(userID, conversationID string) (int, error) {
	var count int64
	if err := s.db.Model(&ChatMessageModel{}).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count conversation messages: %w", err)
	}
	return int(count), nil
}

func (s *GormStore) DeleteConversationMessages(userID, conversationID string) error {
	if err := s.db.Delete(&ChatMessageModel{},
		"user_id = ? AND conversation_id = ?", userID, conversationID).Error; err != nil {
		return fmt.Errorf("delete conversation messages: %w", err)
	}
	return nil
}

func (s *GormStore) ListChatHistory(userID, conversationID string, limit int) ([]domain.ChatMessage, error) {
	q := s.db.Where("user_id = ?", userID)
	if conversationID != "" {
		q = q.Where("conversation_id = ?", conversationID)
	}
	var models []ChatMessageModel
	if err := q.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}
	return chatMessagesFromModels(models)
}

// audit log

func (s *GormStore) AppendQueryLog(entry domain.QueryLog) error {
	model := queryLogToModel(entry)
	if err := s.db.Create(&model).Error; err != nil {
		return fmt.Errorf("append query log: %w", err)
	}
	return nil
}

// learning-context feeds

func (s *GormStore) ListProgress(userID string) ([]domain.ProgressRecord, error) {
	var models []ProgressModel
	err := s.db.Where("user_id = ?", userID).
		Order("last_accessed_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out := make([]domain.ProgressRecord, 0, len(models))
	for _, m := range models {
		out = append(out, domain.ProgressRecord{
			UserID:         m.UserID,
			ModuleID:       m.ModuleID,
			ModuleTitle:    m.ModuleTitle,
			Status:         domain.ProgressStatus(m.Status),
			CompletionPct:  m.CompletionPct,
			LastAccessedAt: m.LastAccessedAt,
		})
	}
	return out, nil
}

func (s *GormStore) ListRecentAssessmentAttempts(userID string, limit int) ([]domain.AssessmentAttempt, error) {
	var models []AssessmentAttemptModel
	err := s.db.Where("user_id = ?", userID).
		Order("attempted_at DESC").Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list assessment attempts: %w", err)
	}
	out := make([]domain.AssessmentAttempt, 0, len(models))
	for _, m := range models {
		out = append(out, domain.AssessmentAttempt{
			ID:           m.ID,
			UserID:       m.UserID,
			AssessmentID: m.AssessmentID,
			ModuleID:     m.ModuleID,
			Correct:      m.Correct,
			PointsEarned: m.PointsEarned,
			Feedback:     m.Feedback,
			AttemptedAt:  m.AttemptedAt,
		})
	}
	return out, nil
}

func (s *GormStore) ListAchievements(userID string) ([]domain.Achievement, error) {
	var models []AchievementModel
	err := s.db.Where("user_id = ?", userID).
		Order("earned_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	out := make([]domain.Achievement, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Achievement{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			Points:      m.Points,
			EarnedAt:    m.EarnedAt,
		})
	}
	return out, nil
}

func (s *GormStore) ListRecentForumPosts(userID string, limit int) ([]domain.ForumPost, error) {
	var models []ForumPostModel
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list forum posts: %w", err)
	}
	out := make([]domain.ForumPost, 0, len(models))
	for _, m := range models {
		out = append(out, domain.ForumPost{
			ID:        m.ID,
			UserID:    m.UserID,
			ModuleID:  m.ModuleID,
			Title:     m.Title,
			Solved:    m.Solved,
			Upvotes:   m.Upvotes,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// conversions

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		FullName:      u.FullName,
		PasswordHash:  u.PasswordHash,
		Role:          string(u.Role),
		Active:        u.Active,
		AssistantID:   u.AssistantID,
		VectorStoreID: u.VectorStoreID,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:            m.ID,
		Email:         m.Email,
		Username:      m.Username,
		FullName:      m.FullName,
		PasswordHash:  m.PasswordHash,
		Role:          domain.UserRole(m.Role),
		Active:        m.Active,
		AssistantID:   m.AssistantID,
		VectorStoreID: m.VectorStoreID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:             d.ID,
		Title:          d.Title,
		Filename:       d.Filename,
		StorageKey:     d.StorageKey,
		SizeBytes:      d.SizeBytes,
		MimeType:       d.MimeType,
		Category:       string(d.Category),
		UploaderID:     d.UploaderID,
		ProviderFileID: d.ProviderFileID,
		Deleted:        d.Deleted,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:             m.ID,
		Title:          m.Title,
		Filename:       m.Filename,
		StorageKey:     m.StorageKey,
		SizeBytes:      m.SizeBytes,
		MimeType:       m.MimeType,
		Category:       domain.DocumentCategory(m.Category),
		UploaderID:     m.UploaderID,
		ProviderFileID: m.ProviderFileID,
		Deleted:        m.Deleted,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func documentsFromModels(models []DocumentModel) []domain.Document {
	out := make([]domain.Document, 0, len(models))
	for _, m := range models {
		out = append(out, documentFromModel(m))
	}
	return out
}

func threadMapToModel(tm domain.ThreadMap) ThreadMapModel {
	return ThreadMapModel{
		ConversationID: tm.ConversationID,
		ThreadID:       tm.ThreadID,
		UserID:         tm.UserID,
		Title:          tm.Title,
		CreatedAt:      tm.CreatedAt,
		LastUsedAt:     tm.LastUsedAt,
	}
}

func threadMapFromModel(m ThreadMapModel) domain.ThreadMap {
	return domain.ThreadMap{
		ConversationID: m.ConversationID,
		ThreadID:       m.ThreadID,
		UserID:         m.UserID,
		Title:          m.Title,
		CreatedAt:      m.CreatedAt,
		LastUsedAt:     m.LastUsedAt,
	}
}

func chatMessageToModel(msg domain.ChatMessage) (ChatMessageModel, error) {
	model := ChatMessageModel{
		ID:             msg.ID,
		UserID:         msg.UserID,
		ConversationID: msg.ConversationID,
		Message:        msg.Message,
		Response:       msg.Response,
		Escalated:      msg.Escalated,
		CreatedAt:      msg.CreatedAt,
	}
	if len(msg.Context) > 0 {
		data, err := json.Marshal(msg.Context)
		if err != nil {
			return model, fmt.Errorf("encode message context: %w", err)
		}
		model.Context = datatypes.JSON(data)
	}
	return model, nil
}

func chatMessageFromModel(m ChatMessageModel) (domain.ChatMessage, error) {
	msg := domain.ChatMessage{
		ID:             m.ID,
		UserID:         m.UserID,
		ConversationID: m.ConversationID,
		Message:        m.Message,
		Response:       m.Response,
		Escalated:      m.Escalated,
		CreatedAt:      m.CreatedAt,
	}
	if len(m.Context) > 0 {
		if err := json.Unmarshal(m.Context, &msg.Context); err != nil {
			return msg, fmt.Errorf("decode message context: %w", err)
		}
	}
	return msg, nil
}

func chatMessagesFromModels(models []ChatMessageModel) ([]domain.ChatMessage, error) {
	out := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		msg, err := chatMessageFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func queryLogToModel(entry domain.QueryLog) QueryLogModel {
	return QueryLogModel{
		ID:             entry.ID,
		UserID:         entry.UserID,
		ConversationID: entry.ConversationID,
		Query:          entry.Query,
		Response:       entry.Response,
		OperationType:  entry.OperationType,
		IPAddress:      entry.IPAddress,
		CreatedAt:      entry.CreatedAt,
	}
}
