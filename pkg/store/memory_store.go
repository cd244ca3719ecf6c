package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"tutorhub/internal/util"
	"tutorhub/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local runs
// without Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	email     map[string]string // email -> user ID
	documents map[string]domain.Document
	docOrder  []string
	threads   map[string]domain.ThreadMap // conversation ID -> mapping
	threadIDs map[string]string           // provider thread ID -> conversation ID
	messages  []domain.ChatMessage
	queryLogs []domain.QueryLog
	progress  map[string][]domain.ProgressRecord
	attempts  map[string][]domain.AssessmentAttempt
	earned    map[string][]domain.Achievement
	posts     map[string][]domain.ForumPost
	sessions  map[string]string // token -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		email:     make(map[string]string),
		documents: make(map[string]domain.Document),
		threads:   make(map[string]domain.ThreadMap),
		threadIDs: make(map[string]string),
		progress:  make(map[string][]domain.ProgressRecord),
		attempts:  make(map[string][]domain.AssessmentAttempt),
		earned:    make(map[string][]domain.Achievement),
		posts:     make(map[string][]domain.ForumPost),
		sessions:  make(map[string]string),
	}
}

// sessions

func (m *MemoryStore) NewSession(userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := util.NewID()
	m.sessions[token] = userID
	return token, nil
}

func (m *MemoryStore) GetUserIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessions[token]
	return id, ok, nil
}

func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// users

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SetUserAssistantID(userID, assistantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.AssistantID = assistantID
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) SetUserVectorStoreID(userID, vectorStoreID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.VectorStoreID = vectorStoreID
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

// documents

func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[d.ID]; !exists {
		m.docOrder = append(m.docOrder, d.ID)
	}
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

func (m *MemoryStore) ListVisibleDocuments(userID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Document, 0, len(m.docOrder))
	for _, id := range m.docOrder {
		d, ok := m.documents[id]
		if !ok || d.Deleted {
			continue
		}
		if d.UploaderID == userID || d.Category == domain.CategoryStandard {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListDocumentsByUploader(userID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Document, 0, len(m.docOrder))
	for _, id := range m.docOrder {
		d, ok := m.documents[id]
		if ok && !d.Deleted && d.UploaderID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetDocumentProviderFileID(id, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil
	}
	d.ProviderFileID = fileID
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) SoftDeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil
	}
	d.Deleted = true
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) FindDocumentByFilename(filename string) (domain.Document, bool, error) {
	return m.findDocument(func(d domain.Document) bool {
		return d.Filename == filename
	})
}

func (m *MemoryStore) FindDocumentByFilenameStem(stem string) (domain.Document, bool, error) {
	return m.findDocument(func(d domain.Document) bool {
		return strings.HasPrefix(d.Filename, stem+".")
	})
}

func (m *MemoryStore) FindDocumentByStorageKeyContains(fragment string) (domain.Document, bool, error) {
	return m.findDocument(func(d domain.Document) bool {
		return strings.Contains(d.StorageKey, fragment)
	})
}

func (m *MemoryStore) findDocument(match func(domain.Document) bool) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.docOrder {
		d, ok := m.documents[id]
		if ok && !d.Deleted && match(d) {
			return d, true, nil
		}
	}
	return domain.Document{}, false, nil
}

// thread mappings

func (m *MemoryStore) CreateThreadMap(tm domain.ThreadMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threads[tm.ConversationID]; exists {
		return ErrConflict
	}
	if _, exists := m.threadIDs[tm.ThreadID]; exists {
		return ErrConflict
	}
	m.threads[tm.ConversationID] = tm
	m.threadIDs[tm.ThreadID] = tm.ConversationID
	return nil
}

func (m *MemoryStore) GetThreadMap(conversationID string) (domain.ThreadMap, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tm, ok := m.threads[conversationID]
	return tm, ok, nil
}

func (m *MemoryStore) TouchThreadMap(conversationID string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.threads[conversationID]
	if !ok {
		return nil
	}
	tm.LastUsedAt = usedAt
	m.threads[conversationID] = tm
	return nil
}

func (m *MemoryStore) SetThreadMapTitle(conversationID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.threads[conversationID]
	if !ok {
		return nil
	}
	tm.Title = title
	m.threads[conversationID] = tm
	return nil
}

func (m *MemoryStore) DeleteThreadMap(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.threads[conversationID]
	if !ok {
		return nil
	}
	delete(m.threadIDs, tm.ThreadID)
	delete(m.threads, conversationID)
	return nil
}

func (m *MemoryStore) ListThreadMaps(userID string, limit, offset int) ([]domain.ThreadMap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]domain.ThreadMap, 0, len(m.threads))
	for _, tm := range m.threads {
		if tm.UserID == userID {
			all = append(all, tm)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastUsedAt.After(all[j].LastUsedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) CountThreadMaps(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, tm := range m.threads {
		if tm.UserID == userID {
			count++
		}
	}
	return count, nil
}

// conversation transcript

func (m *MemoryStore) AppendChatMessage(msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryStore) ListConversationMessages(userID, conversationID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ChatMessage
	for _, msg := range m.messages {
		if msg.UserID == userID && msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountConversationMessages(userID, conversationID string) (int, error) {
	msgs, err := m.ListConversationMessages(userID, conversationID)
	return len(msgs), err
}

func (m *MemoryStore) DeleteConversationMessages(userID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.UserID == userID && msg.ConversationID == conversationID {
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return nil
}

func (m *MemoryStore) ListChatHistory(userID, conversationID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ChatMessage
	for _, msg := range m.messages {
		if msg.UserID != userID {
			continue
		}
		if conversationID != "" && msg.ConversationID != conversationID {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// audit log

func (m *MemoryStore) AppendQueryLog(entry domain.QueryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryLogs = append(m.queryLogs, entry)
	return nil
}

// QueryLogs returns a copy of all audit entries, oldest first. Test helper.
func (m *MemoryStore) QueryLogs() []domain.QueryLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.QueryLog, len(m.queryLogs))
	copy(out, m.queryLogs)
	return out
}

// learning-context feeds

func (m *MemoryStore) SeedProgress(userID string, records []domain.ProgressRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[userID] = records
}

func (m *MemoryStore) SeedAssessmentAttempts(userID string, attempts []domain.AssessmentAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[userID] = attempts
}

func (m *MemoryStore) SeedAchievements(userID string, earned []domain.Achievement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.earned[userID] = earned
}

func (m *MemoryStore) SeedForumPosts(userID string, posts []domain.ForumPost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[userID] = posts
}

func (m *MemoryStore) ListProgress(userID string) ([]domain.ProgressRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ProgressRecord(nil), m.progress[userID]...), nil
}

func (m *MemoryStore) ListRecentAssessmentAttempts(userID string, limit int) ([]domain.AssessmentAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.AssessmentAttempt(nil), m.attempts[userID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListAchievements(userID string) ([]domain.Achievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.Achievement(nil), m.earned[userID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.After(out[j].EarnedAt) })
	return out, nil
}

func (m *MemoryStore) ListRecentForumPosts(userID string, limit int) ([]domain.ForumPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.ForumPost(nil), m.posts[userID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
