package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/reelhub/internal/apperr"
	"github.com/example/reelhub/internal/credential"
	"github.com/example/reelhub/internal/paginate"
)

// MemDB keeps everything in process. It is intended for development and tests.
type MemDB struct {
	mu     sync.RWMutex
	users  map[string]*Identity
	videos map[string]*Video
	now    func() time.Time
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:  map[string]*Identity{},
		videos: map[string]*Video{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemDB) Init(context.Context) error { return nil }

func conflict(field string) error {
	return apperr.New(apperr.Conflict, field+" is already taken")
}

// taken reports which unique field, if any, another identity already holds.
func (m *MemDB) taken(exceptID, username, email string) string {
	for _, u := range m.users {
		if u.ID == exceptID {
			continue
		}
		if username != "" && u.Username == username {
			return "username"
		}
		if email != "" && u.Email == email {
			return "email"
		}
	}
	return ""
}

func (m *MemDB) CreateIdentity(_ context.Context, in NewIdentity) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(in.Email)
	if f := m.taken("", in.Username, email); f != "" {
		return nil, conflict(f)
	}
	now := m.now()
	u := &Identity{
		ID:             uuid.NewString(),
		Username:       in.Username,
		Email:          email,
		DisplayName:    in.DisplayName,
		CredentialHash: in.CredentialHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *MemDB) IdentityByID(_ context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemDB) IdentityByLogin(_ context.Context, identifier string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email := strings.ToLower(identifier)
	for _, u := range m.users {
		if u.Username == identifier || u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemDB) UpdateProfile(_ context.Context, id string, p ProfileUpdate) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.empty() {
		cp := *u
		return &cp, nil
	}
	if p.Email != nil {
		email := strings.ToLower(*p.Email)
		if f := m.taken(id, "", email); f != "" {
			return nil, conflict(f)
		}
		u.Email = email
	}
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	u.UpdatedAt = m.now()
	cp := *u
	return &cp, nil
}

func (m *MemDB) UpdateCredentialHash(_ context.Context, id string, h credential.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.CredentialHash = h
	u.UpdatedAt = m.now()
	return nil
}

func (m *MemDB) SetRefreshHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.RefreshTokenHash = hash
	return nil
}

func (m *MemDB) SwapRefreshHash(_ context.Context, id, expected, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || expected == "" || u.RefreshTokenHash != expected {
		return false, nil
	}
	u.RefreshTokenHash = next
	return true, nil
}

func (m *MemDB) RefreshHash(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return "", ErrNotFound
	}
	return u.RefreshTokenHash, nil
}

func (m *MemDB) ClearRefreshHash(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.RefreshTokenHash = ""
	}
	return nil
}

func (m *MemDB) CreateVideo(_ context.Context, in NewVideo) (*Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[in.OwnerID]; !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	v := &Video{
		ID:              uuid.NewString(),
		Title:           in.Title,
		Description:     in.Description,
		DurationSeconds: in.DurationSeconds,
		Published:       in.Published,
		OwnerID:         in.OwnerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.videos[v.ID] = v
	cp := *v
	return &cp, nil
}

func (m *MemDB) Executor() paginate.Executor {
	return paginate.NewMemoryExecutor(m)
}

// Documents implements paginate.Source with a snapshot of the collection.
func (m *MemDB) Documents(_ context.Context, collection string) ([]paginate.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []paginate.Document
	switch collection {
	case UsersSchema.Name:
		for _, u := range m.users {
			docs = append(docs, paginate.Document{
				"id":          u.ID,
				"username":    u.Username,
				"displayName": u.DisplayName,
				"createdAt":   u.CreatedAt,
			})
		}
	case VideosSchema.Name:
		for _, v := range m.videos {
			docs = append(docs, paginate.Document{
				"id":          v.ID,
				"title":       v.Title,
				"description": v.Description,
				"duration":    v.DurationSeconds,
				"views":       v.Views,
				"published":   v.Published,
				"ownerId":     v.OwnerID,
				"createdAt":   v.CreatedAt,
				"updatedAt":   v.UpdatedAt,
			})
		}
	default:
		return nil, apperr.Internalf(nil, "unknown collection %q", collection)
	}
	// map iteration order is random; keep the snapshot stable
	sort.Slice(docs, func(i, j int) bool { return docs[i]["id"].(string) < docs[j]["id"].(string) })
	return docs, nil
}

func (m *MemDB) Ping(context.Context) error { return nil }
func (m *MemDB) Close() error               { return nil }
