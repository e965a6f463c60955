package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"videoflix/internal/models"
)

type dataset struct {
	NextUserID  int64                  `json:"nextUserId"`
	NextVideoID int64                  `json:"nextVideoId"`
	Users       map[int64]models.User  `json:"users"`
	Videos      map[int64]models.Video `json:"videos"`
}

func newDataset() dataset {
	return dataset{
		NextUserID:  1,
		NextVideoID: 1,
		Users:       make(map[int64]models.User),
		Videos:      make(map[int64]models.Video),
	}
}

// Storage is a Repository persisted as a single JSON document. Every
// mutation works on a clone and swaps it in only after the file has been
// replaced on disk.
type Storage struct {
	mu              sync.RWMutex
	filePath        string
	data            dataset
	now             func() time.Time
	persistOverride func(dataset) error
}

// NewJSONRepository opens the JSON-backed datastore at path.
func NewJSONRepository(path string, opts ...Option) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("json store path required")
	}
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data dataset
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if data.Users == nil {
		data.Users = make(map[int64]models.User)
	}
	if data.Videos == nil {
		data.Videos = make(map[int64]models.Video)
	}
	if data.NextUserID <= 0 {
		data.NextUserID = 1
	}
	if data.NextVideoID <= 0 {
		data.NextVideoID = 1
	}
	s.data = data
	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := dataset{
		NextUserID:  src.NextUserID,
		NextVideoID: src.NextVideoID,
		Users:       make(map[int64]models.User, len(src.Users)),
		Videos:      make(map[int64]models.Video, len(src.Videos)),
	}
	for id, user := range src.Users {
		if user.LastLogin != nil {
			ts := *user.LastLogin
			user.LastLogin = &ts
		}
		clone.Users[id] = user
	}
	for id, video := range src.Videos {
		clone.Videos[id] = video
	}
	return clone
}

// mutate applies fn to a clone of the dataset and commits it when fn
// succeeds and the clone was persisted.
func (s *Storage) mutate(fn func(*dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := cloneDataset(s.data)
	if err := fn(&updated); err != nil {
		return err
	}
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close(context.Context) error {
	return nil
}

func (s *Storage) CreateUser(_ context.Context, params CreateUserParams) (models.User, error) {
	email := strings.TrimSpace(params.Email)
	if email == "" {
		return models.User{}, fmt.Errorf("email is required")
	}
	key := NormalizeEmail(email)
	var created models.User
	err := s.mutate(func(data *dataset) error {
		for _, existing := range data.Users {
			if NormalizeEmail(existing.Email) == key {
				return ErrDuplicateEmail
			}
		}
		created = models.User{
			ID:           data.NextUserID,
			Email:        email,
			PasswordHash: params.PasswordHash,
			IsActive:     params.IsActive,
			IsStaff:      params.IsStaff,
			DateJoined:   s.now(),
		}
		data.Users[created.ID] = created
		data.NextUserID++
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return created, nil
}

func (s *Storage) GetUser(_ context.Context, id int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (s *Storage) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	key := NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if NormalizeEmail(user.Email) == key {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *Storage) updateUser(id int64, fn func(*models.User)) (models.User, error) {
	var updated models.User
	err := s.mutate(func(data *dataset) error {
		user, ok := data.Users[id]
		if !ok {
			return ErrNotFound
		}
		fn(&user)
		data.Users[id] = user
		updated = user
		return nil
	})
	return updated, err
}

func (s *Storage) ActivateUser(_ context.Context, id int64) (models.User, error) {
	return s.updateUser(id, func(u *models.User) { u.IsActive = true })
}

func (s *Storage) SetPasswordHash(_ context.Context, id int64, hash string) (models.User, error) {
	return s.updateUser(id, func(u *models.User) { u.PasswordHash = hash })
}

func (s *Storage) SetStaff(_ context.Context, id int64, staff bool) (models.User, error) {
	return s.updateUser(id, func(u *models.User) { u.IsStaff = staff })
}

func (s *Storage) RecordLogin(_ context.Context, id int64, at time.Time) error {
	ts := at.UTC()
	_, err := s.updateUser(id, func(u *models.User) { u.LastLogin = &ts })
	return err
}

func (s *Storage) CreateVideo(_ context.Context, params CreateVideoParams) (models.Video, error) {
	var created models.Video
	err := s.mutate(func(data *dataset) error {
		created = models.Video{
			ID:            data.NextVideoID,
			Title:         params.Title,
			Description:   params.Description,
			Category:      params.Category,
			CreatedAt:     s.now(),
			SourcePath:    params.SourcePath,
			ThumbnailPath: params.ThumbnailPath,
		}
		data.Videos[created.ID] = created
		data.NextVideoID++
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return created, nil
}

func (s *Storage) GetVideo(_ context.Context, id int64) (models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	return video, nil
}

// ListVideos returns the catalog newest first; ties are broken by id
// descending.
func (s *Storage) ListVideos(context.Context) ([]models.Video, error) {
	s.mu.RLock()
	videos := make([]models.Video, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		videos = append(videos, video)
	}
	s.mu.RUnlock()
	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.After(videos[j].CreatedAt)
		}
		return videos[i].ID > videos[j].ID
	})
	return videos, nil
}

func (s *Storage) DeleteVideo(_ context.Context, id int64) (models.Video, error) {
	var deleted models.Video
	err := s.mutate(func(data *dataset) error {
		video, ok := data.Videos[id]
		if !ok {
			return ErrNotFound
		}
		deleted = video
		delete(data.Videos, id)
		return nil
	})
	return deleted, err
}

var _ Repository = (*Storage)(nil)
