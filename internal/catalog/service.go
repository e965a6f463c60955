// Package catalog owns video records and their files on disk, and notifies
// the transcode dispatcher about catalog changes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"videoflix/internal/jobs"
	"videoflix/internal/models"
	"videoflix/internal/storage"

	"github.com/google/uuid"
)

const (
	VideosDir     = "videos"
	ThumbnailsDir = "thumbnails"
)

var (
	// ErrNotFound is returned for unknown video ids.
	ErrNotFound = errors.New("video not found")
	// ErrUnsupportedFile is returned for uploads with an unexpected extension.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

var (
	videoExtensions     = map[string]bool{".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".avi": true, ".m4v": true}
	thumbnailExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}
	unsafeNameChars     = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Dispatcher receives catalog change notifications.
type Dispatcher interface {
	VideoCreated(ctx context.Context, video models.Video) ([]jobs.TranscodeJob, error)
	VideoDeleted(ctx context.Context, video models.Video) error
}

// Upload is a file supplied with a new video.
type Upload struct {
	Filename string
	Content  io.Reader
}

// CreateInput describes a new catalog entry.
type CreateInput struct {
	Title       string
	Description string
	Category    models.Category
	Video       Upload
	Thumbnail   *Upload
}

// ValidationErrors maps a field name to its problems.
type ValidationErrors map[string][]string

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for field, msgs := range v {
		parts = append(parts, field+": "+strings.Join(msgs, ", "))
	}
	return "invalid video: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) add(field, msg string) {
	v[field] = append(v[field], msg)
}

// Config configures a Service.
type Config struct {
	Repository storage.Repository
	Dispatcher Dispatcher
	MediaRoot  string
	Logger     *slog.Logger
}

// Service is the only path through which the HTTP layer changes the catalog.
type Service struct {
	repo       storage.Repository
	dispatcher Dispatcher
	mediaRoot  string
	logger     *slog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	root, err := filepath.Abs(strings.TrimSpace(cfg.MediaRoot))
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: cfg.Repository, dispatcher: cfg.Dispatcher, mediaRoot: root, logger: logger}, nil
}

// MediaRoot returns the absolute media directory.
func (s *Service) MediaRoot() string { return s.mediaRoot }

func (s *Service) List(ctx context.Context) ([]models.Video, error) {
	return s.repo.ListVideos(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (models.Video, error) {
	video, err := s.repo.GetVideo(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Video{}, ErrNotFound
	}
	return video, err
}

// Validate checks the metadata and file names of input.
func Validate(input CreateInput) ValidationErrors {
	errs := ValidationErrors{}
	title := strings.TrimSpace(input.Title)
	switch {
	case title == "":
		errs.add("title", "This field may not be blank.")
	case utf8.RuneCountInString(title) > models.MaxTitleLength:
		errs.add("title", fmt.Sprintf("Ensure this field has no more than %d characters.", models.MaxTitleLength))
	}
	if _, ok := models.ParseCategory(string(input.Category)); !ok {
		errs.add("category", fmt.Sprintf("%q is not a valid choice.", string(input.Category)))
	}
	if input.Video.Content == nil || strings.TrimSpace(input.Video.Filename) == "" {
		errs.add("video_file", "No file was submitted.")
	} else if !videoExtensions[strings.ToLower(filepath.Ext(input.Video.Filename))] {
		errs.add("video_file", "Unsupported video format.")
	}
	if input.Thumbnail != nil && !thumbnailExtensions[strings.ToLower(filepath.Ext(input.Thumbnail.Filename))] {
		errs.add("thumbnail", "Upload a valid image.")
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Create stores the uploaded files, records the video and queues its
// transcodes. A queue failure is logged; the video is still returned.
func (s *Service) Create(ctx context.Context, input CreateInput) (models.Video, error) {
	if errs := Validate(input); errs != nil {
		return models.Video{}, errs
	}
	category, _ := models.ParseCategory(string(input.Category))

	sourcePath, err := s.store(VideosDir, input.Video)
	if err != nil {
		return models.Video{}, err
	}
	written := []string{sourcePath}
	cleanup := func() {
		for _, rel := range written {
			_ = os.Remove(s.abs(rel))
		}
	}
	var thumbnailPath string
	if input.Thumbnail != nil {
		thumbnailPath, err = s.store(ThumbnailsDir, *input.Thumbnail)
		if err != nil {
			cleanup()
			return models.Video{}, err
		}
		written = append(written, thumbnailPath)
	}

	video, err := s.repo.CreateVideo(ctx, storage.CreateVideoParams{
		Title:         strings.TrimSpace(input.Title),
		Description:   strings.TrimSpace(input.Description),
		Category:      category,
		SourcePath:    sourcePath,
		ThumbnailPath: thumbnailPath,
	})
	if err != nil {
		cleanup()
		return models.Video{}, fmt.Errorf("create video: %w", err)
	}

	if _, err := s.dispatcher.VideoCreated(ctx, video); err != nil {
		s.logger.Error("failed to queue transcodes", "video_id", video.ID, "error", err)
	}
	s.logger.Info("video created", "video_id", video.ID, "source", sourcePath)
	return video, nil
}

// Delete removes the record and then its source file.
func (s *Service) Delete(ctx context.Context, id int64) error {
	video, err := s.repo.DeleteVideo(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if err := s.dispatcher.VideoDeleted(ctx, video); err != nil {
		s.logger.Error("failed to remove video source", "video_id", id, "error", err)
	}
	s.logger.Info("video deleted", "video_id", id)
	return nil
}

// ThumbnailFile resolves a request path below /media/ to a file inside the
// thumbnails directory.
func (s *Service) ThumbnailFile(rel string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(rel))
	prefix := "/" + ThumbnailsDir + "/"
	if !strings.HasPrefix(clean, prefix) || strings.Contains(rel, "\\") {
		return "", ErrNotFound
	}
	full := filepath.Join(s.mediaRoot, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	base := filepath.Join(s.mediaRoot, ThumbnailsDir)
	inside, err := filepath.Rel(base, full)
	if err != nil || inside == "." || strings.HasPrefix(inside, "..") {
		return "", ErrNotFound
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return full, nil
}

func (s *Service) abs(rel string) string {
	return filepath.Join(s.mediaRoot, filepath.FromSlash(rel))
}

// store copies upload into dir under a collision-free name and returns the
// slash-separated path relative to the media root.
func (s *Service) store(dir string, upload Upload) (string, error) {
	if err := os.MkdirAll(filepath.Join(s.mediaRoot, dir), 0o755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", dir, err)
	}
	rel := path.Join(dir, uuid.NewString()[:8]+"_"+safeName(upload.Filename))
	target := s.abs(rel)
	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", rel, err)
	}
	if _, err := io.Copy(file, upload.Content); err != nil {
		file.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("close %s: %w", rel, err)
	}
	return rel, nil
}

func safeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.Trim(unsafeNameChars.ReplaceAllString(strings.TrimSuffix(base, filepath.Ext(base)), "_"), "._")
	if stem == "" {
		stem = "upload"
	}
	if len(stem) > 80 {
		stem = stem[:80]
	}
	return stem + ext
}
