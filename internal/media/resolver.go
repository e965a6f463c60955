package media

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// ManifestName is the playlist written for every (video, resolution).
	ManifestName = "index.m3u8"
	// SegmentPattern is the ffmpeg segment filename template.
	SegmentPattern = "segment_%03d.ts"
)

// Resolver maps (video, resolution, filename) triples onto the HLS output
// tree and refuses anything that would land outside its root.
type Resolver struct {
	root string
}

// NewResolver returns a Resolver rooted at the absolute form of root.
func NewResolver(root string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("hls root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve hls root: %w", err)
	}
	return &Resolver{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute HLS root.
func (r *Resolver) Root() string {
	return r.root
}

// Dir returns the output directory for one rendition.
func (r *Resolver) Dir(videoID int64, resolution string) string {
	return filepath.Join(r.root, strconv.FormatInt(videoID, 10), resolution)
}

// Resolve returns the absolute path of filename inside the rendition
// directory. Names containing a separator and paths escaping the root fail
// with ErrNotFound.
func (r *Resolver) Resolve(videoID int64, resolution, filename string) (string, error) {
	if strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("%w: unsafe filename %q", ErrNotFound, filename)
	}
	candidate, err := filepath.Abs(filepath.Join(r.Dir(videoID, resolution), filename))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !r.contains(candidate) {
		return "", fmt.Errorf("%w: %q escapes hls root", ErrNotFound, filename)
	}
	return candidate, nil
}

func (r *Resolver) contains(path string) bool {
	if path == r.root {
		return true
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
