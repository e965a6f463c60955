// Package media holds the transcoding and HLS filesystem primitives: the
// resolution allow-list, the sandboxed path resolver for the HLS output tree
// and the ffmpeg-backed transcoder.
package media

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidResolution reports a label outside the allow-list or the
	// height table.
	ErrInvalidResolution = errors.New("invalid resolution")
	// ErrNotFound reports a disallowed, unsafe or missing HLS path. Callers
	// map it to a uniform 404.
	ErrNotFound = errors.New("not found")
	// ErrEncodeFailed reports an encoder failure.
	ErrEncodeFailed = errors.New("encode failed")
)

// DefaultResolutions is the allow-list used when none is configured.
var DefaultResolutions = []string{"120p", "360p", "720p", "1080p"}

var heights = map[string]int{
	"120p":  120,
	"360p":  360,
	"480p":  480,
	"720p":  720,
	"1080p": 1080,
}

// Policy validates resolution labels against a configured allow-list.
type Policy struct {
	ordered []string
	allowed map[string]struct{}
}

// NewPolicy builds a Policy from labels. Labels are trimmed and lower-cased,
// duplicates are dropped and an empty list selects DefaultResolutions.
func NewPolicy(labels []string) *Policy {
	p := &Policy{allowed: make(map[string]struct{})}
	for _, label := range labels {
		normalized := normalizeLabel(label)
		if normalized == "" {
			continue
		}
		if _, exists := p.allowed[normalized]; exists {
			continue
		}
		p.allowed[normalized] = struct{}{}
		p.ordered = append(p.ordered, normalized)
	}
	if len(p.ordered) == 0 {
		return NewPolicy(DefaultResolutions)
	}
	return p
}

// HeightFor returns the pixel height for an allow-listed label.
func (p *Policy) HeightFor(label string) (int, error) {
	normalized := normalizeLabel(label)
	if !p.Allowed(normalized) {
		return 0, fmt.Errorf("%w: %q is not allowed", ErrInvalidResolution, label)
	}
	height, ok := heights[normalized]
	if !ok {
		return 0, fmt.Errorf("%w: no height mapping for %q", ErrInvalidResolution, label)
	}
	return height, nil
}

// Allowed reports allow-list membership without consulting the height table.
func (p *Policy) Allowed(label string) bool {
	if p == nil {
		return false
	}
	_, ok := p.allowed[normalizeLabel(label)]
	return ok
}

// Resolutions returns the allow-list in configuration order.
func (p *Policy) Resolutions() []string {
	return append([]string(nil), p.ordered...)
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
