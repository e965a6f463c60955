package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

// Runner executes an external command and returns its diagnostic output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec and returns captured stderr.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// EncodeError describes a failed encoder invocation.
type EncodeError struct {
	Stage  string
	Output string
	Err    error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *EncodeError) Unwrap() []error {
	return []error{ErrEncodeFailed, e.Err}
}

// TranscoderConfig configures a Transcoder.
type TranscoderConfig struct {
	FFmpegPath string
	Policy     *Policy
	Resolver   *Resolver
	Runner     Runner
	Logger     *slog.Logger
}

// Transcoder produces MP4 renditions and HLS playlists with ffmpeg.
type Transcoder struct {
	ffmpeg   string
	policy   *Policy
	resolver *Resolver
	runner   Runner
	logger   *slog.Logger
}

// NewTranscoder validates cfg and returns a Transcoder.
func NewTranscoder(cfg TranscoderConfig) (*Transcoder, error) {
	if cfg.Policy == nil {
		return nil, errors.New("resolution policy is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("hls resolver is required")
	}
	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		ffmpeg:   ffmpeg,
		policy:   cfg.Policy,
		resolver: cfg.Resolver,
		runner:   runner,
		logger:   logger,
	}, nil
}

// ToMP4 writes <base>_<resolution><ext> next to inputPath and returns its path.
// The output is overwritten in place.
func (t *Transcoder) ToMP4(ctx context.Context, inputPath, resolution string) (string, error) {
	height, err := t.policy.HeightFor(resolution)
	if err != nil {
		return "", err
	}
	label := normalizeLabel(resolution)
	ext := filepath.Ext(inputPath)
	output := strings.TrimSuffix(inputPath, ext) + "_" + label + ext

	args := []string{
		"-y", "-i", inputPath,
		"-vf", scaleFilter(height),
		"-c:v", "libx264", "-crf", "23",
		"-c:a", "aac", "-strict", "-2",
		output,
	}
	if err := t.run(ctx, "mp4 "+label, args); err != nil {
		return "", err
	}
	return output, nil
}

// ToHLS encodes inputPath into {root}/{videoID}/{resolution}/index.m3u8 plus
// segment_NNN.ts files and returns the manifest path. Partial output is left
// in place on failure.
func (t *Transcoder) ToHLS(ctx context.Context, videoID int64, inputPath, resolution string) (string, error) {
	height, err := t.policy.HeightFor(resolution)
	if err != nil {
		return "", err
	}
	label := normalizeLabel(resolution)
	dir := t.resolver.Dir(videoID, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create hls directory: %w", err)
	}
	manifest := filepath.Join(dir, ManifestName)

	args := []string{
		"-y", "-i", inputPath,
		"-vf", scaleFilter(height),
		"-c:v", "libx264", "-crf", "23",
		"-c:a", "aac",
		"-hls_time", "6",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(dir, SegmentPattern),
		manifest,
	}
	if err := t.run(ctx, "hls "+label, args); err != nil {
		return "", err
	}
	if err := verifyPlaylist(manifest); err != nil {
		return "", &EncodeError{Stage: "hls " + label, Err: err}
	}
	return manifest, nil
}

func (t *Transcoder) run(ctx context.Context, stage string, args []string) error {
	t.logger.Debug("running ffmpeg", "stage", stage, "args", strings.Join(args, " "))
	output, err := t.runner.Run(ctx, t.ffmpeg, args...)
	if err != nil {
		return &EncodeError{Stage: stage, Output: tail(string(output), 2048), Err: err}
	}
	return nil
}

// verifyPlaylist checks that ffmpeg produced a media playlist that
// references at least one segment.
func verifyPlaylist(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	playlist, listType, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if listType != m3u8.MEDIA {
		return errors.New("manifest is not a media playlist")
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || media.Count() == 0 {
		return errors.New("manifest has no segments")
	}
	return nil
}

func scaleFilter(height int) string {
	return "scale=-2:" + strconv.Itoa(height)
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
