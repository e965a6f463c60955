// Package jobs moves transcode work from the catalog to the worker pool.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TranscodeJob asks a worker to produce one HLS rendition of a video.
type TranscodeJob struct {
	ID         string    `json:"id"`
	VideoID    int64     `json:"video_id"`
	InputPath  string    `json:"input_path"`
	Resolution string    `json:"resolution"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTranscodeJob stamps a job with a fresh id and the current time.
func NewTranscodeJob(videoID int64, inputPath, resolution string) TranscodeJob {
	return TranscodeJob{
		ID:         uuid.NewString(),
		VideoID:    videoID,
		InputPath:  inputPath,
		Resolution: resolution,
		EnqueuedAt: time.Now().UTC(),
	}
}

func (j TranscodeJob) validate() error {
	if j.VideoID <= 0 {
		return fmt.Errorf("job %s: video id required", j.ID)
	}
	if j.InputPath == "" {
		return fmt.Errorf("job %s: input path required", j.ID)
	}
	if j.Resolution == "" {
		return fmt.Errorf("job %s: resolution required", j.ID)
	}
	return nil
}

func encodeJob(job TranscodeJob) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return payload, nil
}

func decodeJob(payload []byte) (TranscodeJob, error) {
	var job TranscodeJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return TranscodeJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
