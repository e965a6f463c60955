package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"time"

	"videoflix/internal/catalog"
	"videoflix/internal/models"

	"github.com/gorilla/mux"
)

const (
	maxUploadBytes     = 4 << 30
	multipartMemoryCap = 32 << 20
)

type videoResponse struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Category     string    `json:"category"`
}

func (h *Handler) videoResponse(video models.Video) videoResponse {
	return videoResponse{
		ID:           video.ID,
		CreatedAt:    video.CreatedAt,
		Title:        video.Title,
		Description:  video.Description,
		ThumbnailURL: h.thumbnailURL(video.ThumbnailPath),
		Category:     string(video.Category),
	}
}

func (h *Handler) thumbnailURL(rel string) string {
	if rel == "" {
		return ""
	}
	return h.publicURL + path.Join("/media", rel)
}

func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.catalog.List(r.Context())
	if err != nil {
		h.logger.Error("list videos", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	items := make([]videoResponse, 0, len(videos))
	for _, video := range videos {
		items = append(items, h.videoResponse(video))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireStaff(w, r); !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryCap); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "Upload too large.")
			return
		}
		writeDetail(w, http.StatusBadRequest, "Multipart form parse error.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	input := catalog.CreateInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    models.Category(r.FormValue("category")),
	}
	if file, header, err := r.FormFile("video_file"); err == nil {
		defer file.Close()
		input.Video = uploadFrom(file, header)
	}
	if file, header, err := r.FormFile("thumbnail"); err == nil {
		defer file.Close()
		thumb := uploadFrom(file, header)
		input.Thumbnail = &thumb
	}

	video, err := h.catalog.Create(r.Context(), input)
	var invalid catalog.ValidationErrors
	switch {
	case errors.As(err, &invalid):
		writeFieldErrors(w, fieldErrors(invalid))
		return
	case err != nil:
		h.logger.Error("create video", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	writeJSON(w, http.StatusCreated, h.videoResponse(video))
}

func uploadFrom(file multipart.File, header *multipart.FileHeader) catalog.Upload {
	return catalog.Upload{Filename: header.Filename, Content: file}
}

func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireStaff(w, r); !ok {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeNotFound(w)
		return
	}
	err = h.catalog.Delete(r.Context(), id)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeNotFound(w)
	case err != nil:
		h.logger.Error("delete video", "video_id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
