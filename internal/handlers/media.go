package handlers

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

// MediaReader opens stored objects by key.
type MediaReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// MediaHandler streams objects from a bucket backend so media can be served
// through the API when the bucket is not public.
type MediaHandler struct {
	media  MediaReader
	logger *slog.Logger
}

func NewMediaHandler(media MediaReader, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{media: media, logger: logger}
}

// MediaRouter registers the media proxy on the given router.
func MediaRouter(r chi.Router, handler *MediaHandler) {
	r.Get("/*", handler.Get)
}

// Get streams the object named by the wildcard path.
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
	if key == "" || key == "." {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, err := h.media.Get(r.Context(), key)
	if err != nil {
		h.logger.InfoContext(r.Context(), "media lookup failed", "key", key, "error", err)
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer body.Close()

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "media stream interrupted", "key", key, "error", err)
	}
}
