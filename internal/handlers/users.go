package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mytube/apiserver/internal/auth"
	"github.com/mytube/apiserver/internal/services"
)

const (
	maxMultipartMemory = 8 << 20
	maxUploadBytes     = 64 << 20
	formFieldFullName  = "fullname"
	formFieldEmail     = "email"
	formFieldUsername  = "username"
	formFieldPassword  = "password"
	formFieldAvatar    = "avatar"
	formFieldCover     = "coverImage"
)

// UserHandler provides account registration and profile endpoints.
type UserHandler struct {
	registration *services.RegistrationService
	users        *services.UserService
	tempDir      string
	logger       *slog.Logger
}

// NewUserHandler constructs a UserHandler. Uploaded files are spooled to
// tempDir, or the OS temp directory when it is empty.
func NewUserHandler(
	registration *services.RegistrationService,
	users *services.UserService,
	tempDir string,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		registration: registration,
		users:        users,
		tempDir:      tempDir,
		logger:       logger,
	}
}

// UserRouter registers account and session routes on the given router.
func UserRouter(
	r chi.Router,
	users *UserHandler,
	sessions *AuthHandler,
	authMiddleware func(http.Handler) http.Handler,
) {
	r.Post("/register", users.Register)
	r.Post("/login", sessions.Login)
	r.Post("/refresh-token", sessions.Refresh)
	r.With(authMiddleware).Post("/logout", sessions.Logout)
	r.With(authMiddleware).Get("/me", users.Me)
}

// Register creates an account from a multipart form with an avatar and an
// optional cover image.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	var spooled []string
	defer func() {
		for _, p := range spooled {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				h.logger.WarnContext(r.Context(), "remove spooled upload failed", "path", p, "error", err)
			}
		}
	}()

	var files services.RegisterFiles
	for field, dst := range map[string]*string{
		formFieldAvatar: &files.AvatarPath,
		formFieldCover:  &files.CoverImagePath,
	} {
		localPath, err := h.spool(r.MultipartForm, field)
		if err != nil {
			status := http.StatusBadRequest
			var serr *spoolError
			if errors.As(err, &serr) && serr.server {
				status = http.StatusInternalServerError
				h.logger.ErrorContext(r.Context(), "spool upload failed", "field", field, "error", serr.err)
			}
			writeError(w, status, err.Error())
			return
		}
		if localPath != "" {
			spooled = append(spooled, localPath)
			*dst = localPath
		}
	}

	user, err := h.registration.Register(r.Context(), services.RegisterInput{
		FullName: r.FormValue(formFieldFullName),
		Email:    r.FormValue(formFieldEmail),
		Username: r.FormValue(formFieldUsername),
		Password: r.FormValue(formFieldPassword),
	}, files)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Me returns the current authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.SubjectFromContext(r.Context())
	if err != nil {
		Unauthorized(w, r)
		return
	}

	user, err := h.users.Profile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// spoolError is a failure to stage an uploaded file. server marks failures
// of the local filesystem rather than of the request.
type spoolError struct {
	msg    string
	server bool
	err    error
}

func (e *spoolError) Error() string { return e.msg }

func (e *spoolError) Unwrap() error { return e.err }

func storeFailed(field string, err error) error {
	return &spoolError{msg: fmt.Sprintf("failed to store %s file", field), server: true, err: err}
}

// spool copies the single file in field to a local temp file and returns its
// path. A missing field yields an empty path.
func (h *UserHandler) spool(form *multipart.Form, field string) (string, error) {
	if form == nil {
		return "", &spoolError{msg: "missing form data"}
	}

	headers := form.File[field]
	if len(headers) == 0 {
		return "", nil
	}
	if len(headers) > 1 {
		return "", &spoolError{msg: fmt.Sprintf("only one %s file is allowed", field)}
	}

	src, err := headers[0].Open()
	if err != nil {
		return "", &spoolError{msg: fmt.Sprintf("failed to read %s file", field), server: true, err: err}
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.tempDir, "upload-*"+safeExt(headers[0].Filename))
	if err != nil {
		return "", storeFailed(field, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", storeFailed(field, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", storeFailed(field, err)
	}
	return dst.Name(), nil
}

// safeExt keeps a short alphanumeric extension from a client file name.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
