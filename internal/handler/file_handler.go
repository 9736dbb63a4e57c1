package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/meetapp/internal/model"
)

// FileServiceInterface はファイルハンドラーが必要とするサービスインターフェース。
type FileServiceInterface interface {
	// Upload は画像を縮小して保存し、メタデータを返す。
	Upload(ctx context.Context, originalName string, r io.Reader) (*model.File, error)
	// Dir は保存先ディレクトリを返す。
	Dir() string
}

// FileHandler はバナー画像のアップロードと配信のHTTPハンドラー。
type FileHandler struct {
	service  FileServiceInterface
	baseURL  string
	maxBytes int64
}

// NewFileHandler はFileHandlerを生成する。
// maxBytesはmultipartボディ全体の上限で、画像の上限より余裕を持たせる。
func NewFileHandler(service FileServiceInterface, baseURL string, maxBytes int64) *FileHandler {
	return &FileHandler{
		service:  service,
		baseURL:  baseURL,
		maxBytes: maxBytes,
	}
}

const uploadFieldName = "file"

// Upload はmultipartのfileフィールドで送られたバナー画像を保存する。
// POST /files
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	part, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFileError("ファイルサイズが上限を超えています"))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFileError("fileフィールドがありません"))
		return
	}
	defer part.Close()

	f, err := h.service.Upload(r.Context(), header.Filename, part)
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	writeJSON(w, toFileResponse(f, h.baseURL))
}

// Serve は保存済みのバナー画像を配信する。
// GET /files/{path}
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "path")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, filepath.Join(h.service.Dir(), name))
}
