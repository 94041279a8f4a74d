package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/filesmanager/internal/file"
	"github.com/hitoshi/filesmanager/internal/middleware"
	"github.com/hitoshi/filesmanager/internal/model"
)

// FileServiceInterface はファイルハンドラーが必要とするサービスインターフェース。
type FileServiceInterface interface {
	Create(ctx context.Context, userID string, in file.CreateInput) (*model.FileRecord, error)
	Get(ctx context.Context, userID, id string) (*model.FileRecord, error)
	List(ctx context.Context, userID string, parent model.ParentRef, page, pageSize int) ([]*model.FileRecord, error)
	SetVisibility(ctx context.Context, userID, id string, isPublic bool) (*model.FileRecord, error)
	ReadContent(ctx context.Context, token, id string, size *int) (*file.Content, error)
}

// FileHandler はファイル管理のHTTPハンドラー。
type FileHandler struct {
	service       FileServiceInterface
	maxUploadSize int64
}

// NewFileHandler はFileHandlerを生成する。
// maxUploadSizeはデコード後のバイト数の上限。0以下の場合は制限しない。
func NewFileHandler(service FileServiceInterface, maxUploadSize int64) *FileHandler {
	return &FileHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
	}
}

// createFileRequest はファイル登録リクエストのボディ。
// dataはBase64エンコードされた本体。
type createFileRequest struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	ParentID model.ParentRef `json:"parentId"`
	IsPublic bool            `json:"isPublic"`
	Data     string          `json:"data"`
}

// fileResponse はファイルレコードのAPIレスポンス。parentIdはルートの場合0になる。
type fileResponse struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId"`
	Name     string          `json:"name"`
	Type     model.FileKind  `json:"type"`
	IsPublic bool            `json:"isPublic"`
	ParentID model.ParentRef `json:"parentId"`
}

func toFileResponse(rec *model.FileRecord) fileResponse {
	return fileResponse{
		ID:       rec.ID,
		UserID:   rec.OwnerID,
		Name:     rec.Name,
		Type:     rec.Kind,
		IsPublic: rec.IsPublic,
		ParentID: rec.Parent,
	}
}

// Create はファイルまたはフォルダを登録する。
// POST /files
func (h *FileHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if h.maxUploadSize > 0 {
		// Base64は4/3倍に膨らむため、その分とJSONの余白を見込む
		limit := int64(base64.StdEncoding.EncodedLen(int(h.maxUploadSize))) + 64<<10
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	var req createFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handleServiceError(w, r, model.NewTooLargeError(h.maxUploadSize))
			return
		}
		handleServiceError(w, r, model.NewInvalidRequestError())
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		handleServiceError(w, r, model.NewInvalidRequestError())
		return
	}
	if h.maxUploadSize > 0 && int64(len(data)) > h.maxUploadSize {
		handleServiceError(w, r, model.NewTooLargeError(h.maxUploadSize))
		return
	}

	rec, err := h.service.Create(r.Context(), userID, file.CreateInput{
		Name:     req.Name,
		Type:     req.Type,
		Parent:   req.ParentID,
		IsPublic: req.IsPublic,
		Data:     data,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(rec))
}

// Get はレコードを返す。
// GET /files/{id}
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	rec, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// List は指定フォルダ直下のレコードを返す。
// GET /files?parentId=&page=
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	parent := model.ParseParentRef(q.Get("parentId"))
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil {
		page = 0
	}

	recs, err := h.service.List(r.Context(), userID, parent, page, file.DefaultPageSize)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]fileResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, toFileResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Publish はレコードを公開する。
// PUT /files/{id}/publish
func (h *FileHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.setVisibility(w, r, true)
}

// Unpublish はレコードを非公開にする。
// PUT /files/{id}/unpublish
func (h *FileHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	h.setVisibility(w, r, false)
}

func (h *FileHandler) setVisibility(w http.ResponseWriter, r *http.Request, isPublic bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	rec, err := h.service.SetVisibility(r.Context(), userID, chi.URLParam(r, "id"), isPublic)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// Data はファイル本体を返す。公開ファイルはトークン無しで読み出せる。
// GET /files/{id}/data?size=
func (h *FileHandler) Data(w http.ResponseWriter, r *http.Request) {
	var size *int
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleServiceError(w, r, model.NewInvalidSizeError(raw))
			return
		}
		size = &n
	}

	content, err := h.service.ReadContent(r.Context(), middleware.TokenFromRequest(r), chi.URLParam(r, "id"), size)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content.Data)))
	w.WriteHeader(http.StatusOK)
	if n, err := w.Write(content.Data); err != nil {
		slog.Error("failed to write file content",
			slog.String("file_id", chi.URLParam(r, "id")),
			slog.Int("written", n),
			slog.Int("size", len(content.Data)),
			slog.String("error", err.Error()),
		)
	}
}
