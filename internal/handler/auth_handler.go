package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/filesmanager/internal/middleware"
	"github.com/hitoshi/filesmanager/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Connect は認証情報を検証してセッションを発行する。
	Connect(ctx context.Context, email, password string) (*model.Session, error)
	// Disconnect はセッションを破棄する。
	Disconnect(ctx context.Context, token string) error
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Connect はBasic認証のemail:passwordでセッションを発行する。
// GET /connect
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	email, password, ok := r.BasicAuth()
	if !ok {
		handleServiceError(w, r, model.NewUnauthorizedError())
		return
	}

	session, err := h.service.Connect(r.Context(), email, password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: session.ID})
}

// Disconnect はX-Tokenのセッションを破棄する。
// GET /disconnect
func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Disconnect(r.Context(), middleware.TokenFromRequest(r)); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
