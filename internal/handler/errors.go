// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/filesmanager/internal/middleware"
	"github.com/hitoshi/filesmanager/internal/model"
)

// statusByCode はAPIErrorコードとHTTPステータスコードの対応表。
// 表に無いコードは500として扱う。
var statusByCode = map[string]int{
	model.ErrCodeUnauthorized:   http.StatusUnauthorized,
	model.ErrCodeNotFound:       http.StatusNotFound,
	model.ErrCodeMissingField:   http.StatusBadRequest,
	model.ErrCodeInvalidParent:  http.StatusBadRequest,
	model.ErrCodeNotAFolder:     http.StatusBadRequest,
	model.ErrCodeInvalidSize:    http.StatusBadRequest,
	model.ErrCodeNoContent:      http.StatusBadRequest,
	model.ErrCodeAlreadyExists:  http.StatusBadRequest,
	model.ErrCodeInvalidRequest: http.StatusBadRequest,
	model.ErrCodeTooLarge:       http.StatusRequestEntityTooLarge,
	model.ErrCodeRateLimited:    http.StatusTooManyRequests,
	model.ErrCodeInternal:       http.StatusInternalServerError,
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外のエラーはログに記録し、詳細を含まない500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// requireUserID はセッションミドルウェアが注入したユーザーIDを返す。
// 見つからない場合は401を書き込み、falseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}
