// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, file, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致するAPIErrorを同一とみなす。
// errors.Is(err, model.ErrNotFound) のような比較に使う。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeMissingField   = "MISSING_FIELD"
	ErrCodeInvalidParent  = "INVALID_PARENT"
	ErrCodeNotAFolder     = "NOT_A_FOLDER"
	ErrCodeInvalidSize    = "INVALID_SIZE"
	ErrCodeNoContent      = "NO_CONTENT"
	ErrCodeAlreadyExists  = "ALREADY_EXISTS"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeTooLarge       = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// 比較用の番兵エラー。メッセージは比較に使われない。
var (
	ErrUnauthenticated = &APIError{Code: ErrCodeUnauthorized}
	ErrNotFound        = &APIError{Code: ErrCodeNotFound}
	ErrMissingField    = &APIError{Code: ErrCodeMissingField}
	ErrInvalidParent   = &APIError{Code: ErrCodeInvalidParent}
	ErrNotAFolder      = &APIError{Code: ErrCodeNotAFolder}
	ErrInvalidSize     = &APIError{Code: ErrCodeInvalidSize}
	ErrNoContent       = &APIError{Code: ErrCodeNoContent}
	ErrAlreadyExists   = &APIError{Code: ErrCodeAlreadyExists}
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
// 非公開リソースへの権限不足もこのエラーで表し、存在を漏らさない。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "Not found",
		Category: "file",
		Action:   "IDを確認してください。",
	}
}

// NewMissingFieldError は必須フィールド欠落エラーを生成する。
// fieldにはname、type、data、email、passwordなどを指定する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("Missing %s", field),
		Category: "validation",
		Action:   fmt.Sprintf("%s を指定してください。", field),
	}
}

// NewInvalidParentError は親フォルダが存在しない場合のエラーを生成する。
func NewInvalidParentError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParent,
		Message:  "Parent not found",
		Category: "validation",
		Action:   "parentIdに既存のフォルダのIDを指定してください。",
	}
}

// NewNotAFolderError は親がフォルダでない場合のエラーを生成する。
func NewNotAFolderError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAFolder,
		Message:  "Parent is not a folder",
		Category: "validation",
		Action:   "parentIdにはフォルダのIDを指定してください。",
	}
}

// NewInvalidSizeError は派生画像サイズが不正な場合のエラーを生成する。
func NewInvalidSizeError(size string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSize,
		Message:  fmt.Sprintf("Invalid size: %s", size),
		Category: "validation",
		Action:   "sizeには 100、250、500 のいずれかを指定してください。",
	}
}

// NewNoContentError はフォルダの中身を要求された場合のエラーを生成する。
func NewNoContentError() *APIError {
	return &APIError{
		Code:     ErrCodeNoContent,
		Message:  "A folder doesn't have content",
		Category: "file",
		Action:   "ファイルまたは画像のIDを指定してください。",
	}
}

// NewAlreadyExistsError はメールアドレスが登録済みの場合のエラーを生成する。
func NewAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyExists,
		Message:  "Already exist",
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewTooLargeError はアップロードサイズ超過エラーを生成する。
func NewTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeTooLarge,
		Message:  fmt.Sprintf("Payload too large (max %d bytes)", limit),
		Category: "validation",
		Action:   "ファイルサイズを小さくしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、レスポンスには含めない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
