// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/filesmanager/internal/model"
)

// ErrDuplicateEmail はメールアドレスのユニーク制約違反を表す。
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが登録済みの場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// Count は登録ユーザー数を返す。
	Count(ctx context.Context) (int, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。ExpiresAtを過ぎると自動的に失効する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定トークンのセッションを取得する。期限切れ・未登録の場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定トークンのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// FileRepository はファイルメタデータ（メタデータカタログ）の永続化インターフェース。
// IDが不正な形式の場合も「見つからない」として扱い、nilを返す。
type FileRepository interface {
	// FindByID は指定IDのレコードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.FileRecord, error)

	// FindByIDAndOwner は指定IDかつ所有者が一致するレコードを取得する。
	// 見つからない場合はnilを返す。
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.FileRecord, error)

	// ListByOwnerAndParent は所有者と親フォルダが一致するレコードを
	// offsetからlimit件返す。並び順はcreated_at, idの昇順。
	ListByOwnerAndParent(ctx context.Context, ownerID string, parent model.ParentRef, offset, limit int) ([]*model.FileRecord, error)

	// Create はレコードを作成する。
	Create(ctx context.Context, rec *model.FileRecord) error

	// UpdateVisibility は公開フラグを更新し、更新後のレコードを返す。
	// 見つからない場合はnilを返す。
	UpdateVisibility(ctx context.Context, id string, isPublic bool) (*model.FileRecord, error)

	// Count は登録レコード数を返す。
	Count(ctx context.Context) (int, error)
}
