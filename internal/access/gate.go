// Package access はセッションと所有者・公開状態に基づくアクセス制御を提供する。
// すべてのファイル操作はこのGateを通して認可判定を行う。
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/filesmanager/internal/model"
)

// SessionFinder はセッション検索のインターフェース。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// Gate はステートレスな認可判定を行う。
type Gate struct {
	sessions SessionFinder
	now      func() time.Time
}

// NewGate はGateを生成する。
func NewGate(sessions SessionFinder) *Gate {
	return &Gate{sessions: sessions, now: time.Now}
}

// Authorize はトークンに対応するユーザーIDを返す。
// トークンが空・未登録・期限切れの場合はmodel.ErrUnauthenticatedに一致するエラーを返す。
// セッションストアの障害はラップしたインフラエラーとして返す。
func (g *Gate) Authorize(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", model.NewUnauthorizedError()
	}

	session, err := g.sessions.FindByID(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	if session == nil || session.UserID == "" {
		return "", model.NewUnauthorizedError()
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(g.now()) {
		return "", model.NewUnauthorizedError()
	}
	return session.UserID, nil
}

// AuthorizeVisibility は公開レコードなら無条件に許可し、
// 非公開レコードはトークンの所有者とレコードの所有者が一致する場合のみ許可する。
// 不許可の場合は未認証であっても常にNOT_FOUNDを返し、非公開レコードの存在を漏らさない。
func (g *Gate) AuthorizeVisibility(ctx context.Context, token string, rec *model.FileRecord) error {
	if rec == nil {
		return model.NewNotFoundError()
	}
	if rec.IsPublic {
		return nil
	}

	userID, err := g.Authorize(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			return model.NewNotFoundError()
		}
		return err
	}
	return g.RequireOwner(userID, rec)
}

// RequireOwner はuserIDがレコードの所有者であることを確認する。
// レコードが無い場合や所有者が異なる場合はNOT_FOUNDを返す。
func (g *Gate) RequireOwner(userID string, rec *model.FileRecord) error {
	if rec == nil || userID == "" || rec.OwnerID != userID {
		return model.NewNotFoundError()
	}
	return nil
}
