// Package notify はユーザー登録時のウェルカム通知ジョブを処理する。
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/filesmanager/internal/model"
	"github.com/hitoshi/filesmanager/internal/queue"
)

// UserFinder はユーザー検索のインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// WelcomeHandler はウェルカム通知ジョブを処理する。
// 通知の送信先は現状ログのみ。
type WelcomeHandler struct {
	users  UserFinder
	logger *slog.Logger
}

// NewWelcomeHandler はWelcomeHandlerを生成する。
func NewWelcomeHandler(users UserFinder, logger *slog.Logger) *WelcomeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WelcomeHandler{users: users, logger: logger}
}

var _ queue.Handler = (*WelcomeHandler)(nil)

// Handle はユーザーを確認してウェルカムメッセージを記録する。
// userIdが無い場合やユーザーが削除済みの場合は再試行しない失敗として報告する。
func (h *WelcomeHandler) Handle(ctx context.Context, job *queue.Job) error {
	var payload model.WelcomeJobPayload
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(err)
	}
	if payload.UserID == "" {
		return queue.Permanent(errors.New("missing userId"))
	}

	user, err := h.users.FindByID(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("failed to find user %s: %w", payload.UserID, err)
	}
	if user == nil {
		return queue.Permanent(errors.New("user not found"))
	}

	h.logger.Info(fmt.Sprintf("Welcome %s!", user.Email),
		slog.String("user_id", user.ID),
	)
	return nil
}
