// Package user はユーザー登録と参照のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/filesmanager/internal/metrics"
	"github.com/hitoshi/filesmanager/internal/model"
	"github.com/hitoshi/filesmanager/internal/queue"
	"github.com/hitoshi/filesmanager/internal/repository"
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	enqueuer   queue.Enqueuer
	collector  metrics.MetricsCollector
	bcryptCost int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	enqueuer queue.Enqueuer,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		userRepo:   userRepo,
		enqueuer:   enqueuer,
		collector:  collector,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Register はユーザーを登録し、登録確定後にウェルカム通知ジョブを投入する。
// 投入に失敗しても登録は成功として扱う。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	if email == "" {
		return nil, model.NewMissingFieldError("email")
	}
	if password == "" {
		return nil, model.NewMissingFieldError("password")
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewAlreadyExistsError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// FindByEmailとCreateの間に同じメールアドレスが登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewAlreadyExistsError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
	)

	if _, err := s.enqueuer.Enqueue(ctx, model.QueueWelcome, model.WelcomeJobPayload{UserID: user.ID}); err != nil {
		s.collector.RecordEnqueueFailure(model.QueueWelcome)
		slog.Error("ウェルカム通知ジョブの投入に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.collector.RecordJobEnqueued(model.QueueWelcome)
	}

	return user, nil
}

// Me は指定IDのユーザーを返す。セッションが残っていてもユーザーが無ければUNAUTHORIZEDとする。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}
