package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/filesmanager/internal/model"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	return nil
}

func (m *mockUserRepo) Count(ctx context.Context) (int, error) {
	return 0, nil
}

type mockSessionRepo struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

// --- ヘルパー ---

func userWithPassword(t *testing.T, password string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &model.User{ID: "user-1", Email: "bob@dylan.com", PasswordHash: string(hash)}
}

// --- テスト ---

func TestService_Connect_IssuesSession(t *testing.T) {
	user := userWithPassword(t, "toto1234!")
	var saved *model.Session

	svc := NewService(
		&mockUserRepo{findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email == user.Email {
				return user, nil
			}
			return nil, nil
		}},
		&mockSessionRepo{createFn: func(ctx context.Context, session *model.Session) error {
			saved = session
			return nil
		}},
		ServiceConfig{SessionMaxAge: 86400},
	)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	session, err := svc.Connect(context.Background(), "bob@dylan.com", "toto1234!")
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if session.ID == "" || session.UserID != user.ID {
		t.Errorf("session = %+v", session)
	}
	if saved == nil || saved.ID != session.ID {
		t.Fatal("session was not persisted")
	}
	if want := fixed.Add(24 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}
}

func TestService_Connect_RejectsBadCredentials(t *testing.T) {
	user := userWithPassword(t, "toto1234!")
	svc := NewService(
		&mockUserRepo{findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email == user.Email {
				return user, nil
			}
			return nil, nil
		}},
		&mockSessionRepo{createFn: func(ctx context.Context, session *model.Session) error {
			t.Error("session must not be created")
			return nil
		}},
		ServiceConfig{SessionMaxAge: 60},
	)

	tests := []struct {
		name, email, password string
	}{
		{"パスワード不一致", "bob@dylan.com", "wrong"},
		{"未登録ユーザー", "nobody@example.com", "toto1234!"},
		{"空のメールアドレス", "", "toto1234!"},
		{"空のパスワード", "bob@dylan.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Connect(context.Background(), tt.email, tt.password)
			if !errors.Is(err, model.ErrUnauthenticated) {
				t.Errorf("err = %v, want UNAUTHORIZED", err)
			}
		})
	}
}

func TestService_Connect_SessionStoreFailure(t *testing.T) {
	user := userWithPassword(t, "pw")
	storeErr := errors.New("redis down")
	svc := NewService(
		&mockUserRepo{findByEmailFn: func(ctx context.Context, email string) (*model.User, error) { return user, nil }},
		&mockSessionRepo{createFn: func(ctx context.Context, session *model.Session) error { return storeErr }},
		ServiceConfig{SessionMaxAge: 60},
	)

	if _, err := svc.Connect(context.Background(), user.Email, "pw"); !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}

func TestService_Disconnect(t *testing.T) {
	deleted := ""
	sessions := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "tok" {
				return &model.Session{ID: id, UserID: "user-1"}, nil
			}
			return nil, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	svc := NewService(&mockUserRepo{}, sessions, ServiceConfig{})

	if err := svc.Disconnect(context.Background(), "tok"); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	if deleted != "tok" {
		t.Errorf("deleted = %q, want %q", deleted, "tok")
	}

	for _, token := range []string{"", "unknown"} {
		if err := svc.Disconnect(context.Background(), token); !errors.Is(err, model.ErrUnauthenticated) {
			t.Errorf("Disconnect(%q) = %v, want UNAUTHORIZED", token, err)
		}
	}
}
