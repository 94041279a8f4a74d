package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger は依存先の疎通確認のインターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc は関数をPingerとして扱うアダプタ。
type PingFunc func(ctx context.Context) error

// Ping はf(ctx)を呼び出す。
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Counter は件数取得のインターフェース。
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// StatusHandler は稼働状況と統計情報のHTTPハンドラー。
type StatusHandler struct {
	redis   Pinger
	db      Pinger
	users   Counter
	files   Counter
	timeout time.Duration
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(redis, db Pinger, users, files Counter) *StatusHandler {
	return &StatusHandler{
		redis:   redis,
		db:      db,
		users:   users,
		files:   files,
		timeout: 2 * time.Second,
	}
}

type statusResponse struct {
	Redis bool `json:"redis"`
	DB    bool `json:"db"`
}

type statsResponse struct {
	Users int `json:"users"`
	Files int `json:"files"`
}

// Status はRedisとDBの疎通状況を返す。常に200を返す。
// GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var resp statusResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp.Redis = alive(gctx, "redis", h.redis)
		return nil
	})
	g.Go(func() error {
		resp.DB = alive(gctx, "db", h.db)
		return nil
	})
	_ = g.Wait()

	writeJSON(w, http.StatusOK, resp)
}

// Stats はユーザー数とファイル数を返す。
// GET /stats
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		n, err := h.users.Count(gctx)
		resp.Users = n
		return err
	})
	g.Go(func() error {
		n, err := h.files.Count(gctx)
		resp.Files = n
		return err
	})
	if err := g.Wait(); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health はプロセスとDBの稼働を確認する。Dockerのヘルスチェックから呼ばれる。
// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if !alive(ctx, "db", h.db) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func alive(ctx context.Context, name string, p Pinger) bool {
	if p == nil {
		return false
	}
	if err := p.Ping(ctx); err != nil {
		slog.Warn("dependency is not reachable",
			slog.String("dependency", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
