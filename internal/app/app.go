package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/filesmanager/internal/access"
	"github.com/hitoshi/filesmanager/internal/auth"
	"github.com/hitoshi/filesmanager/internal/blob"
	"github.com/hitoshi/filesmanager/internal/config"
	"github.com/hitoshi/filesmanager/internal/database"
	"github.com/hitoshi/filesmanager/internal/file"
	"github.com/hitoshi/filesmanager/internal/handler"
	"github.com/hitoshi/filesmanager/internal/logger"
	"github.com/hitoshi/filesmanager/internal/metrics"
	"github.com/hitoshi/filesmanager/internal/middleware"
	"github.com/hitoshi/filesmanager/internal/model"
	"github.com/hitoshi/filesmanager/internal/queue"
	"github.com/hitoshi/filesmanager/internal/repository"
	"github.com/hitoshi/filesmanager/internal/user"
	"github.com/hitoshi/filesmanager/internal/worker/derivative"
	"github.com/hitoshi/filesmanager/internal/worker/notify"
)

// 起動時の疎通確認のタイムアウト
const connectTimeout = 5 * time.Second

// jobQueues はワーカーが消費するキューの一覧。
var jobQueues = []string{model.QueueDerivatives, model.QueueWelcome}

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "5000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("blob_backend", string(cfg.BlobBackend)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRequeue:
		return runRequeue(cfg)
	default:
		return runServe(cfg)
	}
}

// infra はserveとworkerで共有する外部接続。
type infra struct {
	db    *sql.DB
	redis *redis.Client
	blobs blob.Store
}

func (i *infra) Close() {
	if i.redis != nil {
		i.redis.Close()
	}
	if i.db != nil {
		i.db.Close()
	}
}

// openInfra はPostgreSQL、Redis、バイナリ保存先に接続する。
// いずれかに接続できない場合は開いた接続を閉じてエラーを返す。
func openInfra(ctx context.Context, cfg *config.Config) (*infra, error) {
	i := &infra{}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	i.db = db
	if err := database.Ping(ctx, db, connectTimeout); err != nil {
		i.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	rdb, err := database.OpenRedis(cfg.RedisURL)
	if err != nil {
		i.Close()
		return nil, fmt.Errorf("failed to open redis: %w", err)
	}
	i.redis = rdb
	if err := database.PingRedis(ctx, rdb, connectTimeout); err != nil {
		i.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		i.Close()
		return nil, err
	}
	i.blobs = blobs

	return i, nil
}

// openBlobStore はBLOB_BACKENDに応じたバイナリ保存先を返す。
func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendMinio:
		store, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open minio store: %w", err)
		}
		slog.Info("blob store ready", slog.String("backend", "minio"), slog.String("bucket", cfg.MinioBucket))
		return store, nil
	default:
		store, err := blob.NewLocalStore(cfg.FolderPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		slog.Info("blob store ready", slog.String("backend", "local"), slog.String("root", store.Root()))
		return store, nil
	}
}

func brokerConfig(cfg *config.Config) queue.RedisBrokerConfig {
	return queue.RedisBrokerConfig{
		MaxAttempts:       cfg.JobMaxAttempts,
		RetryBase:         cfg.JobRetryBase,
		RetryMax:          cfg.JobRetryMax,
		VisibilityTimeout: cfg.JobVisibilityTimeout,
	}
}

// newRegistry はプロセス標準のコレクタを登録したPrometheusレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB・Redis・バイナリ保存先に接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 外部接続
	inf, err := openInfra(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer inf.Close()

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(inf.db)
	fileRepo := repository.NewPostgresFileRepo(inf.db)
	sessionRepo := repository.NewRedisSessionRepo(inf.redis)

	// 3. ジョブキューとメトリクス
	broker := queue.NewRedisBroker(inf.redis, brokerConfig(cfg))
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	gate := access.NewGate(sessionRepo)
	fileService := file.NewService(
		fileRepo, inf.blobs, gate, broker, collector,
		logger.WithComponent(slog.Default(), "file"),
	)
	userService := user.NewService(userRepo, broker, collector)
	authService := auth.NewService(userRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitUpload),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Authorizer:        gate,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            logger.WithComponent(slog.Default(), "http"),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),

		FileService:   fileService,
		MaxUploadSize: cfg.MaxUploadSize,
		UserService:   userService,
		AuthService:   authService,

		RedisPinger: handler.PingFunc(func(ctx context.Context) error {
			return inf.redis.Ping(ctx).Err()
		}),
		DBPinger:    handler.PingFunc(inf.db.PingContext),
		UserCounter: userRepo,
		FileCounter: fileRepo,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 派生画像生成とウェルカム通知のコンシューマ、キューのメンテナンス、
// メトリクス専用サーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信すると新規ジョブの取り出しを止め、実行中のジョブの完了を待つ。
func runWorker(cfg *config.Config) error {
	// 1. 外部接続
	inf, err := openInfra(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer inf.Close()

	// 2. リポジトリ・キュー・メトリクスの初期化
	userRepo := repository.NewPostgresUserRepo(inf.db)
	fileRepo := repository.NewPostgresFileRepo(inf.db)
	broker := queue.NewRedisBroker(inf.redis, brokerConfig(cfg))
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. ジョブハンドラーとコンシューマの初期化
	consumerCfg := queue.ConsumerConfig{Concurrency: cfg.WorkerConcurrency}
	derivatives := queue.NewConsumer(
		broker, model.QueueDerivatives,
		derivative.NewHandler(fileRepo, inf.blobs, collector, logger.WithComponent(slog.Default(), "derivative")),
		logger.WithComponent(slog.Default(), "consumer"), collector, consumerCfg,
	)
	welcome := queue.NewConsumer(
		broker, model.QueueWelcome,
		notify.NewWelcomeHandler(userRepo, logger.WithComponent(slog.Default(), "welcome")),
		logger.WithComponent(slog.Default(), "consumer"), collector, consumerCfg,
	)
	consumers := []*queue.Consumer{derivatives, welcome}
	for _, c := range consumers {
		c.OnFailed(queue.LogFailure(slog.Default()))
	}

	maintainer := queue.NewMaintainer(
		broker, jobQueues,
		logger.WithComponent(slog.Default(), "queue-maintainer"), collector,
	)

	// 4. メトリクス専用サーバー
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metrics.SetupMetricsRoute(reg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("concurrency", consumerCfg.Concurrency),
		slog.Duration("maintenance_interval", cfg.QueueMaintenanceInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error { return c.Run(gctx) })
	}
	g.Go(func() error {
		maintainer.Start(gctx, cfg.QueueMaintenanceInterval)
		return nil
	})
	runErr := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runRequeue はデッドレターに移ったジョブを待機列に戻す。
// 派生画像が一部欠けたレコードの再処理などに使う。
func runRequeue(cfg *config.Config) error {
	rdb, err := database.OpenRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to open redis: %w", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	if err := database.PingRedis(ctx, rdb, connectTimeout); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	broker := queue.NewRedisBroker(rdb, brokerConfig(cfg))
	return requeueAll(ctx, broker, jobQueues)
}

// FailedRequeuer はデッドレターのジョブを戻す操作。
type FailedRequeuer interface {
	RequeueFailed(ctx context.Context, queue string) (int, error)
}

// requeueAll は各キューのデッドレターを待機列に戻す。
// 1つのキューで失敗しても残りのキューは処理し、最後にまとめてエラーを返す。
func requeueAll(ctx context.Context, requeuer FailedRequeuer, queues []string) error {
	var errs []error
	for _, q := range queues {
		n, err := requeuer.RequeueFailed(ctx, q)
		if err != nil {
			slog.Error("failed to requeue dead jobs",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("queue %s: %w", q, err))
			continue
		}
		slog.Info("requeued dead jobs",
			slog.String("queue", q),
			slog.Int("count", n),
		)
	}
	return errors.Join(errs...)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
