package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/filesmanager/internal/metrics"
)

// Maintainer はキューの定期メンテナンスジョブ。
// 再試行時刻に達した遅延ジョブの再投入、リース切れジョブの回収、
// キュー長のメトリクス更新を一定間隔で行う。各処理は冪等。
type Maintainer struct {
	broker  MaintenanceBroker
	queues  []string
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewMaintainer はMaintainerを生成する。
func NewMaintainer(broker MaintenanceBroker, queues []string, logger *slog.Logger, collector metrics.MetricsCollector) *Maintainer {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{
		broker:  broker,
		queues:  queues,
		logger:  logger,
		metrics: collector,
	}
}

// Start はinterval間隔でRunOnceを実行する。ctxがキャンセルされるまで戻らない。
func (m *Maintainer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 起動直後に1回実行
	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce は全キューに対してメンテナンスを1回実行する。
// 1つのキューで失敗しても他のキューの処理は継続する。
func (m *Maintainer) RunOnce(ctx context.Context) {
	for _, q := range m.queues {
		if ctx.Err() != nil {
			return
		}

		promoted, err := m.broker.PromoteDue(ctx, q)
		if err != nil {
			m.logger.Error("遅延ジョブの再投入に失敗しました",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
		}

		requeued, err := m.broker.RequeueExpired(ctx, q)
		if err != nil {
			m.logger.Error("リース切れジョブの回収に失敗しました",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
		}

		if promoted > 0 || requeued > 0 {
			m.logger.Info("キューのメンテナンスを実行しました",
				slog.String("queue", q),
				slog.Int("promoted", promoted),
				slog.Int("requeued", requeued),
			)
		}

		stats, err := m.broker.Stats(ctx, q)
		if err != nil {
			m.logger.Error("キュー統計の取得に失敗しました",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.metrics.SetQueueDepth(q, "pending", stats.Pending)
		m.metrics.SetQueueDepth(q, "processing", stats.Processing)
		m.metrics.SetQueueDepth(q, "delayed", stats.Delayed)
		m.metrics.SetQueueDepth(q, "failed", stats.Failed)
	}
}
