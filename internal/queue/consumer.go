package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hitoshi/filesmanager/internal/metrics"
)

// Handler は1件のジョブを処理する。
// Permanentでマークしたエラーを返すと再試行されない。
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc は関数をHandlerとして扱うアダプタ。
type HandlerFunc func(ctx context.Context, job *Job) error

// Handle はf(ctx, job)を呼び出す。
func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// FailureFunc はジョブ失敗時に呼ばれるコールバック。deadは再試行されないことを表す。
type FailureFunc func(job *Job, err error, dead bool)

// ConsumerConfig はConsumerの設定。
type ConsumerConfig struct {
	// Concurrency は同時に処理するジョブの最大数。
	Concurrency int
	// PollTimeout は1回のReserveでジョブを待つ最大時間。
	PollTimeout time.Duration
	// ErrorBackoff はReserve失敗時に次の試行まで待つ時間。
	ErrorBackoff time.Duration
}

// Consumer は1つのキューからジョブを取り出してHandlerを実行する。
// 取り出し → 実行 → Ack/Fail の明示的なループで動作し、
// semaphoreで同時実行数を制限しながらジョブごとにgoroutineを起動する。
type Consumer struct {
	broker   Broker
	queue    string
	handler  Handler
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	cfg      ConsumerConfig
	onFailed FailureFunc
}

// NewConsumer はConsumerを生成する。
// Concurrencyが0以下の場合は1、PollTimeoutが0以下の場合は5秒を使用する。
func NewConsumer(
	broker Broker,
	queue string,
	handler Handler,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	cfg ConsumerConfig,
) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		broker:  broker,
		queue:   queue,
		handler: handler,
		logger:  logger.With(slog.String("queue", queue)),
		metrics: collector,
		cfg:     cfg,
	}
}

// OnFailed はジョブ失敗時のコールバックを設定する。
func (c *Consumer) OnFailed(fn FailureFunc) {
	c.onFailed = fn
}

// Run はctxがキャンセルされるまでジョブを取り出して処理する。
// キャンセル後は新しいジョブを取り出さず、実行中のジョブの完了を待ってから戻る。
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("ジョブコンシューマを開始しました",
		slog.Int("concurrency", c.cfg.Concurrency),
	)

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		c.logger.Info("ジョブコンシューマを停止しました")
	}()

	// 実行中のジョブはシャットダウンで中断しない
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}: // semaphore取得
		}

		job, err := c.broker.Reserve(ctx, c.queue, c.cfg.PollTimeout)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("ジョブの取り出しに失敗しました",
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, c.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}
		if job == nil {
			<-sem
			continue
		}

		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			c.process(jobCtx, j)
		}(job)
	}
}

// process は1件のジョブを実行し、結果に応じてAckまたはFailを行う。
func (c *Consumer) process(ctx context.Context, job *Job) {
	start := time.Now()
	err := c.invoke(ctx, job)
	duration := time.Since(start)

	if err == nil {
		if ackErr := c.broker.Ack(ctx, job); ackErr != nil {
			c.logger.Error("ジョブの完了報告に失敗しました",
				slog.String("job_id", job.ID),
				slog.String("error", ackErr.Error()),
			)
			return
		}
		c.metrics.RecordJobCompleted(c.queue, duration)
		c.logger.Info("ジョブが完了しました",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts+1),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return
	}

	dead, failErr := c.broker.Fail(ctx, job, err)
	if failErr != nil {
		c.logger.Error("ジョブの失敗記録に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", failErr.Error()),
		)
	}
	c.metrics.RecordJobFailed(c.queue, dead)
	if c.onFailed != nil {
		c.onFailed(job, err, dead)
	}
}

// invoke はHandlerを実行する。panicはエラーに変換する。
func (c *Consumer) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("ジョブ処理中にpanicが発生しました",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.handler.Handle(ctx, job)
}

// LogFailure はジョブ失敗をログに記録するFailureFuncを返す。
func LogFailure(logger *slog.Logger) FailureFunc {
	return func(job *Job, err error, dead bool) {
		logger.Warn(fmt.Sprintf("Job %s failed with error %v", job.ID, err),
			slog.String("queue", job.Queue),
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Bool("dead", dead),
		)
	}
}

// sleepCtx はdだけ待機する。ctxがキャンセルされた場合はfalseを返す。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
