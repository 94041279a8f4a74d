package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBrokerConfig はRedisBrokerの挙動設定。
type RedisBrokerConfig struct {
	// MaxAttempts はデッドレターへ移すまでの最大試行回数。
	MaxAttempts int
	// RetryBase は再試行の初回遅延。
	RetryBase time.Duration
	// RetryMax は再試行遅延の上限。
	RetryMax time.Duration
	// VisibilityTimeout は処理中ジョブのリース期間。超過すると再投入される。
	VisibilityTimeout time.Duration
}

// DefaultRedisBrokerConfig はデフォルト設定を返す。
func DefaultRedisBrokerConfig() RedisBrokerConfig {
	return RedisBrokerConfig{
		MaxAttempts:       3,
		RetryBase:         DefaultRetryBase,
		RetryMax:          DefaultRetryMax,
		VisibilityTimeout: 5 * time.Minute,
	}
}

// RedisBroker はRedisのリストとソート済みセットで実装したジョブキュー。
//
// キー構成（<q>はキュー名）:
//
//	queue:<q>:pending        待機列（LPUSHで投入、右端から取り出す）
//	queue:<q>:processing     処理中リスト
//	queue:<q>:delayed        再試行待ち（スコア=再試行時刻のUnixミリ秒）
//	queue:<q>:failed         デッドレター
//	queue:<q>:lease:<jobID>  処理中ジョブのリース（TTL=VisibilityTimeout）
type RedisBroker struct {
	client redis.Cmdable
	cfg    RedisBrokerConfig
	now    func() time.Time

	mu sync.Mutex
	// orphans はリースの無い処理中ジョブを前回の走査で見つけたもの。
	// 取り出し直後でリース設定前のジョブを誤って戻さないよう、2回連続で見つかった場合のみ戻す。
	orphans map[string]map[string]struct{}
}

// NewRedisBroker はRedisBrokerを生成する。
func NewRedisBroker(client redis.Cmdable, cfg RedisBrokerConfig) *RedisBroker {
	def := DefaultRedisBrokerConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = def.VisibilityTimeout
	}
	return &RedisBroker{
		client:  client,
		cfg:     cfg,
		now:     time.Now,
		orphans: make(map[string]map[string]struct{}),
	}
}

func pendingKey(queue string) string    { return "queue:" + queue + ":pending" }
func processingKey(queue string) string { return "queue:" + queue + ":processing" }
func delayedKey(queue string) string    { return "queue:" + queue + ":delayed" }
func failedKey(queue string) string     { return "queue:" + queue + ":failed" }
func leaseKey(queue, id string) string  { return "queue:" + queue + ":lease:" + id }

// Enqueue はpayloadをJSONにエンコードしてqueueの待機列に投入する。
func (b *RedisBroker) Enqueue(ctx context.Context, queue string, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	job := &Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    data,
		EnqueuedAt: b.now().UTC(),
	}
	raw, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	if err := b.client.LPush(ctx, pendingKey(queue), raw).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job to %s: %w", queue, err)
	}
	job.raw = raw
	return job, nil
}

// Reserve は待機列の右端から1件を処理中リストへ移し、リースを設定する。
// waitの間にジョブが無ければnil, nilを返す。
func (b *RedisBroker) Reserve(ctx context.Context, queue string, wait time.Duration) (*Job, error) {
	raw, err := b.client.BLMove(ctx, pendingKey(queue), processingKey(queue), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve job from %s: %w", queue, err)
	}

	job, decErr := decodeJob(raw)
	if decErr != nil {
		// 解析できないジョブはデッドレターへ移す
		_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, processingKey(queue), 1, raw)
			pipe.LPush(ctx, failedKey(queue), raw)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to move malformed job to dead letter: %w", err)
		}
		return nil, decErr
	}
	job.Queue = queue

	if err := b.client.Set(ctx, leaseKey(queue, job.ID), "1", b.cfg.VisibilityTimeout).Err(); err != nil {
		return nil, fmt.Errorf("failed to set lease for job %s: %w", job.ID, err)
	}
	return job, nil
}

// Ack は処理完了したジョブを処理中リストから取り除き、リースを削除する。
func (b *RedisBroker) Ack(ctx context.Context, job *Job) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey(job.Queue), 1, job.raw)
		pipe.Del(ctx, leaseKey(job.Queue, job.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return nil
}

// Fail は試行回数とエラーを記録する。
// 再試行不要の失敗、または最大試行回数に達した場合はデッドレターへ移し、
// それ以外は指数バックオフ後の時刻で遅延セットに入れる。
func (b *RedisBroker) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	prevRaw := job.raw

	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	raw, err := encodeJob(job)
	if err != nil {
		return false, err
	}

	dead := IsPermanent(cause) || job.Attempts >= b.cfg.MaxAttempts
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey(job.Queue), 1, prevRaw)
		pipe.Del(ctx, leaseKey(job.Queue, job.ID))
		if dead {
			pipe.LPush(ctx, failedKey(job.Queue), raw)
			return nil
		}
		delay := CalculateBackoff(job.Attempts-1, b.cfg.RetryBase, b.cfg.RetryMax)
		pipe.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
			Score:  float64(b.now().Add(delay).UnixMilli()),
			Member: raw,
		})
		return nil
	})
	if err != nil {
		return dead, fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)
	}
	job.raw = raw
	return dead, nil
}

// PromoteDue は再試行時刻に達した遅延ジョブを待機列へ戻す。
// ZREMに成功したプロセスだけが投入するため、複数ワーカーから呼ばれても重複しない。
func (b *RedisBroker) PromoteDue(ctx context.Context, queue string) (int, error) {
	due, err := b.client.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(b.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list due jobs of %s: %w", queue, err)
	}

	promoted := 0
	for _, raw := range due {
		removed, err := b.client.ZRem(ctx, delayedKey(queue), raw).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to remove due job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, pendingKey(queue), raw).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote due job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// errLeaseExpired はリース切れで回収したジョブに記録するエラー。
var errLeaseExpired = errors.New("lease expired")

// RequeueExpired はリースの切れた処理中ジョブを待機列の取り出し側へ戻す。
// 回収も1回の試行として数え、最大試行回数に達したジョブはデッドレターへ移す。
func (b *RedisBroker) RequeueExpired(ctx context.Context, queue string) (int, error) {
	items, err := b.client.LRange(ctx, processingKey(queue), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs of %s: %w", queue, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.orphans[queue]
	next := make(map[string]struct{})
	requeued := 0

	for _, raw := range items {
		job, err := decodeJob(raw)
		if err != nil {
			if _, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LRem(ctx, processingKey(queue), 1, raw)
				pipe.LPush(ctx, failedKey(queue), raw)
				return nil
			}); err != nil {
				return requeued, fmt.Errorf("failed to move malformed job to dead letter: %w", err)
			}
			continue
		}

		leased, err := b.client.Exists(ctx, leaseKey(queue, job.ID)).Result()
		if err != nil {
			return requeued, fmt.Errorf("failed to check lease of job %s: %w", job.ID, err)
		}
		if leased > 0 {
			continue
		}
		if _, seen := prev[job.ID]; !seen {
			next[job.ID] = struct{}{}
			continue
		}

		removed, err := b.client.LRem(ctx, processingKey(queue), 1, raw).Result()
		if err != nil {
			return requeued, fmt.Errorf("failed to remove expired job %s: %w", job.ID, err)
		}
		if removed == 0 {
			continue
		}

		job.Attempts++
		job.LastError = errLeaseExpired.Error()
		retry, err := encodeJob(job)
		if err != nil {
			retry = raw
		}
		if job.Attempts >= b.cfg.MaxAttempts {
			if err := b.client.LPush(ctx, failedKey(queue), retry).Err(); err != nil {
				return requeued, fmt.Errorf("failed to dead-letter expired job %s: %w", job.ID, err)
			}
			continue
		}
		if err := b.client.RPush(ctx, pendingKey(queue), retry).Err(); err != nil {
			return requeued, fmt.Errorf("failed to requeue expired job %s: %w", job.ID, err)
		}
		requeued++
	}

	b.orphans[queue] = next
	return requeued, nil
}

// RequeueFailed はデッドレターのジョブを試行回数をリセットして待機列へ戻す。
// 解析できないジョブはデッドレターに残す。
func (b *RedisBroker) RequeueFailed(ctx context.Context, queue string) (int, error) {
	var malformed []string
	requeued := 0

	for {
		raw, err := b.client.RPop(ctx, failedKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return requeued, fmt.Errorf("failed to pop dead letter of %s: %w", queue, err)
		}

		job, err := decodeJob(raw)
		if err != nil {
			malformed = append(malformed, raw)
			continue
		}
		job.Attempts = 0
		job.LastError = ""
		fresh, err := encodeJob(job)
		if err != nil {
			malformed = append(malformed, raw)
			continue
		}
		if err := b.client.LPush(ctx, pendingKey(queue), fresh).Err(); err != nil {
			return requeued, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		requeued++
	}

	if len(malformed) > 0 {
		args := make([]any, len(malformed))
		for i, raw := range malformed {
			args[i] = raw
		}
		if err := b.client.LPush(ctx, failedKey(queue), args...).Err(); err != nil {
			return requeued, fmt.Errorf("failed to restore malformed dead letters: %w", err)
		}
	}
	return requeued, nil
}

// Stats はキュー内のジョブ数を返す。
func (b *RedisBroker) Stats(ctx context.Context, queue string) (Stats, error) {
	var pending, processing, delayed, failed *redis.IntCmd
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, pendingKey(queue))
		processing = pipe.LLen(ctx, processingKey(queue))
		delayed = pipe.ZCard(ctx, delayedKey(queue))
		failed = pipe.LLen(ctx, failedKey(queue))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats of %s: %w", queue, err)
	}
	return Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Failed:     failed.Val(),
	}, nil
}

// compile-time interface check
var (
	_ Enqueuer          = (*RedisBroker)(nil)
	_ Broker            = (*RedisBroker)(nil)
	_ MaintenanceBroker = (*RedisBroker)(nil)
)
