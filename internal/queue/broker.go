package queue

import (
	"context"
	"time"
)

// Enqueuer はジョブ投入のインターフェース。APIプロセスから利用する。
type Enqueuer interface {
	// Enqueue はpayloadをJSONにエンコードしてqueueに投入する。
	Enqueue(ctx context.Context, queue string, payload any) (*Job, error)
}

// Broker はジョブの受け取りと完了報告のインターフェース。Consumerから利用する。
type Broker interface {
	// Reserve はqueueから1件取り出して処理中にする。
	// waitの間にジョブが無ければnil, nilを返す。
	Reserve(ctx context.Context, queue string, wait time.Duration) (*Job, error)
	// Ack は処理完了したジョブを処理中から取り除く。
	Ack(ctx context.Context, job *Job) error
	// Fail は失敗を記録する。再試行せずデッドレターへ移した場合はdead=trueを返す。
	Fail(ctx context.Context, job *Job, cause error) (dead bool, err error)
}

// Stats はキュー内のジョブ数。
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Failed     int64 `json:"failed"`
}

// MaintenanceBroker は定期メンテナンスのインターフェース。Maintainerから利用する。
type MaintenanceBroker interface {
	// PromoteDue は再試行時刻に達した遅延ジョブを待機列へ戻す。
	PromoteDue(ctx context.Context, queue string) (int, error)
	// RequeueExpired は処理期限（リース）が切れた処理中ジョブを待機列へ戻す。
	RequeueExpired(ctx context.Context, queue string) (int, error)
	// Stats はキュー内のジョブ数を返す。
	Stats(ctx context.Context, queue string) (Stats, error)
}
