// Package queue はRedisを使った永続ジョブキューを提供する。
// 投入（Enqueue）はAPIプロセス、消費（Consumer）はワーカープロセスで行い、
// 失敗したジョブは指数バックオフで再試行した後にデッドレターへ移す。
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job はキューに積まれる1件のジョブ。
// Redis上ではJSON文字列として保存される。
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`

	// raw は処理中リストに格納されている元の文字列。Ack時の削除に使う。
	raw string
}

// Decode はペイロードをvにデコードする。
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

func encodeJob(j *Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}
	return string(b), nil
}

func decodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if j.ID == "" {
		return nil, fmt.Errorf("failed to decode job: missing id")
	}
	j.raw = raw
	return &j, nil
}
