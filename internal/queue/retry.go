package queue

import "time"

const (
	// DefaultRetryBase は指数バックオフの初回遅延。
	DefaultRetryBase = 30 * time.Second
	// DefaultRetryMax は指数バックオフの最大遅延。
	DefaultRetryMax = 10 * time.Minute
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// failures=0で初回遅延base、以降2倍ずつ増加し、maxで頭打ちになる。
func CalculateBackoff(failures int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultRetryBase
	}
	if max < base {
		max = base
	}
	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	return delay
}
