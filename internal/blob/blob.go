// Package blob はファイル本体（バイナリ）の保存先を抽象化する。
// レコードのメタデータはカタログ側で管理し、ここではパスとバイト列のみを扱う。
package blob

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound は指定パスにバイナリが存在しないことを表す。
var ErrNotFound = errors.New("blob not found")

// Store はバイナリ保存先のインターフェース。
// Putは上書きを許容し、同じパスへの再書き込みは後勝ちとなる。
type Store interface {
	// NewPath は衝突しない新しい保存パスを生成する。
	NewPath() string
	// Put はdataをpathに保存する。読み手が書きかけのデータを観測することはない。
	Put(ctx context.Context, path string, data []byte) error
	// Get はpathのデータを返す。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, path string) ([]byte, error)
}

// DerivativePath は元画像のパスからサイズ別派生画像のパスを返す。
func DerivativePath(path string, size int) string {
	return fmt.Sprintf("%s_%d", path, size)
}
