// Package derivative は画像ファイルのサイズ違い派生画像を生成するジョブハンドラーを提供する。
package derivative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/filesmanager/internal/blob"
	"github.com/hitoshi/filesmanager/internal/metrics"
	"github.com/hitoshi/filesmanager/internal/model"
	"github.com/hitoshi/filesmanager/internal/queue"
)

// MaxSourcePixels はデコードを許す元画像の最大画素数。
// ヘッダーだけ巨大なサイズを宣言した画像でワーカーのメモリを使い切らないよう、デコード前に判定する。
const MaxSourcePixels = 40_000_000

// FileFinder は所有者で絞り込んだレコード検索のインターフェース。
type FileFinder interface {
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.FileRecord, error)
}

// Handler は派生画像生成ジョブを処理する。
// 各サイズは元画像のみから決定的に生成されるため、再配送で同じバイト列が上書きされる。
type Handler struct {
	files     FileFinder
	blobs     blob.Store
	sizes     []int
	maxPixels int
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewHandler はHandlerを生成する。
func NewHandler(files FileFinder, blobs blob.Store, collector metrics.MetricsCollector, logger *slog.Logger) *Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		files:     files,
		blobs:     blobs,
		sizes:     model.DerivativeSizes,
		maxPixels: MaxSourcePixels,
		collector: collector,
		logger:    logger,
	}
}

var _ queue.Handler = (*Handler)(nil)

// Handle は1件のジョブを処理する。
// ペイロード不正、レコード不在、画像として読めないか大きすぎる元データはPermanentとする。
func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	var payload model.DerivativeJobPayload
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(err)
	}
	if payload.FileID == "" {
		return queue.Permanent(errors.New("missing fileId"))
	}
	if payload.UserID == "" {
		return queue.Permanent(errors.New("missing userId"))
	}

	rec, err := h.files.FindByIDAndOwner(ctx, payload.FileID, payload.UserID)
	if err != nil {
		return fmt.Errorf("failed to find file %s: %w", payload.FileID, err)
	}
	if rec == nil {
		return queue.Permanent(errors.New("file not found"))
	}
	if rec.Kind != model.FileKindImage || rec.StoragePath == "" {
		return queue.Permanent(fmt.Errorf("file %s is not an image", rec.ID))
	}

	start := time.Now()

	data, err := h.blobs.Get(ctx, rec.StoragePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("primary blob of %s is missing: %w", rec.ID, err))
		}
		return fmt.Errorf("failed to read primary blob: %w", err)
	}

	src, format, err := decode(data, h.maxPixels)
	if err != nil {
		return queue.Permanent(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, size := range h.sizes {
		g.Go(func() error {
			out, err := Render(src, format, size)
			if err != nil {
				return err
			}
			if err := h.blobs.Put(gctx, blob.DerivativePath(rec.StoragePath, size), out); err != nil {
				return fmt.Errorf("failed to write %dpx derivative: %w", size, err)
			}
			h.collector.RecordDerivativeWritten(size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	h.logger.Info("派生画像を生成しました",
		slog.String("file_id", rec.ID),
		slog.String("user_id", rec.OwnerID),
		slog.String("format", format.String()),
		slog.Int("sizes", len(h.sizes)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// decode は元画像をデコードし、エンコードに使う形式を返す。
// ヘッダーの画素数がmaxPixelsを超える画像はデコードしない。
func decode(data []byte, maxPixels int) (image.Image, imaging.Format, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("unsupported image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, 0, fmt.Errorf("image too large: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)
	}
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return nil, 0, fmt.Errorf("unsupported image format %q: %w", name, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Render は幅widthに縦横比を保って縮小し、formatでエンコードする。
// 同じ入力に対して常に同じバイト列を返す。
func Render(src image.Image, format imaging.Format, width int) ([]byte, error) {
	dst := imaging.Resize(src, width, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, format); err != nil {
		return nil, fmt.Errorf("failed to encode %dpx derivative: %w", width, err)
	}
	return buf.Bytes(), nil
}
