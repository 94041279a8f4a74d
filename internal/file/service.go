// Package file はファイル・フォルダの登録、参照、一覧、公開設定、本体読み出しを提供する。
// メタデータカタログ、バイナリ保存先、アクセス制御、ジョブキューを組み合わせる。
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/hitoshi/filesmanager/internal/access"
	"github.com/hitoshi/filesmanager/internal/blob"
	"github.com/hitoshi/filesmanager/internal/metrics"
	"github.com/hitoshi/filesmanager/internal/model"
	"github.com/hitoshi/filesmanager/internal/queue"
	"github.com/hitoshi/filesmanager/internal/repository"
)

// DefaultPageSize は一覧取得の1ページあたりの件数。
const DefaultPageSize = 20

// CreateInput はファイル・フォルダ登録の入力。
// Typeはワイヤー上の文字列のまま受け取り、Create内で検証する。
type CreateInput struct {
	Name     string
	Type     string
	Parent   model.ParentRef
	IsPublic bool
	Data     []byte
}

// Content はファイル本体とレスポンス用のメタ情報。
type Content struct {
	Name        string
	ContentType string
	Data        []byte
}

// Service はファイル操作のサービス層。
type Service struct {
	files     repository.FileRepository
	blobs     blob.Store
	gate      *access.Gate
	enqueuer  queue.Enqueuer
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceを生成する。collectorとloggerはnilでもよい。
func NewService(
	files repository.FileRepository,
	blobs blob.Store,
	gate *access.Gate,
	enqueuer queue.Enqueuer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		files:     files,
		blobs:     blobs,
		gate:      gate,
		enqueuer:  enqueuer,
		collector: collector,
		logger:    logger,
	}
}

// Create はファイルまたはフォルダを登録する。
// 検証順序: name → type → data → parent。
// フォルダはメタデータのみ登録し、それ以外は本体を書き込んでからレコードを登録する。
// 画像の場合は登録後に派生画像生成ジョブを投入する。投入に失敗しても登録は成功として扱う。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.FileRecord, error) {
	if in.Name == "" {
		return nil, model.NewMissingFieldError("name")
	}
	kind, ok := model.ParseFileKind(in.Type)
	if !ok {
		return nil, model.NewMissingFieldError("type")
	}
	if kind.HasContent() && len(in.Data) == 0 {
		return nil, model.NewMissingFieldError("data")
	}
	if err := s.checkParent(ctx, in.Parent); err != nil {
		return nil, err
	}

	rec := &model.FileRecord{
		ID:        uuid.New().String(),
		OwnerID:   userID,
		Name:      in.Name,
		Kind:      kind,
		IsPublic:  in.IsPublic,
		Parent:    in.Parent,
		CreatedAt: time.Now(),
	}

	if kind.HasContent() {
		rec.StoragePath = s.blobs.NewPath()
		if err := s.blobs.Put(ctx, rec.StoragePath, in.Data); err != nil {
			return nil, fmt.Errorf("failed to write blob: %w", err)
		}
	}

	if err := s.files.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}
	s.collector.RecordFileCreated(string(kind), len(in.Data))

	if kind == model.FileKindImage {
		s.enqueueDerivatives(ctx, rec)
	}

	return rec, nil
}

// checkParent は親フォルダの存在と種別を確認する。ルートは常に有効。
func (s *Service) checkParent(ctx context.Context, parent model.ParentRef) error {
	parentID, ok := parent.ID()
	if !ok {
		return nil
	}
	p, err := s.files.FindByID(ctx, parentID)
	if err != nil {
		return fmt.Errorf("failed to find parent: %w", err)
	}
	if p == nil {
		return model.NewInvalidParentError()
	}
	if p.Kind != model.FileKindFolder {
		return model.NewNotAFolderError()
	}
	return nil
}

// enqueueDerivatives は派生画像生成ジョブを投入する。失敗はログとメトリクスにのみ記録する。
func (s *Service) enqueueDerivatives(ctx context.Context, rec *model.FileRecord) {
	payload := model.DerivativeJobPayload{UserID: rec.OwnerID, FileID: rec.ID}
	job, err := s.enqueuer.Enqueue(ctx, model.QueueDerivatives, payload)
	if err != nil {
		s.collector.RecordEnqueueFailure(model.QueueDerivatives)
		s.logger.Error("派生画像ジョブの投入に失敗しました",
			slog.String("file_id", rec.ID),
			slog.String("user_id", rec.OwnerID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.collector.RecordJobEnqueued(model.QueueDerivatives)
	s.logger.Debug("派生画像ジョブを投入しました",
		slog.String("file_id", rec.ID),
		slog.String("job_id", job.ID),
	)
}

// Get は所有者のみが参照できるレコードを返す。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.FileRecord, error) {
	rec, err := s.files.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	if err := s.gate.RequireOwner(userID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List は所有者の指定親フォルダ直下のレコードを返す。
// pageが負の場合は0、pageSizeが0以下の場合はDefaultPageSizeとして扱う。
func (s *Service) List(ctx context.Context, userID string, parent model.ParentRef, page, pageSize int) ([]*model.FileRecord, error) {
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	// オフセットがintに収まらないページは必ず空になる
	if page > math.MaxInt/pageSize {
		return []*model.FileRecord{}, nil
	}
	recs, err := s.files.ListByOwnerAndParent(ctx, userID, parent, page*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	if recs == nil {
		recs = []*model.FileRecord{}
	}
	return recs, nil
}

// SetVisibility は公開フラグを更新する。所有者以外はレコードの有無にかかわらずNOT_FOUNDとなる。
func (s *Service) SetVisibility(ctx context.Context, userID, id string, isPublic bool) (*model.FileRecord, error) {
	rec, err := s.files.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	if err := s.gate.RequireOwner(userID, rec); err != nil {
		return nil, err
	}

	updated, err := s.files.UpdateVisibility(ctx, id, isPublic)
	if err != nil {
		return nil, fmt.Errorf("failed to update visibility: %w", err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError()
	}
	return updated, nil
}

// ReadContent はファイル本体、またはsize指定時はその幅の派生画像を返す。
// 公開レコードは誰でも、非公開レコードは所有者のトークンでのみ読み出せる。
// 派生画像が未生成の場合はNOT_FOUNDを返す。
func (s *Service) ReadContent(ctx context.Context, token, id string, size *int) (*Content, error) {
	rec, err := s.files.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	if err := s.gate.AuthorizeVisibility(ctx, token, rec); err != nil {
		return nil, err
	}
	if !rec.Kind.HasContent() {
		return nil, model.NewNoContentError()
	}

	path := rec.StoragePath
	if size != nil {
		if !model.IsDerivativeSize(*size) {
			return nil, model.NewInvalidSizeError(strconv.Itoa(*size))
		}
		path = blob.DerivativePath(path, *size)
	}

	data, err := s.blobs.Get(ctx, path)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, model.NewNotFoundError()
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	return &Content{
		Name:        rec.Name,
		ContentType: DetectContentType(rec.Name, data),
		Data:        data,
	}, nil
}

// DetectContentType はファイル名の拡張子からContent-Typeを決定する。
// 拡張子から判定できない場合はバイト列から推定する。
func DetectContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	if mt := mimetype.Detect(data); mt != nil {
		return mt.String()
	}
	return "application/octet-stream"
}
