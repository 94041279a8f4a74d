package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/filesmanager/internal/model"
)

const fileColumns = `id, owner_id, name, kind, is_public, parent_id, storage_path, created_at`

// PostgresFileRepo はPostgreSQLを使用したファイルメタデータリポジトリ。
type PostgresFileRepo struct {
	db *sql.DB
}

// NewPostgresFileRepo はPostgresFileRepoを生成する。
func NewPostgresFileRepo(db *sql.DB) *PostgresFileRepo {
	return &PostgresFileRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(s rowScanner) (*model.FileRecord, error) {
	var (
		rec         model.FileRecord
		kind        string
		parentID    sql.NullString
		storagePath sql.NullString
	)
	if err := s.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &kind, &rec.IsPublic, &parentID, &storagePath, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Kind = model.FileKind(kind)
	if parentID.Valid {
		rec.Parent = model.ParentID(parentID.String)
	}
	rec.StoragePath = storagePath.String
	return &rec, nil
}

// FindByID は指定IDのレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresFileRepo) FindByID(ctx context.Context, id string) (*model.FileRecord, error) {
	if !isUUID(id) {
		return nil, nil
	}
	rec, err := scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file by ID: %w", err)
	}
	return rec, nil
}

// FindByIDAndOwner は指定IDかつ所有者が一致するレコードを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresFileRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.FileRecord, error) {
	if !isUUID(id) || !isUUID(ownerID) {
		return nil, nil
	}
	rec, err := scanFile(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file by ID and owner: %w", err)
	}
	return rec, nil
}

// ListByOwnerAndParent は所有者と親フォルダが一致するレコードをoffsetからlimit件返す。
// 親がルートの場合はparent_id IS NULLの行のみを対象とする。
func (r *PostgresFileRepo) ListByOwnerAndParent(ctx context.Context, ownerID string, parent model.ParentRef, offset, limit int) ([]*model.FileRecord, error) {
	if !isUUID(ownerID) {
		return []*model.FileRecord{}, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if parentID, ok := parent.ID(); ok {
		if !isUUID(parentID) {
			return []*model.FileRecord{}, nil
		}
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files
			 WHERE owner_id = $1 AND parent_id = $2
			 ORDER BY created_at, id
			 OFFSET $3 LIMIT $4`,
			ownerID, parentID, offset, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files
			 WHERE owner_id = $1 AND parent_id IS NULL
			 ORDER BY created_at, id
			 OFFSET $2 LIMIT $3`,
			ownerID, offset, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	records := []*model.FileRecord{}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}
	return records, nil
}

// Create はレコードを作成する。
func (r *PostgresFileRepo) Create(ctx context.Context, rec *model.FileRecord) error {
	var parentID, storagePath sql.NullString
	if id, ok := rec.Parent.ID(); ok {
		parentID = sql.NullString{String: id, Valid: true}
	}
	if rec.StoragePath != "" {
		storagePath = sql.NullString{String: rec.StoragePath, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO files (id, owner_id, name, kind, is_public, parent_id, storage_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OwnerID, rec.Name, string(rec.Kind), rec.IsPublic, parentID, storagePath, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// UpdateVisibility は公開フラグを更新し、更新後のレコードを返す。
// 見つからない場合はnilを返す。
func (r *PostgresFileRepo) UpdateVisibility(ctx context.Context, id string, isPublic bool) (*model.FileRecord, error) {
	if !isUUID(id) {
		return nil, nil
	}
	rec, err := scanFile(r.db.QueryRowContext(ctx,
		`UPDATE files SET is_public = $2 WHERE id = $1 RETURNING `+fileColumns,
		id, isPublic,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update file visibility: %w", err)
	}
	return rec, nil
}

// Count は登録レコード数を返す。
func (r *PostgresFileRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ FileRepository = (*PostgresFileRepo)(nil)
