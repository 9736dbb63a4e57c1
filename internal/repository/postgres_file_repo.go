package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/meetapp/internal/model"
)

// PostgresFileRepo はPostgreSQLを使用したファイルメタデータリポジトリ。
type PostgresFileRepo struct {
	db *sql.DB
}

// NewPostgresFileRepo はPostgresFileRepoを生成する。
func NewPostgresFileRepo(db *sql.DB) *PostgresFileRepo {
	return &PostgresFileRepo{db: db}
}

// FindByID は指定IDのファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresFileRepo) FindByID(ctx context.Context, id int64) (*model.File, error) {
	file := &model.File{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at, updated_at FROM files WHERE id = $1`,
		id,
	).Scan(&file.ID, &file.Name, &file.Path, &file.CreatedAt, &file.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find file by ID: %w", err)
	}
	return file, nil
}

// Create はファイルメタデータを作成する。
func (r *PostgresFileRepo) Create(ctx context.Context, file *model.File) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO files (name, path) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		file.Name, file.Path,
	).Scan(&file.ID, &file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", translateError(err))
	}
	return nil
}

// compile-time interface check
var _ FileRepository = (*PostgresFileRepo)(nil)
