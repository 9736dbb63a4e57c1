// Package file はバナー画像のアップロードと保存を提供する。
package file

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/repository"
)

// Config はバナー画像保存の設定。
type Config struct {
	Dir       string // 保存先ディレクトリ
	MaxBytes  int64  // アップロードの最大サイズ
	MaxWidth  int    // 保存時の最大幅
	MaxHeight int    // 保存時の最大高さ
	MaxPixels int    // デコードを許可する最大画素数（幅×高さ）
}

// DefaultMaxPixels はデコードを許可する既定の最大画素数。
const DefaultMaxPixels = 40_000_000

// 受け付ける画像形式と保存時の拡張子
var allowedFormats = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
}

// Service はバナー画像アップロードのサービス層。
type Service struct {
	fileRepo repository.FileRepository
	config   Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(fileRepo repository.FileRepository, cfg Config) *Service {
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	return &Service{fileRepo: fileRepo, config: cfg}
}

// Dir は保存先ディレクトリを返す。
func (s *Service) Dir() string {
	return s.config.Dir
}

// Upload は画像をデコードし、最大サイズに収まるよう縮小して保存する。
// 保存ファイル名はUUIDで採番し、メタデータを永続化する。
func (s *Service) Upload(ctx context.Context, originalName string, r io.Reader) (*model.File, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.config.MaxBytes {
		return nil, model.NewInvalidFileError(fmt.Sprintf("ファイルサイズが上限(%dバイト)を超えています", s.config.MaxBytes))
	}

	// ヘッダーだけを読み、画素数を確認してからデコードする
	imgCfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewInvalidFileError("画像として読み込めません")
	}
	ext, ok := allowedFormats[format]
	if !ok {
		return nil, model.NewInvalidFileError(fmt.Sprintf("未対応の画像形式です: %s", format))
	}
	if imgCfg.Width <= 0 || imgCfg.Height <= 0 ||
		int64(imgCfg.Width)*int64(imgCfg.Height) > int64(s.config.MaxPixels) {
		return nil, model.NewInvalidFileError(fmt.Sprintf("画像の画素数が上限(%d)を超えています", s.config.MaxPixels))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewInvalidFileError("画像として読み込めません")
	}

	resized := imaging.Fit(img, s.config.MaxWidth, s.config.MaxHeight, imaging.Lanczos)

	name := uuid.New().String() + ext
	if err := s.save(name, resized); err != nil {
		return nil, err
	}

	f := &model.File{Name: filepath.Base(originalName), Path: name}
	if err := s.fileRepo.Create(ctx, f); err != nil {
		_ = os.Remove(filepath.Join(s.config.Dir, name))
		return nil, fmt.Errorf("ファイル情報の保存に失敗しました: %w", err)
	}
	return f, nil
}

// save は画像を一時ファイルに書き込んでからリネームする。
func (s *Service) save(name string, img image.Image) error {
	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		return fmt.Errorf("failed to resolve image format: %w", err)
	}

	tmp, err := os.CreateTemp(s.config.Dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, img, format); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.config.Dir, name)); err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}
	return nil
}
