// Package user はユーザー登録とプロフィール更新のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hitoshi/meetapp/internal/auth"
	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/repository"
)

// RegisterInput はユーザー登録の入力値。
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// ProfileInput はプロフィール更新の入力値。
// OldPasswordが空の場合、パスワードは変更しない。
type ProfileInput struct {
	Name            string
	Email           string
	OldPassword     string
	Password        string
	ConfirmPassword string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// Register はユーザーを登録する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	email, err := normalizeEmail(in.Email)
	if name == "" || err != nil || !auth.ValidPassword(in.Password) {
		return nil, model.NewValidationError("name, email, password (6文字以上72バイト以内)")
	}

	if err := s.ensureEmailAvailable(ctx, email, 0); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &model.User{Name: name, Email: email, PasswordHash: hash}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました", slog.Int64("user_id", u.ID))
	return u, nil
}

// UpdateProfile はユーザーの名前とメールアドレスを更新する。
// OldPasswordが指定された場合は、現在のパスワードの確認後にパスワードも変更する。
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		u.Name = name
	}

	if strings.TrimSpace(in.Email) != "" {
		email, err := normalizeEmail(in.Email)
		if err != nil {
			return nil, model.NewValidationError("email")
		}
		if !strings.EqualFold(email, u.Email) {
			if err := s.ensureEmailAvailable(ctx, email, u.ID); err != nil {
				return nil, err
			}
		}
		u.Email = email
	}

	if in.OldPassword != "" {
		if !auth.ValidPassword(in.Password) {
			return nil, model.NewValidationError("password (6文字以上72バイト以内)")
		}
		if in.Password != in.ConfirmPassword {
			return nil, model.NewValidationError("confirm_password")
		}
		ok, err := auth.CheckPassword(u.PasswordHash, in.OldPassword)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, model.NewPasswordMismatchError()
		}
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}

	if err := s.userRepo.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	return u, nil
}

// ensureEmailAvailable はメールアドレスが他のユーザーに使われていないことを確認する。
func (s *Service) ensureEmailAvailable(ctx context.Context, email string, selfID int64) error {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil && existing.ID != selfID {
		return model.NewEmailTakenError()
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if addr.Name != "" {
		return "", errors.New("display name is not allowed")
	}
	return addr.Address, nil
}
