// Package auth はパスワード認証とJWTアクセストークンの発行・検証を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/repository"
)

// Session はログイン成功時に返すユーザーとアクセストークン。
type Session struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	tokens   *TokenIssuer
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, tokens *TokenIssuer) *Service {
	return &Service{userRepo: userRepo, tokens: tokens}
}

// Login はメールアドレスとパスワードを検証し、アクセストークンを発行する。
// ユーザーが存在しない場合とパスワードが一致しない場合は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("email, password")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	// bcryptの上限を超えるパスワードは登録できないため、照合せずに拒否する
	if user == nil || len(password) > MaxPasswordBytes {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
