// Package auth はセッションとストリームトークンによる利用者の識別を提供する。
// ログインとセッションの発行は外部の認証コンポーネントが担う。
package auth

import (
	"context"
	"log/slog"

	"github.com/hitoshi/mentorlink/internal/model"
	"github.com/hitoshi/mentorlink/internal/repository"
)

// Service はリクエストの認証情報からユーザーIDを解決する。
type Service struct {
	sessionRepo repository.SessionRepository
	tokens      *StreamTokens
	logger      *slog.Logger
}

// NewService はServiceを生成する。
func NewService(sessionRepo repository.SessionRepository, tokens *StreamTokens, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessionRepo: sessionRepo,
		tokens:      tokens,
		logger:      logger,
	}
}

// ResolveSession はセッションIDからユーザーIDを返す。
// セッションが存在しない・期限切れ・無効ユーザーの場合はUNAUTHORIZEDを返す。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		s.logger.Error("セッションの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return "", model.NewTransientStoreError(err)
	}
	if session == nil {
		return "", model.NewUnauthorizedError()
	}
	return session.UserID, nil
}

// ResolveStreamToken はストリームトークンからユーザーIDを返す。
func (s *Service) ResolveStreamToken(token string) (string, error) {
	if token == "" {
		return "", model.NewUnauthorizedError()
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		s.logger.Debug("ストリームトークンの検証に失敗しました",
			slog.String("error", err.Error()),
		)
		return "", model.NewUnauthorizedError()
	}
	return userID, nil
}

// IssueStreamToken は認証済みユーザーにストリームトークンを発行する。
func (s *Service) IssueStreamToken(userID string) (*StreamToken, error) {
	if userID == "" {
		return nil, model.NewUnauthorizedError()
	}
	return s.tokens.Issue(userID)
}
