package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StreamTokenAudience はストリームトークンのaudクレーム。
const StreamTokenAudience = "mentorlink-stream"

const streamTokenIssuer = "mentorlink"

// StreamToken は発行したストリームトークンとその有効期限。
type StreamToken struct {
	Token     string
	ExpiresAt time.Time
}

// StreamTokens はライブ接続用の短命トークンを発行・検証する。
// Cookieを送れないクロスオリジンのWebSocket/SSE接続で、クエリパラメータとして渡す。
type StreamTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStreamTokens はStreamTokensを生成する。
func NewStreamTokens(secret string, ttl time.Duration) *StreamTokens {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StreamTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue はユーザーのストリームトークンを発行する。
func (s *StreamTokens) Issue(userID string) (*StreamToken, error) {
	if userID == "" {
		return nil, errors.New("ユーザーIDが空です")
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{StreamTokenAudience},
		Issuer:    streamTokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("ストリームトークンの署名に失敗: %w", err)
	}
	return &StreamToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify はストリームトークンを検証し、ユーザーIDを返す。
func (s *StreamTokens) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(StreamTokenAudience),
		jwt.WithIssuer(streamTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("ストリームトークンが無効です: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("ストリームトークンが無効です")
	}
	return claims.Subject, nil
}
