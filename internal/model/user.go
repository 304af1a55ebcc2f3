package model

import "time"

// Session はユーザーのログインセッションを表す。
// セッションの発行は認証コンポーネントが行い、本システムは参照のみ行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
