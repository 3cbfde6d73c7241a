// Package model はドメインモデルを定義する。
package model

import "time"

// User はメールアドレスとパスワードでサインアップしたユーザーを表す。
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Confirmed         bool
	ConfirmationToken string // 確認済みの場合は空
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはCookieに載せる不透明なトークンで、Emailは認可判定に使う識別子。
type Session struct {
	ID        string
	UserID    string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はnowの時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
