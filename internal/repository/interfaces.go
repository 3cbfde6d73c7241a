// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/gamefinder/internal/model"
)

// GameRepository はゲームカタログの永続化インターフェース。
// catalog.RecordStoreを満たす。
type GameRepository interface {
	// List は全件をID昇順で返す。ページネーションは行わない。
	List(ctx context.Context) ([]model.Game, error)

	// FindByID は指定IDのゲームを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Game, error)

	// Create はゲームを作成し、採番されたIDを含むレコードを返す。
	Create(ctx context.Context, in model.GameInput) (*model.Game, error)

	// Update は全フィールドを上書きする。対象が無い場合はnilを返す。
	Update(ctx context.Context, id int64, in model.GameInput) (*model.Game, error)

	// Delete は指定IDのゲームを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, id int64) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// ConfirmByToken は確認トークンに一致する未確認ユーザーを確認済みにする。
	// 一致するユーザーが無い場合はnilを返す。
	ConfirmByToken(ctx context.Context, token string) (*model.User, error)

	// DeleteUnconfirmedBefore はbefore以前に作成された未確認ユーザーを削除し、削除件数を返す。
	DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpiredBefore はbefore以前に期限切れになったセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}
