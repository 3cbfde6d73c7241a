package model

// Role はセッションから導出される認可レベル。
type Role string

const (
	// RoleAnonymous はセッションが存在しない状態。
	RoleAnonymous Role = "anonymous"
	// RoleViewer はサインイン済みだが管理者ではない状態。
	RoleViewer Role = "viewer"
	// RoleAdmin は許可リストに含まれる管理者。
	RoleAdmin Role = "admin"
)

// SignedIn はセッションが存在するロールかどうかを返す。
func (r Role) SignedIn() bool {
	return r == RoleViewer || r == RoleAdmin
}
