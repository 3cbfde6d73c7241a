// Package authz はセッションから認可ロールを導出する。
package authz

import "github.com/hitoshi/gamefinder/internal/model"

// Resolver は管理者許可リストに基づいてロールを判定する。
// 許可リストは生成時にコピーされ、以後変更されない。
type Resolver struct {
	admins map[string]struct{}
}

// NewResolver は管理者メールアドレスの許可リストからResolverを生成する。
func NewResolver(adminEmails []string) *Resolver {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		if email == "" {
			continue
		}
		admins[email] = struct{}{}
	}
	return &Resolver{admins: admins}
}

// Resolve はセッションからロールを1つ返す。
// セッションがnilならanonymous、許可リストに含まれるメールアドレスならadmin、
// それ以外（メールアドレス無しを含む）はviewerとなる。
// 照合は大文字小文字を区別する完全一致で、正規化は行わない。
func (r *Resolver) Resolve(session *model.Session) model.Role {
	if session == nil {
		return model.RoleAnonymous
	}
	if r.IsAdmin(session.Email) {
		return model.RoleAdmin
	}
	return model.RoleViewer
}

// IsAdmin はメールアドレスが許可リストに含まれるかを返す。
func (r *Resolver) IsAdmin(email string) bool {
	if email == "" {
		return false
	}
	_, ok := r.admins[email]
	return ok
}
