package session

import (
	"context"

	"github.com/hitoshi/gamefinder/internal/model"
)

// Provider は1つのセッショントークンに束縛されたセッションプロバイダー。
// catalog.SessionProviderを満たす。
type Provider struct {
	manager *Manager
	token   string
}

// Token は束縛されたトークンを返す。
func (p *Provider) Token() string {
	return p.token
}

// CurrentSession は現在のセッションを返す。未サインインまたは期限切れの場合はnil。
func (p *Provider) CurrentSession(ctx context.Context) (*model.Session, error) {
	return p.manager.Current(ctx, p.token)
}

// Subscribe はトークンのセッション変更を購読する。
// トークンが空の場合は何も購読せず、何もしない購読解除関数を返す。
func (p *Provider) Subscribe(fn func(*model.Session)) func() {
	if p.token == "" {
		return func() {}
	}
	return p.manager.broker.Subscribe(p.token, fn)
}
