package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/gamefinder/internal/catalog"
	"github.com/hitoshi/gamefinder/internal/middleware"
	"github.com/hitoshi/gamefinder/internal/model"
	"github.com/hitoshi/gamefinder/internal/session"
)

// AuthService は認証ハンドラーが必要とするセッションサービス。session.Managerが実装する。
type AuthService interface {
	SignUp(ctx context.Context, req session.SignUpRequest) (*session.SignUpResult, error)
	Confirm(ctx context.Context, token string) (*model.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (*model.Session, error)
	Current(ctx context.Context, token string) (*model.Session, error)
}

// CookieConfig はセッションCookieの設定。
type CookieConfig struct {
	Domain string
	Secure bool
}

// AuthHandler はサインアップ・サインイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthService
	roles   catalog.RoleResolver
	cookie  CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthService, roles catalog.RoleResolver, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service: service,
		roles:   roles,
		cookie:  cookie,
		logger:  logger,
	}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse はサインイン中のユーザー情報のAPIレスポンス。
type sessionResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// SignUp はアカウントを作成する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if middleware.SessionFromContext(r.Context()) != nil {
		http.Redirect(w, r, catalog.ListingPath, http.StatusSeeOther)
		return
	}

	var req session.SignUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.SignUp(r.Context(), req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if result.Pending {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending_confirmation"})
		return
	}

	h.setSessionCookie(w, result.Session)
	writeJSON(w, http.StatusCreated, h.toSessionResponse(result.Session))
}

// Confirm は確認リンクのトークンでアカウントを有効化し、一覧画面へ遷移させる。
// GET /auth/confirm?token=xxx
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		handleServiceError(w, h.logger, model.NewInvalidConfirmationError())
		return
	}

	s, err := h.service.Confirm(r.Context(), token)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.setSessionCookie(w, s)
	http.Redirect(w, r, catalog.ListingPath, http.StatusSeeOther)
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.setSessionCookie(w, s)
	writeJSON(w, http.StatusOK, h.toSessionResponse(s))
}

// SignOut はセッションを破棄する。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context(), middleware.TokenFromContext(r.Context())); err != nil {
		// 破棄に失敗してもCookieはクリアする
		h.logger.Error("failed to sign out", slog.String("error", err.Error()))
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh はセッションの有効期限を延長する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Refresh(r.Context(), middleware.TokenFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.setSessionCookie(w, s)
	writeJSON(w, http.StatusOK, h.toSessionResponse(s))
}

// signInPrompt は未サインインの訪問者に示すサインイン画面。
type signInPrompt struct {
	Message      string `json:"message"`
	SignInAction string `json:"signin_action"`
	SignUpAction string `json:"signup_action"`
}

// SignInPrompt はサインインを促す画面を返す。サインイン済みの場合は一覧画面へ遷移させる。
// GET /signin
func (h *AuthHandler) SignInPrompt(w http.ResponseWriter, r *http.Request) {
	if middleware.SessionFromContext(r.Context()) != nil {
		http.Redirect(w, r, catalog.ListingPath, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, signInPrompt{
		Message:      "Sign in for more details",
		SignInAction: "/auth/signin",
		SignUpAction: "/auth/signup",
	})
}

// Me は現在のサインインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.toSessionResponse(middleware.SessionFromContext(r.Context())))
}

func (h *AuthHandler) toSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		ID:        s.UserID,
		Email:     s.Email,
		Role:      h.roles.Resolve(s),
		ExpiresAt: s.ExpiresAt,
	}
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
// 有効期間はセッションの有効期限に合わせる。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, s *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    s.ID,
		Path:     "/",
		Domain:   h.cookie.Domain,
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
