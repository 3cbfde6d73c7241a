// Package session はメールアドレスとパスワードによるサインアップ・サインイン、
// セッションの発行・延長・破棄と、その変更通知を提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/gamefinder/internal/model"
	"github.com/hitoshi/gamefinder/internal/repository"
)

// サインアップ時の検証メッセージ
const (
	missingFieldsMessage   = "Please fill in all fields"
	invalidEmailMessage    = "Please enter a valid email address"
	passwordLengthMessage  = "Password must be between 6 and 72 characters"
	confirmationLinkPath   = "/auth/confirm"
	defaultSessionMaxAge   = 24 * time.Hour
	sessionTokenByteLength = 32
)

// Config はManagerの設定。
type Config struct {
	MaxAge time.Duration // セッション有効期間
	// RequireConfirmation がtrueの場合、サインアップ直後のアカウントは確認待ちになる。
	RequireConfirmation bool
	BaseURL             string // 確認リンクの生成に使う
	BcryptCost          int    // 0の場合はbcrypt.DefaultCost
}

// Publisher はセッション変更を他インスタンスへ配信する。RedisRelayが実装する。
type Publisher interface {
	Publish(ctx context.Context, token string, s *model.Session) error
}

// Recorder は認証イベントを記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordAuthEvent(event, outcome string)
}

// Deps はManagerの依存関係。
type Deps struct {
	Users    repository.UserRepository
	Sessions repository.SessionRepository
	Broker   *Broker
	Relay    Publisher // 省略可
	Recorder Recorder  // 省略可
	Logger   *slog.Logger
}

// SignUpRequest はサインアップの入力。
type SignUpRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// SignUpResult はサインアップの結果。
// 確認が不要な場合はSessionが設定され、確認待ちの場合はPendingがtrueになる。
type SignUpResult struct {
	Session *model.Session
	Pending bool
}

// Manager はセッションプロバイダー。
type Manager struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	broker   *Broker
	relay    Publisher
	recorder Recorder
	logger   *slog.Logger
	config   Config
	now      func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(deps Deps, cfg Config) *Manager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultSessionMaxAge
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	m := &Manager{
		users:    deps.Users,
		sessions: deps.Sessions,
		broker:   deps.Broker,
		relay:    deps.Relay,
		recorder: deps.Recorder,
		logger:   deps.Logger,
		config:   cfg,
		now:      time.Now,
	}
	if m.broker == nil {
		m.broker = NewBroker()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	return m
}

// Broker はセッション変更通知のBrokerを返す。
func (m *Manager) Broker() *Broker {
	return m.broker
}

// SignUp はアカウントを作成する。
// 確認が必要な設定では確認リンクをログに出力し、セッションは発行しない。
func (m *Manager) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := validateSignUp(req); err != nil {
		m.recorder.RecordAuthEvent("signup", "rejected")
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), m.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := m.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: string(hash),
		Confirmed:    !m.config.RequireConfirmation,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if m.config.RequireConfirmation {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate confirmation token: %w", err)
		}
		user.ConfirmationToken = token
	}

	if err := m.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			m.recorder.RecordAuthEvent("signup", "rejected")
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if m.config.RequireConfirmation {
		// メール送信は行わず、確認リンクをログに残す
		m.logger.Info("confirmation link issued",
			slog.String("user_id", user.ID),
			slog.String("email", user.Email),
			slog.String("link", m.confirmationLink(user.ConfirmationToken)),
		)
		m.recorder.RecordAuthEvent("signup", "pending")
		return &SignUpResult{Pending: true}, nil
	}

	session, err := m.createSession(ctx, user)
	if err != nil {
		return nil, err
	}
	m.logger.Info("new user signed up", slog.String("user_id", user.ID))
	m.recorder.RecordAuthEvent("signup", "success")
	return &SignUpResult{Session: session}, nil
}

// Confirm は確認トークンでアカウントを確認し、セッションを発行する。
func (m *Manager) Confirm(ctx context.Context, token string) (*model.Session, error) {
	user, err := m.users.ConfirmByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm account: %w", err)
	}
	if user == nil {
		m.recorder.RecordAuthEvent("confirm", "rejected")
		return nil, model.NewInvalidConfirmationError()
	}

	session, err := m.createSession(ctx, user)
	if err != nil {
		return nil, err
	}
	m.logger.Info("account confirmed", slog.String("user_id", user.ID))
	m.recorder.RecordAuthEvent("confirm", "success")
	return session, nil
}

// SignIn はメールアドレスとパスワードを検証してセッションを発行する。
func (m *Manager) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError(missingFieldsMessage)
	}

	user, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		m.recorder.RecordAuthEvent("signin", "rejected")
		return nil, model.NewInvalidCredentialsError()
	}
	if !user.Confirmed {
		m.recorder.RecordAuthEvent("signin", "rejected")
		return nil, model.NewEmailNotConfirmedError()
	}

	session, err := m.createSession(ctx, user)
	if err != nil {
		return nil, err
	}
	m.logger.Info("user signed in", slog.String("user_id", user.ID))
	m.recorder.RecordAuthEvent("signin", "success")
	return session, nil
}

// SignOut はセッションを破棄し、購読者にnilを通知する。
func (m *Manager) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("session token is required")
	}

	if err := m.sessions.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.publish(ctx, token, nil)
	m.logger.Info("user signed out")
	m.recorder.RecordAuthEvent("signout", "success")
	return nil
}

// Refresh はセッションの有効期限を延長し、置き換えたセッションを購読者に通知する。
// トークンは変わらない。
func (m *Manager) Refresh(ctx context.Context, token string) (*model.Session, error) {
	current, err := m.Current(ctx, token)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, model.NewUnauthorizedError()
	}

	refreshed := *current
	refreshed.ExpiresAt = m.now().Add(m.config.MaxAge)
	if err := m.sessions.Extend(ctx, token, refreshed.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}

	m.publish(ctx, token, &refreshed)
	m.recorder.RecordAuthEvent("refresh", "success")
	return &refreshed, nil
}

// Current はトークンに対応する有効なセッションを返す。無い場合はnilを返す。
func (m *Manager) Current(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	s, err := m.sessions.FindByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if s == nil || s.Expired(m.now()) {
		return nil, nil
	}
	return s, nil
}

// Provider はトークンに束縛されたセッションプロバイダーを返す。
// 空のトークンは未サインインを表す。
func (m *Manager) Provider(token string) *Provider {
	return &Provider{manager: m, token: token}
}

// publish はローカルの購読者と他インスタンスへ変更を通知する。
// 配信の失敗はログに残すのみ。
func (m *Manager) publish(ctx context.Context, token string, s *model.Session) {
	m.broker.Publish(token, s)
	if m.relay == nil {
		return
	}
	if err := m.relay.Publish(ctx, token, s); err != nil {
		m.logger.Warn("failed to relay session change", slog.String("error", err.Error()))
	}
}

// createSession はセッションを作成し永続化する。
func (m *Manager) createSession(ctx context.Context, user *model.User) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	session := &model.Session{
		ID:        token,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: now.Add(m.config.MaxAge),
		CreatedAt: now,
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (m *Manager) confirmationLink(token string) string {
	base := strings.TrimRight(m.config.BaseURL, "/")
	return base + confirmationLinkPath + "?token=" + url.QueryEscape(token)
}

// validateSignUp は入力の形とパスワード確認の一致を検証する。
func validateSignUp(req SignUpRequest) error {
	err := model.Validator().Struct(req)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return model.NewValidationError(missingFieldsMessage)
			}
		}
		switch verrs[0].Tag() {
		case "email":
			return model.NewValidationError(invalidEmailMessage)
		default:
			return model.NewValidationError(passwordLengthMessage)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to validate sign-up request: %w", err)
	}
	if req.Password != req.ConfirmPassword {
		return model.NewPasswordMismatchError()
	}
	return nil
}

// generateToken は暗号的に安全なトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, sessionTokenByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(string, string) {}
