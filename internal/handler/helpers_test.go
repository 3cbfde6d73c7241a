package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hitoshi/gamefinder/internal/authz"
	"github.com/hitoshi/gamefinder/internal/catalog"
	"github.com/hitoshi/gamefinder/internal/middleware"
	"github.com/hitoshi/gamefinder/internal/model"
	"github.com/hitoshi/gamefinder/internal/session"
)

const (
	adminToken  = "admin-token"
	viewerToken = "viewer-token"
	csrfToken   = "csrf-test-token"
)

// --- モック定義 ---

type memGameStore struct {
	mu        sync.Mutex
	games     []model.Game
	nextID    int64
	calls     []string
	listErr   error
	createErr error
	deleteErr error
}

func newMemGameStore(games ...model.Game) *memGameStore {
	s := &memGameStore{games: games, nextID: 100}
	return s
}

func (s *memGameStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *memGameStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *memGameStore) List(context.Context) ([]model.Game, error) {
	s.record("list")
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.games), nil
}

func (s *memGameStore) FindByID(_ context.Context, id int64) (*model.Game, error) {
	s.record("find")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.games {
		if g.ID == id {
			cp := g
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memGameStore) Create(_ context.Context, in model.GameInput) (*model.Game, error) {
	s.record("create")
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	g := in.WithID(s.nextID)
	s.games = append(s.games, g)
	return &g, nil
}

func (s *memGameStore) Update(_ context.Context, id int64, in model.GameInput) (*model.Game, error) {
	s.record("update")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.games {
		if g.ID == id {
			s.games[i] = in.WithID(id)
			updated := s.games[i]
			return &updated, nil
		}
	}
	return nil, nil
}

func (s *memGameStore) Delete(_ context.Context, id int64) error {
	s.record("delete")
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = slices.DeleteFunc(s.games, func(g model.Game) bool { return g.ID == id })
	return nil
}

func (s *memGameStore) snapshot() []model.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.games)
}

// fakeAuth はトークンとセッションの対応を保持するAuthService。
type fakeAuth struct {
	sessions map[string]*model.Session

	signUpFn  func(ctx context.Context, req session.SignUpRequest) (*session.SignUpResult, error)
	confirmFn func(ctx context.Context, token string) (*model.Session, error)
	signInFn  func(ctx context.Context, email, password string) (*model.Session, error)
	signedOut []string
}

func newFakeAuth() *fakeAuth {
	expires := time.Now().Add(time.Hour)
	return &fakeAuth{sessions: map[string]*model.Session{
		adminToken:  {ID: adminToken, UserID: "admin-id", Email: "admin@gmail.com", ExpiresAt: expires},
		viewerToken: {ID: viewerToken, UserID: "viewer-id", Email: "viewer@example.com", ExpiresAt: expires},
	}}
}

func (a *fakeAuth) SignUp(ctx context.Context, req session.SignUpRequest) (*session.SignUpResult, error) {
	if a.signUpFn != nil {
		return a.signUpFn(ctx, req)
	}
	return &session.SignUpResult{Pending: true}, nil
}

func (a *fakeAuth) Confirm(ctx context.Context, token string) (*model.Session, error) {
	if a.confirmFn != nil {
		return a.confirmFn(ctx, token)
	}
	return nil, model.NewInvalidConfirmationError()
}

func (a *fakeAuth) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if a.signInFn != nil {
		return a.signInFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (a *fakeAuth) SignOut(_ context.Context, token string) error {
	a.signedOut = append(a.signedOut, token)
	delete(a.sessions, token)
	return nil
}

func (a *fakeAuth) Refresh(_ context.Context, token string) (*model.Session, error) {
	s, ok := a.sessions[token]
	if !ok {
		return nil, model.NewUnauthorizedError()
	}
	refreshed := *s
	refreshed.ExpiresAt = s.ExpiresAt.Add(time.Hour)
	a.sessions[token] = &refreshed
	return &refreshed, nil
}

func (a *fakeAuth) Current(_ context.Context, token string) (*model.Session, error) {
	s, ok := a.sessions[token]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// staticProvider はトークンに束縛されたセッションを返すだけのプロバイダー。
type staticProvider struct {
	auth  *fakeAuth
	token string
}

func (p staticProvider) CurrentSession(ctx context.Context) (*model.Session, error) {
	return p.auth.Current(ctx, p.token)
}

func (p staticProvider) Subscribe(func(*model.Session)) func() {
	return func() {}
}

type stubChecker struct{ err error }

func (c stubChecker) PingContext(context.Context) error { return c.err }

// --- ヘルパー ---

type testServer struct {
	router http.Handler
	auth   *fakeAuth
	store  *memGameStore
}

func newTestServer(t *testing.T, store *memGameStore) *testServer {
	t.Helper()
	auth := newFakeAuth()
	deps := &RouterDeps{
		HealthChecker: stubChecker{},
		Auth:          auth,
		Providers: func(token string) catalog.SessionProvider {
			return staticProvider{auth: auth, token: token}
		},
		Roles:  authz.NewResolver([]string{"admin@gmail.com"}),
		Games:  store,
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	return &testServer{router: NewRouter(deps), auth: auth, store: store}
}

// do はセッションCookieとCSRFトークンを付けてリクエストを送る。
func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: token})
	}
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: csrfToken})
	req.Header.Set("X-CSRF-Token", csrfToken)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), "body: %s", w.Body.String())
	return v
}

func sampleGames() []model.Game {
	return []model.Game{
		{ID: 1, Name: "Hades", Genre: "Roguelike", Platform: "PC", Year: 2020, Rating: 9.3},
		{ID: 5, Name: "Celeste", Genre: "Platformer", Platform: "Switch", Year: 2018, Rating: 7.04},
	}
}

var errStoreDown = errors.New("store unavailable")

func newRawRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func withCSRF(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: csrfToken})
	req.Header.Set("X-CSRF-Token", csrfToken)
	return req
}
