package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/gamefinder/internal/catalog"
	"github.com/hitoshi/gamefinder/internal/form"
	"github.com/hitoshi/gamefinder/internal/middleware"
	"github.com/hitoshi/gamefinder/internal/model"
)

// ProviderFactory はセッショントークンに束縛されたセッションプロバイダーを返す。
type ProviderFactory func(token string) catalog.SessionProvider

// GameHandlerDeps はGameHandlerの依存関係。
type GameHandlerDeps struct {
	Providers ProviderFactory
	Store     catalog.RecordStore
	Roles     catalog.RoleResolver
	Platforms []string
	Sanitize  func(string) string
	Recorder  catalog.Recorder // 省略可
	Logger    *slog.Logger
}

// GameHandler はゲームカタログのHTTPハンドラー。
// リクエストごとにcatalog.Controllerを生成し、画面1回分の状態機械として使う。
type GameHandler struct {
	deps GameHandlerDeps
}

// NewGameHandler はGameHandlerを生成する。
func NewGameHandler(deps GameHandlerDeps) *GameHandler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &GameHandler{deps: deps}
}

// editorResponse は編集画面の初期表示用レスポンス。
type editorResponse struct {
	Title       string      `json:"title"`
	SubmitLabel string      `json:"submit_label"`
	Values      form.Values `json:"values"`
	Game        model.Game  `json:"game"`
	CanManage   bool        `json:"can_manage"`
}

// notificationResponse は作成・更新・削除失敗時のブロッキング通知。
type notificationResponse struct {
	middleware.ErrorResponseBody
	Notification string `json:"notification"`
}

// screen は1リクエスト分のNotifierとNavigatorを実装する。
type screen struct {
	mu           sync.Mutex
	notification string
	redirect     string
}

func (s *screen) Notify(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notification = message
}

func (s *screen) Navigate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirect = path
}

func (s *screen) outcome() (notification, redirect string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notification, s.redirect
}

// open はリクエストのセッションでControllerを開始する。呼び出し側はCloseする。
func (h *GameHandler) open(r *http.Request, autoFetch bool) (*catalog.Controller, *screen, error) {
	sc := &screen{}
	opts := catalog.Options{
		AutoFetch: autoFetch,
		Notifier:  sc,
		Navigator: sc,
		Logger:    h.deps.Logger,
	}
	if h.deps.Recorder != nil {
		opts.Recorder = h.deps.Recorder
	}
	c := catalog.NewController(
		h.deps.Providers(middleware.TokenFromContext(r.Context())),
		h.deps.Store,
		h.deps.Roles,
		opts,
	)
	if err := c.Start(r.Context()); err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, sc, nil
}

func (h *GameHandler) newForm(mode form.Mode) *form.Form {
	return form.New(mode, form.Options{
		Platforms: h.deps.Platforms,
		Sanitize:  h.deps.Sanitize,
	})
}

// List は一覧画面のビュー状態を返す。未サインインはサインイン画面へ遷移させる。
// GET /games
func (h *GameHandler) List(w http.ResponseWriter, r *http.Request) {
	c, _, err := h.open(r, true)
	if err != nil {
		handleServiceError(w, h.deps.Logger, err)
		return
	}
	defer c.Close()

	if c.Role() == model.RoleAnonymous {
		http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// Show は編集画面の初期値を返す。
// GET /games/{id}
func (h *GameHandler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := parseGameID(w, r)
	if !ok {
		return
	}

	c, _, err := h.open(r, false)
	if err != nil {
		handleServiceError(w, h.deps.Logger, err)
		return
	}
	defer c.Close()

	game, err := c.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrUnauthenticated) {
		http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
		return
	}
	if err != nil {
		handleServiceError(w, h.deps.Logger, err)
		return
	}

	f := h.newForm(form.ModeUpdate)
	f.Seed(*game)
	writeJSON(w, http.StatusOK, editorResponse{
		Title:       f.Title(),
		SubmitLabel: f.SubmitLabel(),
		Values:      f.Values(),
		Game:        *game,
		CanManage:   c.Role() == model.RoleAdmin,
	})
}

// Create はゲームを作成し、一覧画面へ遷移させる。
// POST /games
func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	values, ok := decodeFormValues(w, r)
	if !ok {
		return
	}

	c, sc, err := h.open(r, false)
	if err != nil {
		handleServiceError(w, h.deps.Logger, err)
		return
	}
	defer c.Close()

	f := h.newForm(form.ModeCreate)
	f.SetValues(values)
	err = f.Submit(r.Context(), c.Create)
	h.writeSubmission(w, r, sc, err)
}

// Update はゲームを全フィールド上書きで更新し、一覧画面へ遷移させる。
// PUT /games/{id}
func (h *GameHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseGameID(w, r)
	if !ok {
		return
	}
	values, ok := decodeFormValues(w, r)
	if !ok {
		return
	}

	c, sc, err := h.open(r, false)
	if err != nil {
		handleServiceError(w, h.deps.Logger, err)
		return
	}
	defer c.Close()

	f := h.newForm(form.ModeUpdate)
	f.SetValues(values)
	err = f.Submit(r.Context(), func(ctx context.Context, in model.GameInput) error {
		return c.Update(ctx, id, in)
	})
	h.writeSubmission(w, r, sc, err)
}

// Delete は確認済みの削除要求を処理し、除外後の一覧を返す。
// 確認はX-Confirm-Deleteヘッダーまたはconfirmクエリで与える。
// DELETE /games/{id}
func (h *GameHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseGameID(w, r)
	if !ok {
		return
	}

	c, sc, err := h.open(r, true)
	if err != nil {
		handleServiceError(w, h.deps.Logger, err)
		return
	}
	defer c.Close()

	if c.Role() != model.RoleAdmin {
		writeRoleRejection(w, r, c.Role())
		return
	}

	err = c.Delete(r.Context(), id, requestConfirmer(r))
	switch {
	case errors.Is(err, catalog.ErrNotConfirmed):
		handleServiceError(w, h.deps.Logger, model.NewConfirmationRequiredError())
		return
	case errors.Is(err, catalog.ErrSubmissionInFlight):
		handleServiceError(w, h.deps.Logger, model.NewSubmissionInFlightError())
		return
	}
	if notification, _ := sc.outcome(); notification != "" {
		writeNotification(w, notification)
		return
	}
	if err != nil {
		handleServiceError(w, h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// writeSubmission はフォーム送信の結果をレスポンスに変換する。
func (h *GameHandler) writeSubmission(w http.ResponseWriter, r *http.Request, sc *screen, err error) {
	notification, redirect := sc.outcome()

	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Code != model.ErrCodeMutationFailed:
		// 検証エラーと対象無しはストアの通知より優先する
		handleServiceError(w, h.deps.Logger, apiErr)
	case errors.Is(err, form.ErrSubmitting), errors.Is(err, catalog.ErrSubmissionInFlight):
		handleServiceError(w, h.deps.Logger, model.NewSubmissionInFlightError())
	case notification != "":
		writeNotification(w, notification)
	case err != nil:
		handleServiceError(w, h.deps.Logger, err)
	case redirect != "":
		http.Redirect(w, r, redirect, http.StatusSeeOther)
	default:
		// 管理者でないControllerは何もしない
		writeRoleRejection(w, r, middleware.RoleOf(r.Context(), h.deps.Roles))
	}
}

func writeNotification(w http.ResponseWriter, message string) {
	apiErr := model.NewMutationFailedError(message)
	writeJSON(w, http.StatusBadGateway, notificationResponse{
		ErrorResponseBody: middleware.ErrorResponseBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		},
		Notification: message,
	})
}

// writeRoleRejection は管理者以外の変更要求を拒否する。未サインインはサインイン画面へ遷移させる。
func writeRoleRejection(w http.ResponseWriter, r *http.Request, role model.Role) {
	if role == model.RoleAnonymous {
		http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
		return
	}
	middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
}

// requestConfirmer はリクエストの確認ヘッダー・クエリから削除確認を判定する。
func requestConfirmer(r *http.Request) catalog.Confirmer {
	return func(context.Context, string) bool {
		if v, err := strconv.ParseBool(r.Header.Get(middleware.ConfirmDeleteHeader)); err == nil && v {
			return true
		}
		v, err := strconv.ParseBool(r.URL.Query().Get("confirm"))
		return err == nil && v
	}
}

func parseGameID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return 0, false
	}
	return id, true
}

// decodeFormValues はJSONボディをフォームの生の入力値に変換する。
// 文字列はそのまま、数値はリテラル表記のまま、nullは空文字として扱う。
func decodeFormValues(w http.ResponseWriter, r *http.Request) (form.Values, bool) {
	var raw map[string]json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return form.Values{}, false
	}

	field := func(name string) (string, bool) {
		v, ok := raw[name]
		if !ok {
			return "", true
		}
		text := strings.TrimSpace(string(v))
		switch {
		case text == "null":
			return "", true
		case strings.HasPrefix(text, `"`):
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return "", false
			}
			return s, true
		case strings.HasPrefix(text, "{"), strings.HasPrefix(text, "["),
			text == "true", text == "false":
			return "", false
		default:
			return text, true
		}
	}

	var values form.Values
	for name, dst := range map[string]*string{
		"name":     &values.Name,
		"genre":    &values.Genre,
		"platform": &values.Platform,
		"year":     &values.Year,
		"rating":   &values.Rating,
	} {
		s, ok := field(name)
		if !ok {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
			return form.Values{}, false
		}
		*dst = s
	}
	return values, true
}
