// Package catalog はセッションに応じてゲームカタログの取得・更新を制御する。
//
// Controllerは1つの画面インスタンスに対応し、セッション変更の購読、
// ロールに応じた一覧取得、作成・更新・削除とローカルのビュー状態の整合を担う。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hitoshi/gamefinder/internal/model"
)

// State はControllerの状態を表す。
type State string

const (
	StateInitializing    State = "initializing"
	StateUnauthenticated State = "unauthenticated"
	StateLoadingCatalog  State = "loading-catalog"
	StateCatalogReady    State = "catalog-ready"
	StateCatalogError    State = "catalog-error"
	StateSubmitting      State = "submitting"
	StateClosed          State = "closed"
)

// ListingPath は一覧画面のパス。作成・更新成功後の遷移先。
const ListingPath = "/games"

// ユーザー向けメッセージ
const (
	FetchErrorMessage = "Could not fetch the games"
	DeletePrompt      = "Are you sure you want to delete this game?"

	createFailedMessage = "Failed to create game"
	updateFailedMessage = "Failed to update game"
	deleteFailedMessage = "Failed to delete game"
)

var (
	// ErrUnauthenticated はセッションが無い状態で取得系の操作を呼んだ場合のエラー。
	// 呼び出し側はアラートではなくサインイン画面へのリダイレクトで扱う。
	ErrUnauthenticated = errors.New("catalog: no active session")

	// ErrSubmissionInFlight は送信中に別の変更操作を呼んだ場合のエラー。
	ErrSubmissionInFlight = errors.New("catalog: a submission is already in flight")

	// ErrNotConfirmed は削除確認が得られなかった場合のエラー。ストアは呼ばれない。
	ErrNotConfirmed = errors.New("catalog: deletion was not confirmed")

	// ErrClosed はClose後に操作を呼んだ場合のエラー。
	ErrClosed = errors.New("catalog: controller is closed")
)

// SessionProvider はセッションの取得と変更通知の購読を提供する外部コラボレーター。
type SessionProvider interface {
	// CurrentSession は現在のセッションを返す。未サインインの場合はnilを返す。
	CurrentSession(ctx context.Context) (*model.Session, error)
	// Subscribe はセッション変更を購読し、購読解除関数を返す。
	Subscribe(fn func(*model.Session)) (unsubscribe func())
}

// RecordStore はゲームレコードを保持するリモートストア。
type RecordStore interface {
	List(ctx context.Context) ([]model.Game, error)
	// FindByID は見つからない場合nilを返す。
	FindByID(ctx context.Context, id int64) (*model.Game, error)
	Create(ctx context.Context, in model.GameInput) (*model.Game, error)
	// Update は全フィールドを上書きする。対象が無い場合はnilを返す。
	Update(ctx context.Context, id int64, in model.GameInput) (*model.Game, error)
	Delete(ctx context.Context, id int64) error
}

// RoleResolver はセッションからロールを導出する。
type RoleResolver interface {
	Resolve(session *model.Session) model.Role
}

// Notifier は操作失敗をブロッキング通知として利用者に知らせる。
type Notifier interface {
	Notify(message string)
}

// Navigator は利用者を別の画面に遷移させる。
type Navigator interface {
	Navigate(path string)
}

// Confirmer は利用者に明示的な確認を求め、承認されたらtrueを返す。
type Confirmer func(ctx context.Context, prompt string) bool

// Recorder はカタログ操作の結果を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordCatalogOp(op, outcome string)
}

// Options はControllerの生成オプション。
type Options struct {
	// AutoFetch がtrueの場合、サインイン状態に遷移した時点で一覧を取得する。
	// 一覧画面ではtrue、作成・編集画面ではfalseを指定する。
	AutoFetch bool
	Notifier  Notifier
	Navigator Navigator
	Logger    *slog.Logger
	Recorder  Recorder
}

// Entry は一覧表示用のエントリ。表示用に丸めた評価を含む。
type Entry struct {
	model.Game
	DisplayRating string `json:"display_rating"`
}

// ViewState はビュー状態のスナップショット。
type ViewState struct {
	State      State      `json:"state"`
	Role       model.Role `json:"role"`
	Entries    []Entry    `json:"entries"`
	FetchError string     `json:"fetch_error,omitempty"`
	CanManage  bool       `json:"can_manage"`
}

// Controller は画面インスタンスごとのカタログ状態機械。
// ビュー状態はこのインスタンスが排他的に所有する。
type Controller struct {
	sessions  SessionProvider
	store     RecordStore
	resolver  RoleResolver
	notifier  Notifier
	navigator Navigator
	logger    *slog.Logger
	recorder  Recorder
	autoFetch bool

	// slot は変更操作の単一スロットロック。
	slot chan struct{}

	mu          sync.Mutex
	state       State
	resumeState State
	session     *model.Session
	role        model.Role
	generation  uint64
	entries     []model.Game
	// fetching は進行中のFetch数。deletedDuringFetch はその間に削除したID。
	fetching           int
	deletedDuringFetch []int64
	fetchErr    string

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// NewController はControllerを生成する。Startを呼ぶまでセッションは取得しない。
func NewController(sessions SessionProvider, store RecordStore, resolver RoleResolver, opts Options) *Controller {
	c := &Controller{
		sessions:  sessions,
		store:     store,
		resolver:  resolver,
		notifier:  opts.Notifier,
		navigator: opts.Navigator,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		autoFetch: opts.AutoFetch,
		slot:      make(chan struct{}, 1),
		state:     StateInitializing,
		role:      model.RoleAnonymous,
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.navigator == nil {
		c.navigator = nopNavigator{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c
}

// Start はセッション変更を購読し、現在のセッションを取得して適用する。
// 購読はCloseで解放される。ctxはControllerの生存期間を表す。
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateInitializing {
		c.mu.Unlock()
		return fmt.Errorf("catalog: controller already started (state %s)", c.state)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	lifetime := c.ctx
	c.mu.Unlock()

	unsubscribe := c.sessions.Subscribe(func(s *model.Session) {
		c.applySession(lifetime, s)
	})

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		unsubscribe()
		return ErrClosed
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	session, err := c.sessions.CurrentSession(lifetime)
	if err != nil {
		// セッション取得失敗は未サインインとして扱う
		c.logger.Warn("failed to get current session", slog.String("error", err.Error()))
		session = nil
	}
	c.applySession(lifetime, session)
	return nil
}

// Close はセッション購読を1回だけ解放し、Controllerを終了状態にする。
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		unsubscribe := c.unsubscribe
		cancel := c.cancel
		c.unsubscribe = nil
		c.state = StateClosed
		c.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		if cancel != nil {
			cancel()
		}
	})
}

// applySession はセッションからロールを再計算し、遷移に応じてビュー状態を更新する。
func (c *Controller) applySession(ctx context.Context, session *model.Session) {
	role := c.resolver.Resolve(session)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.role
	c.session = cloneSession(session)
	c.role = role
	c.generation++

	if role == model.RoleAnonymous {
		c.entries = nil
		c.fetchErr = ""
		c.setViewStateLocked(StateUnauthenticated)
		c.mu.Unlock()
		return
	}

	if prev != model.RoleAnonymous {
		// viewer⇔adminの遷移では再取得しない
		c.mu.Unlock()
		return
	}

	if !c.autoFetch {
		c.setViewStateLocked(StateCatalogReady)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// 取得失敗はビュー状態に反映済みのため、ここでは返さない
	_ = c.Fetch(ctx)
}

// Fetch はストアから全件を取得し、ビュー状態を置き換える。
// 失敗時はエントリを空にしてエラー表示を設定する。自動リトライは行わない。
func (c *Controller) Fetch(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.role.SignedIn() {
		c.mu.Unlock()
		return ErrUnauthenticated
	}
	gen := c.generation
	c.fetching++
	mark := len(c.deletedDuringFetch)
	c.setViewStateLocked(StateLoadingCatalog)
	c.mu.Unlock()

	games, err := c.store.List(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	deletedSince := slices.Clone(c.deletedDuringFetch[mark:])
	c.fetching--
	if c.fetching == 0 {
		c.deletedDuringFetch = nil
	}

	if c.state == StateClosed {
		return ErrClosed
	}
	if c.generation != gen {
		// 取得中にセッションが変わった場合は結果を捨てる
		c.logger.Debug("discarding stale catalog fetch")
		return nil
	}

	if err != nil {
		c.entries = nil
		c.fetchErr = FetchErrorMessage
		c.setViewStateLocked(StateCatalogError)
		c.recorder.RecordCatalogOp("fetch", "failure")
		c.logger.Error("failed to fetch games", slog.String("error", err.Error()))
		return fmt.Errorf("failed to fetch games: %w", err)
	}

	// 取得中に削除したエントリは取得結果に含まれていても戻さない
	c.entries = slices.DeleteFunc(slices.Clone(games), func(g model.Game) bool {
		return slices.Contains(deletedSince, g.ID)
	})
	if c.entries == nil {
		c.entries = []model.Game{}
	}
	c.fetchErr = ""
	c.setViewStateLocked(StateCatalogReady)
	c.recorder.RecordCatalogOp("fetch", "success")
	return nil
}

// Get は指定IDのゲームを1件取得する。見つからない場合はGAME_NOT_FOUNDを返す。
func (c *Controller) Get(ctx context.Context, id int64) (*model.Game, error) {
	c.mu.Lock()
	closed := c.state == StateClosed
	role := c.role
	c.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if !role.SignedIn() {
		return nil, ErrUnauthenticated
	}

	game, err := c.store.FindByID(ctx, id)
	if err != nil {
		c.logger.Error("failed to find game",
			slog.Int64("game_id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to find game %d: %w", id, err)
	}
	if game == nil {
		return nil, model.NewGameNotFoundError(id)
	}
	return game, nil
}

// Create はゲームを作成する。管理者以外の呼び出しは何もしない。
// 成功時は一覧画面へ遷移し、ビュー状態は再取得まで変更しない。
func (c *Controller) Create(ctx context.Context, in model.GameInput) error {
	release, ok, err := c.beginSubmission()
	if err != nil || !ok {
		return err
	}
	defer release()

	if _, err := c.store.Create(ctx, in); err != nil {
		c.failSubmission("create", createFailedMessage, err)
		return fmt.Errorf("failed to create game: %w", err)
	}

	c.recorder.RecordCatalogOp("create", "success")
	c.navigator.Navigate(ListingPath)
	return nil
}

// Update は指定IDのゲームを全フィールド上書きで更新する。管理者以外の呼び出しは何もしない。
func (c *Controller) Update(ctx context.Context, id int64, in model.GameInput) error {
	release, ok, err := c.beginSubmission()
	if err != nil || !ok {
		return err
	}
	defer release()

	game, err := c.store.Update(ctx, id, in)
	if err == nil && game == nil {
		err = model.NewGameNotFoundError(id)
	}
	if err != nil {
		c.failSubmission("update", updateFailedMessage, err)
		return fmt.Errorf("failed to update game %d: %w", id, err)
	}

	c.recorder.RecordCatalogOp("update", "success")
	c.navigator.Navigate(ListingPath)
	return nil
}

// Delete は確認を得た上で指定IDのゲームを削除する。管理者以外の呼び出しは何もしない。
// 成功時はビュー状態からIDで除外する。存在しないIDの場合ビュー状態は変わらない。
func (c *Controller) Delete(ctx context.Context, id int64, confirm Confirmer) error {
	c.mu.Lock()
	closed := c.state == StateClosed
	admin := c.role == model.RoleAdmin
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !admin {
		return nil
	}
	if confirm == nil || !confirm(ctx, DeletePrompt) {
		return ErrNotConfirmed
	}

	release, ok, err := c.beginSubmission()
	if err != nil || !ok {
		return err
	}
	defer release()

	if err := c.store.Delete(ctx, id); err != nil {
		c.failSubmission("delete", deleteFailedMessage, err)
		return fmt.Errorf("failed to delete game %d: %w", id, err)
	}

	c.mu.Lock()
	c.entries = slices.DeleteFunc(c.entries, func(g model.Game) bool {
		return g.ID == id
	})
	if c.fetching > 0 {
		c.deletedDuringFetch = append(c.deletedDuringFetch, id)
	}
	c.mu.Unlock()

	c.recorder.RecordCatalogOp("delete", "success")
	return nil
}

// View はビュー状態のスナップショットを返す。
func (c *Controller) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := ViewState{
		State:      c.state,
		Role:       c.role,
		FetchError: c.fetchErr,
		CanManage:  c.role == model.RoleAdmin,
	}
	if c.entries != nil {
		v.Entries = make([]Entry, len(c.entries))
		for i, g := range c.entries {
			v.Entries[i] = Entry{Game: g, DisplayRating: g.DisplayRating()}
		}
	}
	return v
}

// Role は現在のロールを返す。
func (c *Controller) Role() model.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Session は現在のセッションのコピーを返す。未サインインの場合はnil。
func (c *Controller) Session() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.session)
}

// beginSubmission は変更操作の開始処理。
// 管理者でない場合はok=falseを返し、呼び出し側は何もせずに終了する。
func (c *Controller) beginSubmission() (release func(), ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil, false, ErrClosed
	}
	if c.role != model.RoleAdmin {
		return nil, false, nil
	}

	select {
	case c.slot <- struct{}{}:
	default:
		return nil, false, ErrSubmissionInFlight
	}

	c.resumeState = c.state
	c.state = StateSubmitting
	return c.endSubmission, true, nil
}

// endSubmission は送信状態を解除し、スロットを返却する。
func (c *Controller) endSubmission() {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.state = c.resumeState
	}
	c.mu.Unlock()
	<-c.slot
}

// failSubmission は変更操作の失敗をログに残し、利用者に通知する。
func (c *Controller) failSubmission(op, message string, err error) {
	c.recorder.RecordCatalogOp(op, "failure")
	c.logger.Error("catalog mutation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	c.notifier.Notify(message)
}

// setViewStateLocked は状態を更新する。送信中は送信完了後の復帰先を更新する。
func (c *Controller) setViewStateLocked(s State) {
	if c.state == StateSubmitting {
		c.resumeState = s
		return
	}
	c.state = s
}

func cloneSession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

type nopNavigator struct{}

func (nopNavigator) Navigate(string) {}

type nopRecorder struct{}

func (nopRecorder) RecordCatalogOp(string, string) {}
