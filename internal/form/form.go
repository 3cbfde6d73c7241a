// Package form はゲームの作成・編集フォームの入力値と送信状態を扱う。
package form

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hitoshi/gamefinder/internal/model"
)

// Mode はフォームのモード。
type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
)

// 画面表示用の文言
const (
	RequiredFieldsMessage  = "Please fill in all required fields."
	InvalidYearMessage     = "Year must be a whole number."
	InvalidRatingMessage   = "Rating must be a number."
	InvalidPlatformMessage = "Please choose a platform from the list."

	savingLabel = "Saving..."
)

// ErrSubmitting は送信中に再度Submitを呼んだ場合のエラー。
var ErrSubmitting = errors.New("form: submission already in progress")

// Values はフォームの生の入力値。ウィジェットの値と同じく全て文字列で保持する。
type Values struct {
	Name     string `json:"name"`
	Genre    string `json:"genre"`
	Platform string `json:"platform"`
	Year     string `json:"year"`
	Rating   string `json:"rating"`
}

// Options はフォームの生成オプション。
type Options struct {
	// Platforms が空でない場合、プラットフォームはこの中から選択する必要がある。
	Platforms []string
	// Sanitize は正規化時に各テキスト項目へ適用される。nilの場合は前後の空白除去のみ。
	Sanitize func(string) string
}

// Form は1画面分のフォーム状態。
type Form struct {
	mode      Mode
	platforms []string
	sanitize  func(string) string

	mu         sync.Mutex
	values     Values
	errMsg     string
	submitting bool
}

// New はフォームを生成する。
func New(mode Mode, opts Options) *Form {
	return &Form{
		mode:      mode,
		platforms: slices.Clone(opts.Platforms),
		sanitize:  opts.Sanitize,
	}
}

// Mode はフォームのモードを返す。
func (f *Form) Mode() Mode {
	return f.mode
}

// Seed は既存エントリの値で入力欄を埋める。
func (f *Form) Seed(g model.Game) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = Values{
		Name:     g.Name,
		Genre:    g.Genre,
		Platform: g.Platform,
		Year:     strconv.Itoa(g.Year),
		Rating:   strconv.FormatFloat(g.Rating, 'f', -1, 64),
	}
	f.errMsg = ""
}

// SetValues は入力値を置き換える。
func (f *Form) SetValues(v Values) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = v
}

// Values は現在の入力値を返す。
func (f *Form) Values() Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values
}

// Error は直近の検証エラーメッセージを返す。エラーが無い場合は空文字。
func (f *Form) Error() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

// Submitting は送信中かどうかを返す。
func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// Title はフォームの見出しを返す。
func (f *Form) Title() string {
	if f.mode == ModeUpdate {
		return "Update Game"
	}
	return "Create Game"
}

// SubmitLabel は送信ボタンのラベルを返す。送信中は"Saving..."。
func (f *Form) SubmitLabel() string {
	if f.Submitting() {
		return savingLabel
	}
	return f.Title()
}

// Validate は入力値を検証し、正規化したGameInputを返す。
// 失敗時はError()にメッセージを設定し、model.APIError(VALIDATION_FAILED)を返す。
func (f *Form) Validate() (model.GameInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	in, msg := f.normalize(f.values)
	f.errMsg = msg
	if msg != "" {
		return model.GameInput{}, model.NewValidationError(msg)
	}
	return in, nil
}

// normalize は生の入力値を検証・変換する。年と評価の範囲は検査しない。
func (f *Form) normalize(v Values) (model.GameInput, string) {
	name := f.clean(v.Name)
	genre := f.clean(v.Genre)
	platform := f.clean(v.Platform)
	year := strings.TrimSpace(v.Year)
	rating := strings.TrimSpace(v.Rating)

	if name == "" || genre == "" || platform == "" || year == "" {
		return model.GameInput{}, RequiredFieldsMessage
	}

	// 2002.0のような整数値の小数表記も受け付ける
	yf, err := strconv.ParseFloat(year, 64)
	if err != nil || math.IsNaN(yf) || math.IsInf(yf, 0) || yf != math.Trunc(yf) {
		return model.GameInput{}, InvalidYearMessage
	}
	if yf == 0 {
		return model.GameInput{}, RequiredFieldsMessage
	}
	if yf > math.MaxInt32 || yf < math.MinInt32 {
		return model.GameInput{}, InvalidYearMessage
	}
	y := int(yf)

	var r float64
	if rating != "" {
		r, err = strconv.ParseFloat(rating, 64)
		if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
			return model.GameInput{}, InvalidRatingMessage
		}
	}

	if len(f.platforms) > 0 && !slices.Contains(f.platforms, platform) {
		return model.GameInput{}, InvalidPlatformMessage
	}

	in := model.GameInput{Name: name, Genre: genre, Platform: platform, Year: y, Rating: r}
	if err := model.ValidateGameInput(in); err != nil {
		return model.GameInput{}, RequiredFieldsMessage
	}
	return in, ""
}

func (f *Form) clean(s string) string {
	if f.sanitize != nil {
		s = f.sanitize(s)
	}
	return strings.TrimSpace(s)
}

// Submit は入力値を検証し、送信中状態にしてfnを呼び出す。
// fnの成否に関わらず送信完了後にフォームを再度有効にする。
// 検証に失敗した場合fnは呼ばれない。
func (f *Form) Submit(ctx context.Context, fn func(ctx context.Context, in model.GameInput) error) error {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return ErrSubmitting
	}
	in, msg := f.normalize(f.values)
	f.errMsg = msg
	if msg != "" {
		f.mu.Unlock()
		return model.NewValidationError(msg)
	}
	f.submitting = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
	}()

	if err := fn(ctx, in); err != nil {
		return fmt.Errorf("failed to submit game form: %w", err)
	}
	return nil
}
