// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, catalog, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeGameNotFound        = "GAME_NOT_FOUND"
	ErrCodeSubmissionInFlight  = "SUBMISSION_IN_FLIGHT"
	ErrCodeConfirmationNeeded  = "CONFIRMATION_REQUIRED"
	ErrCodeMutationFailed      = "MUTATION_FAILED"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeEmailNotConfirmed   = "EMAIL_NOT_CONFIRMED"
	ErrCodeEmailTaken          = "EMAIL_ALREADY_REGISTERED"
	ErrCodePasswordMismatch    = "PASSWORD_MISMATCH"
	ErrCodeInvalidConfirmation = "INVALID_CONFIRMATION_TOKEN"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Sign in for more details.",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewForbiddenError は管理者権限が必要な操作に対するエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "This operation is restricted to administrators.",
		Category: "auth",
		Action:   "Ask an administrator to make this change.",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "Failed to parse the request body.",
		Category: "validation",
		Action:   "Send a well-formed JSON body.",
	}
}

// NewValidationError はフォーム検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "Correct the highlighted fields and submit again.",
	}
}

// NewGameNotFoundError はゲーム未検出エラーを生成する。
func NewGameNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeGameNotFound,
		Message:  fmt.Sprintf("Game not found: %d", id),
		Category: "catalog",
		Action:   "Return to the game list and pick an existing game.",
	}
}

// NewSubmissionInFlightError は送信中の二重送信エラーを生成する。
func NewSubmissionInFlightError() *APIError {
	return &APIError{
		Code:     ErrCodeSubmissionInFlight,
		Message:  "Another change is still being saved.",
		Category: "catalog",
		Action:   "Wait for the current change to finish.",
	}
}

// NewConfirmationRequiredError は削除確認が無い場合のエラーを生成する。
func NewConfirmationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationNeeded,
		Message:  "Are you sure you want to delete this game?",
		Category: "catalog",
		Action:   "Repeat the request with X-Confirm-Delete: true.",
	}
}

// NewMutationFailedError は作成・更新・削除の失敗をユーザー向けに通知するエラーを生成する。
func NewMutationFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeMutationFailed,
		Message:  message,
		Category: "catalog",
		Action:   "Try again in a moment.",
	}
}

// NewInvalidCredentialsError はサインイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewEmailNotConfirmedError は未確認アカウントでのサインインエラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotConfirmed,
		Message:  "Email address has not been confirmed.",
		Category: "auth",
		Action:   "Check your email to confirm your account.",
	}
}

// NewEmailTakenError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Sign in instead.",
	}
}

// NewPasswordMismatchError はパスワード確認不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "Passwords do not match.",
		Category: "validation",
		Action:   "Enter the same password twice.",
	}
}

// NewInvalidConfirmationError は無効な確認トークンのエラーを生成する。
func NewInvalidConfirmationError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfirmation,
		Message:  "The confirmation link is invalid or already used.",
		Category: "auth",
		Action:   "Sign up again to receive a new link.",
	}
}
