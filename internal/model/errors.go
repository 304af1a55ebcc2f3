// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, notification, poll, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	ErrCodeAlreadyVoted          = "ALREADY_VOTED"
	ErrCodePollClosed            = "POLL_CLOSED"
	ErrCodePollNotFound          = "POLL_NOT_FOUND"
	ErrCodeNotEligibleVoter      = "NOT_ELIGIBLE_VOTER"
	ErrCodeNotificationNotFound  = "NOTIFICATION_NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeTransientStoreFailure = "TRANSIENT_STORE_FAILURE"
	ErrCodeInvalidOption         = "INVALID_OPTION"
	ErrCodeInvalidFilter         = "INVALID_FILTER"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
)

// IsCode はerrがAPIErrorであり、指定コードを持つかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewAlreadyVotedError は同一投票への二重投票エラーを生成する。
func NewAlreadyVotedError(pollID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyVoted,
		Message:  fmt.Sprintf("この投票には既に投票済みです: %s", pollID),
		Category: "poll",
		Action:   "投票の変更はできません。結果の発表をお待ちください。",
	}
}

// NewPollClosedError は締め切り後の投票エラーを生成する。
func NewPollClosedError(pollID string) *APIError {
	return &APIError{
		Code:     ErrCodePollClosed,
		Message:  fmt.Sprintf("この投票は締め切られています: %s", pollID),
		Category: "poll",
		Action:   "次回の週次投票に参加してください。",
	}
}

// NewNotEligibleVoterError は投票開始時点の有権者以外による投票エラーを生成する。
func NewNotEligibleVoterError(pollID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotEligibleVoter,
		Message:  fmt.Sprintf("この投票の投票資格がありません: %s", pollID),
		Category: "poll",
		Action:   "投票開始後に参加したユーザーは次回の週次投票から参加できます。",
	}
}

// NewPollNotFoundError は投票未検出エラーを生成する。
func NewPollNotFoundError(pollID string) *APIError {
	return &APIError{
		Code:     ErrCodePollNotFound,
		Message:  fmt.Sprintf("指定された投票が見つかりません: %s", pollID),
		Category: "poll",
		Action:   "投票IDを確認してください。",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(notificationID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", notificationID),
		Category: "notification",
		Action:   "通知一覧を再読み込みしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は所有者以外による操作エラーを生成する。
func NewForbiddenError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この%sを操作する権限がありません。", resource),
		Category: "auth",
		Action:   "自分宛ての項目のみ操作できます。",
	}
}

// NewTransientStoreError は永続化層の一時的な障害エラーを生成する。
// causeは内部ログ用に保持し、ユーザー向けメッセージには含めない。
func NewTransientStoreError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeTransientStoreFailure,
		Message:  "データの保存に一時的に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewInvalidOptionError は存在しない選択肢への投票エラーを生成する。
func NewInvalidOptionError(index int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOption,
		Message:  fmt.Sprintf("無効な選択肢です: %d", index),
		Category: "validation",
		Action:   "表示されている選択肢から選んでください。",
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s", filter),
		Category: "validation",
		Action:   "is_readにはtrueまたはfalse、typeには定義済みの通知種別を指定してください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}
