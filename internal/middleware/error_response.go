package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/mentorlink/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeNotEligibleVoter:
		return http.StatusForbidden
	case model.ErrCodePollNotFound, model.ErrCodeNotificationNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyVoted, model.ErrCodePollClosed:
		return http.StatusConflict
	case model.ErrCodeInvalidOption, model.ErrCodeInvalidFilter, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeTransientStoreFailure:
		return http.StatusServiceUnavailable
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteAPIError はerrがAPIErrorであればコードに応じたステータスで書き込み、
// それ以外は内部エラーとして扱う。APIErrorとして書き込んだ場合はtrueを返す。
func WriteAPIError(w http.ResponseWriter, err error) bool {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return false
	}
	WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
	return true
}
