package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/mentorlink/internal/middleware"
	"github.com/hitoshi/mentorlink/internal/model"
)

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットで書き込む。
// APIError以外のエラーは詳細をログにのみ残し、500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if model.IsCode(err, model.ErrCodeTransientStoreFailure) {
		slog.Error("永続化層で一時的な障害が発生しました",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	if !middleware.WriteAPIError(w, err) {
		slog.Error("内部エラーが発生しました",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// requireUser はセッションミドルウェアが設定したユーザーIDを返す。
// 取得できない場合は401を書き込みfalseを返す。
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// queryInt はクエリパラメータを正の整数として読み取る。
// 未指定の場合はdefを返し、不正な値の場合はエラーを返す。
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, model.NewInvalidRequestError(name + "には1以上の整数を指定してください。")
	}
	return v, nil
}
