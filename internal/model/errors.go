package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 運用APIの呼び出し元に原因カテゴリと対処方法を返す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, alert, source, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAlertNotFound       = "ALERT_NOT_FOUND"
	ErrCodeSourceNotFound      = "SOURCE_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInvalidStatusChange = "INVALID_STATUS_TRANSITION"
	ErrCodeInvalidPreference   = "INVALID_PREFERENCE"
	ErrCodeInvalidChange       = "INVALID_CHANGE"
	ErrCodeJobAlreadyRunning   = "JOB_ALREADY_RUNNING"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewAlertNotFoundError はアラート未検出エラーを生成する。
func NewAlertNotFoundError(alertID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlertNotFound,
		Message:  fmt.Sprintf("指定されたアラートが見つかりません: %s", alertID),
		Category: "alert",
		Action:   "アラートIDを確認してください。",
	}
}

// NewSourceNotFoundError はSource未検出エラーを生成する。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたSourceが見つかりません: %s", sourceID),
		Category: "source",
		Action:   "Source IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "validation",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewInvalidStatusChangeError は許可されていない状態遷移のエラーを生成する。
func NewInvalidStatusChangeError(from, to AlertStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatusChange,
		Message:  fmt.Sprintf("アラートの状態を %s から %s に変更できません。", from, to),
		Category: "alert",
		Action:   "ARCHIVEDのアラートは変更できません。",
	}
}

// NewInvalidPreferenceError は配信設定の検証エラーを生成する。
func NewInvalidPreferenceError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPreference,
		Message:  fmt.Sprintf("無効な配信設定です: %s", reason),
		Category: "validation",
		Action:   "minSeverity には INFO、LOW、MEDIUM、HIGH、CRITICAL のいずれかを指定してください。",
	}
}

// NewInvalidChangeError は手動登録された変更の検証エラーを生成する。
func NewInvalidChangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidChange,
		Message:  fmt.Sprintf("無効な変更です: %s", reason),
		Category: "validation",
		Action:   "type と field、newValue または oldValue を指定してください。",
	}
}

// NewJobAlreadyRunningError はジョブが他のプロセスで実行中の場合のエラーを生成する。
func NewJobAlreadyRunningError(job string) *APIError {
	return &APIError{
		Code:     ErrCodeJobAlreadyRunning,
		Message:  fmt.Sprintf("ジョブ %s は既に実行中です。", job),
		Category: "system",
		Action:   "実行中のジョブの完了を待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は管理トークン不一致のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "Authorization ヘッダーに Bearer トークンを指定してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ出力する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After ヘッダーの秒数だけ待ってから再度お試しください。",
	}
}
