package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, gateway, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeOriginRejected      = "ORIGIN_REJECTED"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidChannelID    = "INVALID_CHANNEL_ID"
	ErrCodeInvalidQuery        = "INVALID_QUERY"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamMalformed   = "UPSTREAM_MALFORMED"
	ErrCodeSearchParseFailed   = "SEARCH_PARSE_FAILED"
	ErrCodeAlreadyFollowed     = "ALREADY_FOLLOWED"
)

// NewOriginRejectedError はオリジン拒否エラーを生成する。
func NewOriginRejectedError(origin string) *APIError {
	return &APIError{
		Code:     ErrCodeOriginRejected,
		Message:  fmt.Sprintf("このオリジンからのアクセスは許可されていません: %s", origin),
		Category: "gateway",
		Action:   "許可されたオリジンからアクセスしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が制限を超えています。",
		Category: "gateway",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はルーティング不能なリクエストのエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "channelId または search クエリパラメータが必要です。",
		Category: "validation",
		Action:   "リクエストパラメータを確認してください。",
	}
}

// NewInvalidChannelIDError は不正なチャンネルID形式のエラーを生成する。
func NewInvalidChannelIDError(channelID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidChannelID,
		Message:  fmt.Sprintf("チャンネルIDの形式が不正です: %s", channelID),
		Category: "validation",
		Action:   "UCで始まる24文字のチャンネルIDを指定してください。",
	}
}

// NewInvalidQueryError は不正な検索クエリのエラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("検索クエリが不正です: %s", reason),
		Category: "validation",
		Action:   "2文字以上100文字以下の検索キーワードを指定してください。",
	}
}

// NewUpstreamUnavailableError はアップストリーム到達不能エラーを生成する。
func NewUpstreamUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("アップストリームへの接続に失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamMalformedError はアップストリーム応答の形式不正エラーを生成する。
func NewUpstreamMalformedError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamMalformed,
		Message:  "アップストリームの応答が期待する形式ではありません。",
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSearchParseFailedError は検索結果パース失敗エラーを生成する。
func NewSearchParseFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSearchParseFailed,
		Message:  fmt.Sprintf("検索結果の解析に失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAlreadyFollowedError はフォロー済みチャンネルの重複フォローエラーを生成する。
func NewAlreadyFollowedError(channelID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyFollowed,
		Message:  fmt.Sprintf("このチャンネルは既にフォローしています: %s", channelID),
		Category: "validation",
		Action:   "フォロー一覧を確認してください。",
	}
}
