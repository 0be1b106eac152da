package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fjcloud/yt-feed/internal/cache"
	"github.com/fjcloud/yt-feed/internal/middleware"
	"github.com/fjcloud/yt-feed/internal/model"
	"github.com/fjcloud/yt-feed/internal/upstream"
)

const validChannelID = "UCabcdefghijklmnopqrstuv"

const validFeedBody = `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>c</title></feed>`

const validSearchBody = `<html><script>var ytInitialData = {"contents":{"twoColumnSearchResultsRenderer":{"primaryContents":{"sectionListRenderer":{"contents":[{"itemSectionRenderer":{"contents":[{"channelRenderer":{"channelId":"UC_found_channel","title":{"simpleText":"Found"},"subscriberCountText":{"simpleText":"100人"}}}]}}]}}}}};</script></html>`

// mockFetcher は関数フィールドで挙動を差し替えるFetcherのモック。
type mockFetcher struct {
	getFunc func(ctx context.Context, targetURL string) (*upstream.Response, error)
	calls   int
	lastURL string
}

func (m *mockFetcher) Get(ctx context.Context, targetURL string) (*upstream.Response, error) {
	m.calls++
	m.lastURL = targetURL
	return m.getFunc(ctx, targetURL)
}

func newTestHandler(fetcher Fetcher) *Handler {
	return NewHandler(
		fetcher,
		cache.NewResponseCache(15*time.Minute, 5*time.Minute),
		"https://www.youtube.com/feeds/videos.xml",
		"https://www.youtube.com/results",
		nil,
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
	)
}

func doRequest(h *Handler, rawQuery string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/?"+rawQuery, nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestHandle_NoRecognizedParamsReturns400(t *testing.T) {
	h := newTestHandler(&mockFetcher{})

	rec := doRequest(h, "unknown=value")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidRequest)
	}
}

func TestHandleFeed_InvalidChannelIDReturns400(t *testing.T) {
	fetcher := &mockFetcher{}
	h := newTestHandler(fetcher)

	for _, id := range []string{"notachannel", "UCshort", "XXabcdefghijklmnopqrstuv", validChannelID + "extra"} {
		rec := doRequest(h, "channelId="+id)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("channelId %q: status = %d, want 400", id, rec.Code)
		}
		if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeInvalidChannelID {
			t.Errorf("channelId %q: code = %q", id, body.Code)
		}
	}
	if fetcher.calls != 0 {
		t.Errorf("upstream calls = %d, want 0 for invalid ids", fetcher.calls)
	}
}

func TestHandleFeed_FetchesUpstreamAndCaches(t *testing.T) {
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte(validFeedBody)}, nil
		},
	}
	h := newTestHandler(fetcher)

	rec := doRequest(h, "channelId="+validChannelID)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/atom+xml; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=900" {
		t.Errorf("Cache-Control = %q, want public, max-age=900", got)
	}
	if rec.Body.String() != validFeedBody {
		t.Errorf("body mismatch")
	}
	if !strings.Contains(fetcher.lastURL, "channel_id="+validChannelID) {
		t.Errorf("upstream URL = %q, want channel_id param", fetcher.lastURL)
	}

	// 2回目はキャッシュから返り、アップストリームへは行かない
	rec = doRequest(h, "channelId="+validChannelID)
	if rec.Code != http.StatusOK {
		t.Errorf("cached status = %d, want 200", rec.Code)
	}
	if fetcher.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", fetcher.calls)
	}
}

func TestHandleFeed_MalformedPayloadReturns502AndIsNotCached(t *testing.T) {
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte("<html>blocked</html>")}, nil
		},
	}
	h := newTestHandler(fetcher)

	rec := doRequest(h, "channelId="+validChannelID)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeUpstreamMalformed {
		t.Errorf("code = %q", body.Code)
	}

	// 不正ペイロードはキャッシュされないため再度アップストリームへ行く
	doRequest(h, "channelId="+validChannelID)
	if fetcher.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", fetcher.calls)
	}
}

func TestHandleFeed_NetworkErrorReturns503(t *testing.T) {
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := newTestHandler(fetcher)

	rec := doRequest(h, "channelId="+validChannelID)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeUpstreamUnavailable {
		t.Errorf("code = %q", body.Code)
	}
}

// TestHandleFeed_UpstreamStatusPassesThrough は存在しないチャンネルの404を
// 含め、アップストリームの非2xxステータスが透過されることを検証する。
func TestHandleFeed_UpstreamStatusPassesThrough(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusTooManyRequests} {
		fetcher := &mockFetcher{
			getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
				return &upstream.Response{StatusCode: status, Body: []byte("error")}, nil
			},
		}
		h := newTestHandler(fetcher)

		rec := doRequest(h, "channelId="+validChannelID)
		if rec.Code != status {
			t.Errorf("upstream %d: status = %d, want pass-through", status, rec.Code)
		}
	}
}

func TestHandleSearch_QueryLengthValidation(t *testing.T) {
	fetcher := &mockFetcher{}
	h := newTestHandler(fetcher)

	tests := []struct {
		name  string
		query string
	}{
		{"single character", "a"},
		{"whitespace only", "   "},
		{"over 100 characters", strings.Repeat("x", 101)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, "search="+url.QueryEscape(tt.query))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeInvalidQuery {
				t.Errorf("code = %q", body.Code)
			}
		})
	}
	if fetcher.calls != 0 {
		t.Errorf("upstream calls = %d, want 0", fetcher.calls)
	}
}

// TestHandleSearch_QueryLengthCountsCharacters は長さの境界がバイト数ではなく
// 文字数で判定されることを検証する。
func TestHandleSearch_QueryLengthCountsCharacters(t *testing.T) {
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte(validSearchBody)}, nil
		},
	}
	h := newTestHandler(fetcher)

	// 40文字（UTF-8で120バイト）の日本語クエリは100文字境界の内側
	query := strings.Repeat("猫", 40)
	rec := doRequest(h, "search="+url.QueryEscape(query))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for 40-character multibyte query", rec.Code)
	}

	// 101文字なら多バイトでも拒否される
	rec = doRequest(h, "search="+url.QueryEscape(strings.Repeat("猫", 101)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for 101-character query", rec.Code)
	}
}

func TestHandleSearch_SanitizesQueryBeforeUpstream(t *testing.T) {
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte(validSearchBody)}, nil
		},
	}
	h := newTestHandler(fetcher)

	rec := doRequest(h, "search="+url.QueryEscape(`golang <script>alert(1)</script> tips`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(fetcher.lastURL, "script") || strings.Contains(fetcher.lastURL, "%3C") {
		t.Errorf("upstream URL %q still contains markup", fetcher.lastURL)
	}
	if !strings.Contains(fetcher.lastURL, "search_query=") {
		t.Errorf("upstream URL = %q, want search_query param", fetcher.lastURL)
	}
}

func TestHandleSearch_ReturnsChannelsAsJSON(t *testing.T) {
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte(validSearchBody)}, nil
		},
	}
	h := newTestHandler(fetcher)

	rec := doRequest(h, "search=golang")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("Cache-Control = %q, want public, max-age=300", got)
	}

	var channels []model.ChannelSummary
	if err := json.NewDecoder(rec.Body).Decode(&channels); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(channels) != 1 || channels[0].ChannelID != "UC_found_channel" {
		t.Errorf("channels = %+v", channels)
	}
}

// TestHandleSearch_CacheKeyIsCaseInsensitive は大文字小文字の違いが
// 同一キャッシュエントリに合流することを検証する。
func TestHandleSearch_CacheKeyIsCaseInsensitive(t *testing.T) {
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte(validSearchBody)}, nil
		},
	}
	h := newTestHandler(fetcher)

	doRequest(h, "search=GoLang")
	doRequest(h, "search=golang")

	if fetcher.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second request cached)", fetcher.calls)
	}
}

func TestHandleSearch_MissingMarkerReturns502(t *testing.T) {
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte("<html>no data</html>")}, nil
		},
	}
	h := newTestHandler(fetcher)

	rec := doRequest(h, "search=golang")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeSearchParseFailed {
		t.Errorf("code = %q", body.Code)
	}
}

// TestHandleSearch_EmptyResultIs200 は検索結果ゼロ件が
// エラーではなく空配列の200になることを検証する。
func TestHandleSearch_EmptyResultIs200(t *testing.T) {
	emptyBody := `<html><script>var ytInitialData = {"contents":{}};</script></html>`
	fetcher := &mockFetcher{
		getFunc: func(ctx context.Context, targetURL string) (*upstream.Response, error) {
			return &upstream.Response{StatusCode: http.StatusOK, Body: []byte(emptyBody)}, nil
		},
	}
	h := newTestHandler(fetcher)

	rec := doRequest(h, "search=obscurechannel")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}
