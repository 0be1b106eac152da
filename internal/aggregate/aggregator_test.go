package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjcloud/yt-feed/internal/cache"
	"github.com/fjcloud/yt-feed/internal/feedparse"
	"github.com/fjcloud/yt-feed/internal/model"
)

type feedEntry struct {
	videoID   string
	title     string
	published string
}

func atomFeed(channelTitle string, entries ...feedEntry) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">` + "\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", channelTitle)
	for _, e := range entries {
		fmt.Fprintf(&b, `<entry><id>yt:video:%s</id><yt:videoId>%s</yt:videoId><title>%s</title><published>%s</published></entry>`+"\n",
			e.videoID, e.videoID, e.title, e.published)
	}
	b.WriteString("</feed>")
	return []byte(b.String())
}

// mockChannelFetcher はチャンネルIDごとに応答を切り替えるモック。
type mockChannelFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	calls     map[string]int
}

func newMockChannelFetcher() *mockChannelFetcher {
	return &mockChannelFetcher{
		responses: make(map[string][]byte),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (m *mockChannelFetcher) FetchChannelFeed(ctx context.Context, channelID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[channelID]++
	if err, ok := m.errs[channelID]; ok {
		return nil, err
	}
	return m.responses[channelID], nil
}

func (m *mockChannelFetcher) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func newTestAggregator(fetcher ChannelFetcher, opts Options) *Aggregator {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if opts.MaxConcurrent == 0 {
		opts.MaxConcurrent = 10
	}
	return New(fetcher, feedparse.NewParser(logger), cache.NewFeedCache(15*time.Minute), opts, logger)
}

func testChannels(ids ...string) []model.Channel {
	channels := make([]model.Channel, 0, len(ids))
	for _, id := range ids {
		channels = append(channels, model.Channel{ID: id, DisplayName: "Channel " + id})
	}
	return channels
}

const (
	channelA = "UCaaaaaaaaaaaaaaaaaaaaaa"
	channelB = "UCbbbbbbbbbbbbbbbbbbbbbb"
	channelC = "UCcccccccccccccccccccccc"
)

// TestRefresh_PartialFailureDoesNotAbort は一部チャンネルの失敗が
// 残りのチャンネルの集約を妨げないことを検証する。
func TestRefresh_PartialFailureDoesNotAbort(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.responses[channelA] = atomFeed("Alpha",
		feedEntry{"vid_a1", "Alpha One", "2026-08-10T12:00:00+00:00"})
	fetcher.errs[channelB] = errors.New("connection reset")
	fetcher.responses[channelC] = atomFeed("Gamma",
		feedEntry{"vid_c1", "Gamma One", "2026-08-09T12:00:00+00:00"})

	agg := newTestAggregator(fetcher, Options{})

	feed, channelErrors := agg.Refresh(context.Background(), testChannels(channelA, channelB, channelC), false)

	if len(feed.Videos) != 2 {
		t.Fatalf("videos = %d, want 2", len(feed.Videos))
	}
	if len(channelErrors) != 1 {
		t.Fatalf("channel errors = %d, want 1", len(channelErrors))
	}
	if channelErrors[0].ChannelID != channelB {
		t.Errorf("failed channel = %q, want %q", channelErrors[0].ChannelID, channelB)
	}
	if channelErrors[0].Code != model.ErrCodeUpstreamUnavailable {
		t.Errorf("error code = %q", channelErrors[0].Code)
	}
}

// TestRefresh_MergeSortedDescending はマージ結果が公開日時の降順で、
// 同時刻はチャンネルの入力順を保つことを検証する。
func TestRefresh_MergeSortedDescending(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.responses[channelA] = atomFeed("Alpha",
		feedEntry{"vid_a1", "Alpha Old", "2026-08-01T00:00:00+00:00"},
		feedEntry{"vid_a2", "Alpha Tie", "2026-08-05T00:00:00+00:00"})
	fetcher.responses[channelB] = atomFeed("Beta",
		feedEntry{"vid_b1", "Beta New", "2026-08-10T00:00:00+00:00"},
		feedEntry{"vid_b2", "Beta Tie", "2026-08-05T00:00:00+00:00"})

	agg := newTestAggregator(fetcher, Options{})

	feed, channelErrors := agg.Refresh(context.Background(), testChannels(channelA, channelB), false)

	if len(channelErrors) != 0 {
		t.Fatalf("channel errors = %v", channelErrors)
	}

	gotOrder := make([]string, 0, len(feed.Videos))
	for _, v := range feed.Videos {
		gotOrder = append(gotOrder, v.VideoID)
	}
	// 降順。同時刻のvid_a2とvid_b2は入力順（A→B）を維持
	wantOrder := []string{"vid_b1", "vid_a2", "vid_b2", "vid_a1"}
	for i, want := range wantOrder {
		if gotOrder[i] != want {
			t.Fatalf("order = %v, want %v", gotOrder, wantOrder)
		}
	}
}

// TestRefresh_CachedFeedShortCircuits は有効なキャッシュがある間は
// アップストリームへ行かないことを検証する。
func TestRefresh_CachedFeedShortCircuits(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.responses[channelA] = atomFeed("Alpha",
		feedEntry{"vid_a1", "Alpha One", "2026-08-10T12:00:00+00:00"})

	agg := newTestAggregator(fetcher, Options{})
	channels := testChannels(channelA)

	first, _ := agg.Refresh(context.Background(), channels, false)
	second, _ := agg.Refresh(context.Background(), channels, false)

	if fetcher.totalCalls() != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.totalCalls())
	}
	if !second.RefreshedAt.Equal(first.RefreshedAt) {
		t.Errorf("cached RefreshedAt differs: %v vs %v", second.RefreshedAt, first.RefreshedAt)
	}
}

func TestRefresh_ForceBypassRefetches(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.responses[channelA] = atomFeed("Alpha",
		feedEntry{"vid_a1", "Alpha One", "2026-08-10T12:00:00+00:00"})

	agg := newTestAggregator(fetcher, Options{})
	channels := testChannels(channelA)

	agg.Refresh(context.Background(), channels, false)
	agg.Refresh(context.Background(), channels, true)

	if fetcher.totalCalls() != 2 {
		t.Errorf("fetch calls = %d, want 2", fetcher.totalCalls())
	}
}

// TestRefresh_FollowSetChangeMissesCache はフォローセットが変わると
// キャッシュキーが変わりリフェッチされることを検証する。
func TestRefresh_FollowSetChangeMissesCache(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.responses[channelA] = atomFeed("Alpha",
		feedEntry{"vid_a1", "Alpha One", "2026-08-10T12:00:00+00:00"})
	fetcher.responses[channelB] = atomFeed("Beta",
		feedEntry{"vid_b1", "Beta One", "2026-08-11T12:00:00+00:00"})

	agg := newTestAggregator(fetcher, Options{})

	agg.Refresh(context.Background(), testChannels(channelA), false)
	feed, _ := agg.Refresh(context.Background(), testChannels(channelA, channelB), false)

	if len(feed.Videos) != 2 {
		t.Errorf("videos = %d, want 2 after follow-set change", len(feed.Videos))
	}
}

// TestRefresh_AllFailedNotCached は全チャンネル失敗の空結果が
// キャッシュを汚さないことを検証する。
func TestRefresh_AllFailedNotCached(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.errs[channelA] = errors.New("unreachable")

	agg := newTestAggregator(fetcher, Options{})
	channels := testChannels(channelA)

	feed, channelErrors := agg.Refresh(context.Background(), channels, false)
	if len(feed.Videos) != 0 || len(channelErrors) != 1 {
		t.Fatalf("videos = %d, errors = %d", len(feed.Videos), len(channelErrors))
	}

	// 失敗が解消したら次のリフレッシュで取得できる
	fetcher.mu.Lock()
	delete(fetcher.errs, channelA)
	fetcher.responses[channelA] = atomFeed("Alpha",
		feedEntry{"vid_a1", "Alpha One", "2026-08-10T12:00:00+00:00"})
	fetcher.mu.Unlock()

	feed, channelErrors = agg.Refresh(context.Background(), channels, false)
	if len(feed.Videos) != 1 || len(channelErrors) != 0 {
		t.Errorf("after recovery: videos = %d, errors = %d", len(feed.Videos), len(channelErrors))
	}
}

// TestRefresh_EmptySuccessfulResultIsCached は全チャンネル成功かつ0件の
// マージ結果もキャッシュされ、再リフレッシュで再取得しないことを検証する。
func TestRefresh_EmptySuccessfulResultIsCached(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.responses[channelA] = atomFeed("Alpha")

	agg := newTestAggregator(fetcher, Options{})
	channels := testChannels(channelA)

	feed, channelErrors := agg.Refresh(context.Background(), channels, false)
	if len(feed.Videos) != 0 || len(channelErrors) != 0 {
		t.Fatalf("videos = %d, errors = %d, want 0 and 0", len(feed.Videos), len(channelErrors))
	}

	agg.Refresh(context.Background(), channels, false)
	if got := fetcher.totalCalls(); got != 1 {
		t.Errorf("fetch calls = %d, want 1 (empty success should be served from cache)", got)
	}
}

func TestRefresh_EmptyChannelListReturnsEmptyFeed(t *testing.T) {
	fetcher := newMockChannelFetcher()
	agg := newTestAggregator(fetcher, Options{})

	feed, channelErrors := agg.Refresh(context.Background(), nil, false)

	if len(feed.Videos) != 0 {
		t.Errorf("videos = %d, want 0", len(feed.Videos))
	}
	if len(channelErrors) != 0 {
		t.Errorf("channel errors = %d, want 0", len(channelErrors))
	}
	if fetcher.totalCalls() != 0 {
		t.Errorf("fetch calls = %d, want 0", fetcher.totalCalls())
	}
}

// TestRefresh_MalformedFeedReportedAsChannelError はパース不能な応答が
// チャンネル単位のエラーとして報告されることを検証する。
func TestRefresh_MalformedFeedReportedAsChannelError(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.responses[channelA] = []byte("not a feed")

	agg := newTestAggregator(fetcher, Options{})

	feed, channelErrors := agg.Refresh(context.Background(), testChannels(channelA), false)

	if len(feed.Videos) != 0 {
		t.Errorf("videos = %d, want 0", len(feed.Videos))
	}
	if len(channelErrors) != 1 || channelErrors[0].Code != model.ErrCodeUpstreamMalformed {
		t.Errorf("channel errors = %+v", channelErrors)
	}
}

// concurrencyProbe は同時実行数の最大値を観測するモック。
type concurrencyProbe struct {
	current atomic.Int32
	peak    atomic.Int32
	body    []byte
}

func (p *concurrencyProbe) FetchChannelFeed(ctx context.Context, channelID string) ([]byte, error) {
	n := p.current.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	p.current.Add(-1)
	return p.body, nil
}

func TestRefresh_RespectsConcurrencyCap(t *testing.T) {
	probe := &concurrencyProbe{
		body: atomFeed("Probe", feedEntry{"vid_p1", "Probe One", "2026-08-10T12:00:00+00:00"}),
	}
	agg := newTestAggregator(probe, Options{MaxConcurrent: 2})

	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		ids = append(ids, fmt.Sprintf("UCprobe%015dchannel", i))
	}
	agg.Refresh(context.Background(), testChannels(ids...), false)

	if peak := probe.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
}

// TestRefresh_FillsMissingChannelIdentity はフィード側に識別情報が欠けて
// いる場合にフォロー情報で補完されることを検証する。
func TestRefresh_FillsMissingChannelIdentity(t *testing.T) {
	fetcher := newMockChannelFetcher()
	fetcher.responses[channelA] = atomFeed("",
		feedEntry{"vid_a1", "Alpha One", "2026-08-10T12:00:00+00:00"})

	agg := newTestAggregator(fetcher, Options{})

	feed, _ := agg.Refresh(context.Background(), testChannels(channelA), false)

	if len(feed.Videos) != 1 {
		t.Fatalf("videos = %d, want 1", len(feed.Videos))
	}
	if feed.Videos[0].ChannelID != channelA {
		t.Errorf("ChannelID = %q, want %q", feed.Videos[0].ChannelID, channelA)
	}
	if feed.Videos[0].ChannelTitle != "Channel "+channelA {
		t.Errorf("ChannelTitle = %q", feed.Videos[0].ChannelTitle)
	}
}
