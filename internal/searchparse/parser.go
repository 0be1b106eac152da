package searchparse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/fjcloud/yt-feed/internal/model"
)

// maxResults は1回の検索で返すチャンネル数の上限。
const maxResults = 10

const dataMarker = "var ytInitialData ="

// ParseError は検索結果ページからytInitialDataを取り出せなかったことを示す。
// 中間キーの欠落(結果ゼロ)と区別するため専用の型を持つ。
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("検索結果のパースに失敗: %s", e.Reason)
}

// Parse はYouTube検索結果ページのHTMLからチャンネル一覧を抽出する。
// ytInitialDataマーカーが見つからない、またはJSONがデコードできない場合は
// ParseErrorを返す。中間構造が欠けている場合は空のリストとnilを返す。
func Parse(raw []byte) ([]model.ChannelSummary, error) {
	payload, ok := extractInitialData(raw)
	if !ok {
		return nil, &ParseError{Reason: "ytInitialDataマーカーが見つかりません"}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, &ParseError{Reason: "ytInitialDataのJSONデコードに失敗"}
	}

	return collectChannels(data), nil
}

// extractInitialData はscript要素を走査してytInitialDataのJSON本体を切り出す。
// HTMLとして解釈できない入力に備えて生バイト列の走査にもフォールバックする。
func extractInitialData(raw []byte) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err == nil {
		if payload, ok := findInScripts(doc); ok {
			return payload, true
		}
	}
	return sliceJSONObject(string(raw))
}

func findInScripts(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "script" {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			if payload, ok := sliceJSONObject(n.FirstChild.Data); ok {
				return payload, true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if payload, ok := findInScripts(c); ok {
			return payload, true
		}
	}
	return "", false
}

// sliceJSONObject はマーカー直後のJSONオブジェクトを波括弧の対応を数えて
// 切り出す。文字列リテラル内の波括弧とエスケープを考慮する。
func sliceJSONObject(text string) (string, bool) {
	idx := strings.Index(text, dataMarker)
	if idx < 0 {
		return "", false
	}
	rest := text[idx+len(dataMarker):]

	start := strings.IndexByte(rest, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(rest); i++ {
		c := rest[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return rest[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// collectChannels はytInitialDataの検索結果構造を段階的に辿り、
// channelRendererのみを収集する。途中のキーが欠けていても空リストを返す。
func collectChannels(data map[string]any) []model.ChannelSummary {
	sections := lookupSlice(data,
		"contents",
		"twoColumnSearchResultsRenderer",
		"primaryContents",
		"sectionListRenderer",
		"contents",
	)

	channels := make([]model.ChannelSummary, 0, maxResults)
	for _, section := range sections {
		sectionMap, ok := section.(map[string]any)
		if !ok {
			continue
		}
		items := lookupSlice(sectionMap, "itemSectionRenderer", "contents")
		for _, item := range items {
			itemMap, ok := item.(map[string]any)
			if !ok {
				continue
			}
			renderer, ok := lookupMap(itemMap, "channelRenderer")
			if !ok {
				continue
			}
			channels = append(channels, buildSummary(renderer))
			if len(channels) >= maxResults {
				return channels
			}
		}
	}
	return channels
}

func buildSummary(renderer map[string]any) model.ChannelSummary {
	summary := model.ChannelSummary{
		ChannelID:       lookupString(renderer, "channelId"),
		ChannelName:     lookupString(renderer, "title", "simpleText"),
		SubscriberCount: "N/A",
	}

	// 新レイアウトでは登録者数がvideoCountTextに格納されることがある
	if count := lookupString(renderer, "subscriberCountText", "simpleText"); count != "" {
		summary.SubscriberCount = count
	} else if count := lookupString(renderer, "videoCountText", "simpleText"); count != "" {
		summary.SubscriberCount = count
	}

	if thumbs := lookupSlice(renderer, "thumbnail", "thumbnails"); len(thumbs) > 0 {
		if last, ok := thumbs[len(thumbs)-1].(map[string]any); ok {
			summary.ThumbnailURL = normalizeThumbnailURL(lookupString(last, "url"))
		}
	}
	return summary
}

// normalizeThumbnailURL はプロトコル相対URLにhttps:を補う。
func normalizeThumbnailURL(url string) string {
	if strings.HasPrefix(url, "//") {
		return "https:" + url
	}
	return url
}

// lookupMap はネストしたmapをキー列に沿って降りる。型が合わなければfalse。
func lookupMap(data map[string]any, keys ...string) (map[string]any, bool) {
	current := data
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// lookupSlice は最後のキーがスライスであるパスを降りる。欠落時はnil。
func lookupSlice(data map[string]any, keys ...string) []any {
	if len(keys) == 0 {
		return nil
	}
	parent := data
	if len(keys) > 1 {
		var ok bool
		parent, ok = lookupMap(data, keys[:len(keys)-1]...)
		if !ok {
			return nil
		}
	}
	slice, _ := parent[keys[len(keys)-1]].([]any)
	return slice
}

// lookupString はパスの末端が文字列である値を取り出す。欠落時は空文字列。
func lookupString(data map[string]any, keys ...string) string {
	if len(keys) == 0 {
		return ""
	}
	parent := data
	if len(keys) > 1 {
		var ok bool
		parent, ok = lookupMap(data, keys[:len(keys)-1]...)
		if !ok {
			return ""
		}
	}
	s, _ := parent[keys[len(keys)-1]].(string)
	return s
}
