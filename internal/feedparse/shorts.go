package feedparse

import "regexp"

// ShortsClassifier は動画タイトルからショート動画らしさを判定する関数。
// タイトル以外の情報(動画長など)はフィードに含まれないため、
// 判定はタイトルのヒューリスティックに限られる。
type ShortsClassifier func(title string) bool

var hashtagPattern = regexp.MustCompile(`#\w+`)

// pictographicRanges は絵文字と記号のUnicode範囲。
// ショート動画のタイトルは絵文字を多用する傾向に基づく。
var pictographicRanges = [...][2]rune{
	{0x1F000, 0x1F6FF},
	{0x1F900, 0x1F9FF},
	{0x2600, 0x26FF},
	{0x2700, 0x27BF},
	{0x1F300, 0x1F64F},
}

// DefaultShortsClassifier はハッシュタグまたは絵文字を含むタイトルを
// ショート動画と判定する。
func DefaultShortsClassifier(title string) bool {
	if hashtagPattern.MatchString(title) {
		return true
	}
	for _, r := range title {
		for _, rng := range pictographicRanges {
			if r >= rng[0] && r <= rng[1] {
				return true
			}
		}
	}
	return false
}
