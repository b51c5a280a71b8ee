// Package slug はタイトルからURLスラッグを生成する。
package slug

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Make はタイトルをスラッグに変換する。
// 小文字化し、NFD分解で結合文字（アクセント記号）を除去したうえで、
// 英数字以外の連続を1つのハイフンにまとめ、前後のハイフンを取り除く。
func Make(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.ToLower(title))
	if err != nil {
		stripped = strings.ToLower(title)
	}
	s := nonAlnum.ReplaceAllString(stripped, "-")
	return strings.Trim(s, "-")
}

// WithSuffix は衝突回避用に連番サフィックスを付与する。n<2の場合はそのまま返す。
func WithSuffix(base string, n int) string {
	if n < 2 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}
