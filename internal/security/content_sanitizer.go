package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は生成された記事本文HTMLをサニタイズする。
// 生成モデルの出力を保存する前と、管理画面からの本文更新時に使う。
type ContentSanitizerService interface {
	// Sanitize はエディタが扱えるタグだけを残したHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer は記事エディタ(CKEditor)の出力に合わせたポリシーで
// サニタイザを生成する。
//   - 見出し: h1〜h4
//   - 段落・装飾: p, br, strong, em, u, s, blockquote, hr
//   - リスト: ul, ol, li
//   - 図版: figure, figcaption, img(src, alt, width, height)
//   - リンク: a(href)。外部リンクにはtarget="_blank"とrel="noopener noreferrer"を付与
//   - script, style, iframe, on*属性は除去
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h1", "h2", "h3", "h4",
		"p", "br", "strong", "em", "u", "s", "blockquote", "hr",
		"ul", "ol", "li",
		"figure", "figcaption",
	)
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("figure", "p")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("width", "height").Matching(bluemonday.Integer).OnElements("img")

	p.AllowURLSchemes("http", "https")
	p.AllowURLSchemeWithCustomPolicy("mailto", func(u *url.URL) bool {
		return u.Opaque != ""
	})

	return &contentSanitizer{policy: p}
}

// Sanitize はHTMLコンテンツをサニタイズする。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
