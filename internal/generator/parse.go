package generator

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/moviehunt-blog/internal/llm"
	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// レスポンスのフィールドラベル
const (
	labelTitle           = "TITRE:"
	labelExcerpt         = "EXTRAIT:"
	labelTags            = "TAGS:"
	labelMetaTitle       = "META_TITRE:"
	labelMetaDescription = "META_DESCRIPTION:"
	labelKeywords        = "KEYWORDS:"
	labelContent         = "CONTENU:"
)

// excerptRunes は本文から抜粋を作るときの最大文字数。
const excerptRunes = 200

// parsedResponse はモデル出力をラベルごとに分解した結果。
type parsedResponse struct {
	Title           string
	Excerpt         string
	Tags            []string
	MetaTitle       string
	MetaDescription string
	Keywords        []string
	Content         string
}

// parseResponse はラベル付きの出力を分解する。
// CONTENU: 以降はすべて本文として扱う。CONTENU: がない場合は、ラベルのない行を本文とみなす。
func parseResponse(raw string) parsedResponse {
	var out parsedResponse
	var body, loose []string
	inContent := false

	for _, line := range strings.Split(llm.StripCodeFence(raw), "\n") {
		if inContent {
			body = append(body, line)
			continue
		}
		label, value, ok := splitLabel(line)
		if !ok {
			loose = append(loose, line)
			continue
		}
		switch label {
		case labelTitle:
			out.Title = value
		case labelExcerpt:
			out.Excerpt = value
		case labelTags:
			out.Tags = splitList(value)
		case labelMetaTitle:
			out.MetaTitle = value
		case labelMetaDescription:
			out.MetaDescription = value
		case labelKeywords:
			out.Keywords = splitList(value)
		case labelContent:
			inContent = true
			if value != "" {
				body = append(body, value)
			}
		}
	}

	if inContent {
		out.Content = strings.TrimSpace(strings.Join(body, "\n"))
	} else {
		out.Content = strings.TrimSpace(strings.Join(loose, "\n"))
	}
	return out
}

var labels = []string{
	labelTitle, labelExcerpt, labelTags, labelMetaTitle,
	labelMetaDescription, labelKeywords, labelContent,
}

// splitLabel は行頭のラベルを判定する。Markdownの強調記号で囲まれたラベルも受け付ける。
func splitLabel(line string) (string, string, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(line), "*#_ ")
	for _, l := range labels {
		if strings.HasPrefix(trimmed, l) {
			value := strings.TrimLeft(trimmed[len(l):], "*_")
			return l, strings.Trim(strings.TrimSpace(value), "[]"), true
		}
		// **TITRE**: の形式
		name := strings.TrimSuffix(l, ":")
		if rest, ok := strings.CutPrefix(trimmed, name); ok {
			rest = strings.TrimLeft(rest, "*_")
			if v, ok := strings.CutPrefix(rest, ":"); ok {
				return l, strings.Trim(strings.TrimSpace(v), "[]"), true
			}
		}
	}
	return "", "", false
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// excerptFromHTML は本文HTMLのテキストから抜粋を作る。
// excerptRunes文字を超える場合は切り詰めて"..."を付ける。
func excerptFromHTML(html string) string {
	text := html
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:excerptRunes])) + "..."
}

// toArticle は分解結果に既定値を補い、生成記事にまとめる。
func toArticle(p parsedResponse, film *model.ScrapedFilm) *model.GeneratedArticle {
	title := p.Title
	if title == "" {
		title = film.Title
	}
	excerpt := p.Excerpt
	if excerpt == "" {
		excerpt = excerptFromHTML(p.Content)
	}
	metaTitle := p.MetaTitle
	if metaTitle == "" {
		metaTitle = title
	}
	metaDescription := p.MetaDescription
	if metaDescription == "" {
		metaDescription = excerpt
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	keywords := p.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	var cover string
	if len(film.Images) > 0 {
		cover = film.Images[0]
	}

	m := film.Metadata
	return &model.GeneratedArticle{
		Title:   title,
		Excerpt: excerpt,
		Content: p.Content,
		Tags:    tags,
		SEO: model.SEO{
			MetaTitle:       metaTitle,
			MetaDescription: metaDescription,
			Keywords:        keywords,
		},
		CoverImage: cover,
		Metadata: model.ArticleMetadata{
			MovieTitle:  m.MovieTitle,
			ReleaseYear: m.ReleaseYear,
			Genre:       m.Genre,
			Director:    m.Director,
			Actors:      m.Actors,
			Score:       m.Score,
			Hunted:      m.Hunted,
			HiddenGem:   m.HiddenGem,
		},
	}
}
