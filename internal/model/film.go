package model

import (
	"encoding/json"
	"strings"
)

// FilmSection は上流APIの見出し付きセクション。
type FilmSection struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// FilmRecord は上流コンテンツAPIが返す作品レコード。
type FilmRecord struct {
	Title     string          `json:"title"`
	Slug      string          `json:"slug"`
	Year      json.RawMessage `json:"year,omitempty"`
	Genres    []string        `json:"genres"`
	Score     *float64        `json:"score"`
	Hunted    bool            `json:"hunted"`
	HiddenGem bool            `json:"hidden_gem"`
	Sections  []FilmSection   `json:"sections"`
}

// ReleaseYear は数値・文字列のどちらで届いた公開年も文字列で返す。
// 未設定やnullの場合は空文字列を返す。
func (r *FilmRecord) ReleaseYear() string {
	raw := strings.TrimSpace(string(r.Year))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Year, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(r.Year, &n); err == nil {
		return n.String()
	}
	return ""
}

// Section は見出しが一致するセクションの本文を返す。存在しない場合はfalseを返す。
func (r *FilmRecord) Section(heading string) (string, bool) {
	for _, s := range r.Sections {
		if s.Heading == heading {
			return s.Content, true
		}
	}
	return "", false
}

// FilmSummary は作品一覧APIの1件分。
type FilmSummary struct {
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`
}

// FilmMetadata は生成に渡す構造化メタデータ。
// TMDB由来の項目は補完に成功した場合のみ埋まる。
type FilmMetadata struct {
	MovieTitle  string   `json:"movieTitle"`
	ReleaseYear string   `json:"releaseYear"`
	Genre       []string `json:"genre"`
	Score       *float64 `json:"score"`
	Hunted      bool     `json:"hunted"`
	HiddenGem   bool     `json:"hiddenGem"`
	Slug        string   `json:"slug"`
	Highlights  string   `json:"highlights"`
	Review      string   `json:"review"`
	Synopsis    string   `json:"synopsis"`
	Casting     string   `json:"casting"`
	Actors      []string `json:"actors"`
	Director    string   `json:"director,omitempty"`

	TMDBSynopsis string  `json:"tmdbSynopsis,omitempty"`
	TMDBRating   float64 `json:"tmdbRating,omitempty"`
	Runtime      int     `json:"runtime,omitempty"`
	Budget       int64   `json:"budget,omitempty"`
	Revenue      int64   `json:"revenue,omitempty"`
	Tagline      string  `json:"tagline,omitempty"`
}

// ScrapedFilm はソース取得結果のスナップショット。記事のscrapedDataとして保存する。
type ScrapedFilm struct {
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	Images   []string        `json:"images"`
	Metadata FilmMetadata    `json:"metadata"`
	RawData  json.RawMessage `json:"rawData,omitempty"`
}

// CastMember はTMDBのキャスト1名分。
type CastMember struct {
	Name      string `json:"name"`
	Character string `json:"character"`
	Profile   string `json:"profile,omitempty"`
}

// Enrichment はTMDBから取得した正規化済み補完データ。
type Enrichment struct {
	TMDBID        int          `json:"tmdbId"`
	Title         string       `json:"title"`
	OriginalTitle string       `json:"originalTitle"`
	Synopsis      string       `json:"synopsis"`
	ReleaseDate   string       `json:"releaseDate"`
	Runtime       int          `json:"runtime"`
	Budget        int64        `json:"budget"`
	Revenue       int64        `json:"revenue"`
	Tagline       string       `json:"tagline"`
	VoteAverage   float64      `json:"voteAverage"`
	Genres        []string     `json:"genres"`
	PosterURL     string       `json:"posterUrl,omitempty"`
	BackdropURL   string       `json:"backdropUrl,omitempty"`
	Cast          []CastMember `json:"cast"`
	Director      string       `json:"director,omitempty"`
}

// Apply は補完データをスクレイプ結果にマージする。
// 背景画像がある場合は背景・ポスターを画像リストの先頭に差し込み、
// キャストがある場合は出演者リストをTMDBの名前で置き換える。
func (e *Enrichment) Apply(film *ScrapedFilm) {
	if e == nil || film == nil {
		return
	}
	film.Metadata.TMDBSynopsis = e.Synopsis
	film.Metadata.TMDBRating = e.VoteAverage
	film.Metadata.Runtime = e.Runtime
	film.Metadata.Budget = e.Budget
	film.Metadata.Revenue = e.Revenue
	film.Metadata.Tagline = e.Tagline

	if e.BackdropURL != "" {
		images := []string{e.BackdropURL}
		if e.PosterURL != "" {
			images = append(images, e.PosterURL)
		}
		film.Images = append(images, film.Images...)
	}

	if len(e.Cast) > 0 {
		actors := make([]string, 0, len(e.Cast))
		for _, c := range e.Cast {
			actors = append(actors, c.Name)
		}
		film.Metadata.Actors = actors
	}

	if e.Director != "" {
		film.Metadata.Director = e.Director
	}
}

// GeneratedArticle はコンテンツ生成器の出力。
type GeneratedArticle struct {
	Title      string
	Excerpt    string
	Content    string
	Tags       []string
	SEO        SEO
	CoverImage string
	Metadata   ArticleMetadata
}
