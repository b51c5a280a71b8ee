package source

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// 上流レコードのセクション見出し
const (
	headingCasting    = "Casting"
	headingHighlights = "Pourquoi le voir ?"
	headingReview     = "Notre avis"
	headingSynopsis   = "Synopsis"
)

// actorPattern はキャスティング文から俳優名を取り出す。
// 形式: "Kurt Russell (Acteur (Jimmy Harrell)), John Malkovich (Acteur (Donald Vidrine))"
var actorPattern = regexp.MustCompile(`([^,]+)\s*\(Acteur`)

// Transform は上流レコードを生成器が扱う形に変換する。
// セクションが1つもない場合とCastingセクションがない場合はMalformedRecordErrorを返す。
func (f *Fetcher) Transform(rec *model.FilmRecord, raw json.RawMessage) (*model.ScrapedFilm, error) {
	if rec == nil || len(rec.Sections) == 0 {
		return nil, model.NewMalformedRecordError("record has no sections")
	}
	casting, ok := rec.Section(headingCasting)
	if !ok {
		return nil, model.NewMalformedRecordError("casting section is missing")
	}

	parts := make([]string, 0, len(rec.Sections))
	for _, s := range rec.Sections {
		parts = append(parts, s.Heading+"\n"+s.Content+"\n")
	}

	highlights, _ := rec.Section(headingHighlights)
	review, _ := rec.Section(headingReview)
	synopsis, _ := rec.Section(headingSynopsis)

	genres := rec.Genres
	if genres == nil {
		genres = []string{}
	}

	return &model.ScrapedFilm{
		Title:   rec.Title,
		Content: strings.Join(parts, "\n"),
		Images:  f.filmImages(rec.Slug),
		Metadata: model.FilmMetadata{
			MovieTitle:  rec.Title,
			ReleaseYear: rec.ReleaseYear(),
			Genre:       genres,
			Score:       rec.Score,
			Hunted:      rec.Hunted,
			HiddenGem:   rec.HiddenGem,
			Slug:        rec.Slug,
			Highlights:  highlights,
			Review:      review,
			Synopsis:    synopsis,
			Casting:     casting,
			Actors:      ExtractActors(casting),
		},
		RawData: raw,
	}, nil
}

// ExtractActors はキャスティング文から「(Acteur」が続く名前を順に取り出す。
func ExtractActors(casting string) []string {
	actors := []string{}
	for _, m := range actorPattern.FindAllStringSubmatch(casting, -1) {
		if name := strings.TrimSpace(m[1]); name != "" {
			actors = append(actors, name)
		}
	}
	return actors
}

// filmImages はソースサイトの命名規則に従ったカバー画像とOGP画像のURLを返す。
func (f *Fetcher) filmImages(slug string) []string {
	if slug == "" {
		return []string{}
	}
	return []string{
		f.siteURL + "/images/films/" + slug + ".jpg",
		f.siteURL + "/og-images/" + slug + ".jpg",
	}
}
