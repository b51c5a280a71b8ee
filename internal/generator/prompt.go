package generator

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Prompts はシステム指示とユーザープロンプトのテンプレート。
type Prompts struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`

	user *template.Template
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
	"deref": func(f *float64) float64 {
		if f == nil {
			return 0
		}
		return *f
	},
	"score": formatScore,
	"tone":  toneGuide,
	"millions": func(n int64) string {
		return strconv.FormatFloat(float64(n)/1_000_000, 'f', 1, 64)
	},
}

// LoadPrompts はYAMLからプロンプトを読み込み、ユーザーテンプレートをコンパイルする。
func LoadPrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("プロンプト定義の読み込みに失敗しました: %w", err)
	}
	if strings.TrimSpace(p.System) == "" || strings.TrimSpace(p.User) == "" {
		return nil, fmt.Errorf("プロンプト定義にsystemまたはuserがありません")
	}
	tmpl, err := template.New("user").Funcs(promptFuncs).Option("missingkey=error").Parse(p.User)
	if err != nil {
		return nil, fmt.Errorf("プロンプトテンプレートの解析に失敗しました: %w", err)
	}
	p.user = tmpl
	return &p, nil
}

// DefaultPrompts は埋め込みのプロンプト定義を返す。
func DefaultPrompts() (*Prompts, error) {
	return LoadPrompts(promptsYAML)
}

// promptData はユーザープロンプトに埋め込む値。
type promptData struct {
	Title        string
	Year         string
	Genres       []string
	Score        *float64
	Hunted       bool
	HiddenGem    bool
	Highlights   string
	Review       string
	HasNegatives bool
	Synopsis     string
	Casting      string
	Actors       []string
	SourceURL    string
	Images       []string

	TMDB       bool
	TMDBRating *float64
	Runtime    int
	Budget     int64
	Revenue    int64
	Tagline    string
	Director   string
}

// BuildPrompt は作品データからユーザープロンプトを組み立てる。
// 画像はカバーと本文中の1枚までを渡す。
func (p *Prompts) BuildPrompt(film *model.ScrapedFilm, sourceURL string) (string, error) {
	m := film.Metadata
	synopsis := strings.TrimSpace(m.Synopsis)
	if synopsis == "" {
		synopsis = strings.TrimSpace(m.TMDBSynopsis)
	}
	review := strings.TrimSpace(m.Review)

	data := promptData{
		Title:        film.Title,
		Year:         m.ReleaseYear,
		Genres:       m.Genre,
		Score:        m.Score,
		Hunted:       m.Hunted,
		HiddenGem:    m.HiddenGem,
		Highlights:   strings.TrimSpace(m.Highlights),
		Review:       review,
		HasNegatives: review != "",
		Synopsis:     synopsis,
		Casting:      strings.TrimSpace(m.Casting),
		Actors:       m.Actors,
		SourceURL:    sourceURL,
		Images:       firstN(film.Images, 2),
		TMDB:         m.TMDBSynopsis != "" || m.TMDBRating > 0,
		Runtime:      m.Runtime,
		Budget:       m.Budget,
		Revenue:      m.Revenue,
		Tagline:      m.Tagline,
		Director:     m.Director,
	}
	if m.TMDBRating > 0 {
		r := m.TMDBRating
		data.TMDBRating = &r
	}

	var b strings.Builder
	if err := p.user.Execute(&b, data); err != nil {
		return "", fmt.Errorf("プロンプトの生成に失敗しました: %w", err)
	}
	return b.String(), nil
}

func formatScore(f *float64) string {
	if f == nil {
		return "?"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// toneGuide はスコア帯に応じた文体の指示を返す。
func toneGuide(f *float64) string {
	if f == nil {
		return "Ton équilibré et nuancé."
	}
	switch s := *f; {
	case s >= 8:
		return "Ton enthousiaste, très positif, recommandation forte."
	case s >= 6:
		return "Ton équilibré, nuancé, recommandation modérée."
	case s >= 4:
		return "Ton critique mais constructif, réserves importantes."
	default:
		return "Ton déçu mais professionnel, film déconseillé."
	}
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
