// Package tmdb はThe Movie Database APIによる作品メタデータ補完を提供する。
// 補完は任意処理のため、通信失敗や未ヒットはログに記録してnilを返し、呼び出し元へは伝播しない。
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

const (
	// maxCast は補完データに含めるキャストの上限人数。
	maxCast = 10

	posterSize   = "w500"
	backdropSize = "original"
	profileSize  = "w185"
)

// Options はTMDBクライアントの接続設定。
type Options struct {
	APIKey       string
	BaseURL      string
	ImageBaseURL string
	Language     string
}

// Client はTMDB APIのクライアント。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	apiKey       string
	baseURL      string // テスト用に差し替え可能
	imageBaseURL string
	language     string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, opts Options) *Client {
	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		imageBaseURL: strings.TrimRight(opts.ImageBaseURL, "/"),
		language:     opts.Language,
	}
}

// Enabled はAPIキーが設定されているかを返す。未設定の場合は補完をスキップする。
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// SearchResult は検索APIの1件分。
type SearchResult struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

type namedEntry struct {
	Name string `json:"name"`
}

type castEntry struct {
	Name        string `json:"name"`
	Character   string `json:"character"`
	ProfilePath string `json:"profile_path"`
}

type crewEntry struct {
	Name string `json:"name"`
	Job  string `json:"job"`
}

// Details は作品詳細APIのレスポンスのうち利用する項目。
type Details struct {
	ID            int          `json:"id"`
	Title         string       `json:"title"`
	OriginalTitle string       `json:"original_title"`
	Overview      string       `json:"overview"`
	ReleaseDate   string       `json:"release_date"`
	Runtime       int          `json:"runtime"`
	Budget        int64        `json:"budget"`
	Revenue       int64        `json:"revenue"`
	Tagline       string       `json:"tagline"`
	VoteAverage   float64      `json:"vote_average"`
	PosterPath    string       `json:"poster_path"`
	BackdropPath  string       `json:"backdrop_path"`
	Genres        []namedEntry `json:"genres"`
	Credits       struct {
		Cast []castEntry `json:"cast"`
		Crew []crewEntry `json:"crew"`
	} `json:"credits"`
}

// Search はタイトルと公開年で作品を検索し、最上位の結果を返す。
// 該当なしや通信失敗の場合はnilを返す。
func (c *Client) Search(ctx context.Context, title, year string) *SearchResult {
	params := url.Values{}
	params.Set("query", title)
	params.Set("include_adult", "false")
	if year != "" {
		params.Set("year", year)
	}

	var resp searchResponse
	if err := c.get(ctx, "/search/movie", params, &resp); err != nil {
		c.logger.Warn("TMDB検索に失敗しました",
			slog.String("title", title),
			slog.String("year", year),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(resp.Results) == 0 {
		c.logger.Warn("TMDBに該当する作品がありません",
			slog.String("title", title),
			slog.String("year", year),
		)
		return nil
	}

	best := resp.Results[0]
	c.logger.Info("TMDBで作品を特定しました",
		slog.String("title", best.Title),
		slog.Int("tmdb_id", best.ID),
	)
	return &best
}

// FetchDetails はクレジットを含む作品詳細を取得する。失敗時はnilを返す。
func (c *Client) FetchDetails(ctx context.Context, id int) *Details {
	params := url.Values{}
	params.Set("append_to_response", "credits")

	var d Details
	if err := c.get(ctx, "/movie/"+strconv.Itoa(id), params, &d); err != nil {
		c.logger.Warn("TMDB作品詳細の取得に失敗しました",
			slog.Int("tmdb_id", id),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &d
}

// Enrich は検索と詳細取得をまとめ、正規化した補完データを返す。
// APIキー未設定、未ヒット、通信失敗のいずれもnilになる。
func (c *Client) Enrich(ctx context.Context, title, year string) *model.Enrichment {
	if !c.Enabled() || strings.TrimSpace(title) == "" {
		return nil
	}
	match := c.Search(ctx, title, year)
	if match == nil {
		return nil
	}
	d := c.FetchDetails(ctx, match.ID)
	if d == nil {
		return nil
	}
	return c.normalize(d)
}

func (c *Client) normalize(d *Details) *model.Enrichment {
	e := &model.Enrichment{
		TMDBID:        d.ID,
		Title:         d.Title,
		OriginalTitle: d.OriginalTitle,
		Synopsis:      d.Overview,
		ReleaseDate:   d.ReleaseDate,
		Runtime:       d.Runtime,
		Budget:        d.Budget,
		Revenue:       d.Revenue,
		Tagline:       d.Tagline,
		VoteAverage:   d.VoteAverage,
		Genres:        make([]string, 0, len(d.Genres)),
		PosterURL:     c.imageURL(posterSize, d.PosterPath),
		BackdropURL:   c.imageURL(backdropSize, d.BackdropPath),
		Cast:          make([]model.CastMember, 0, maxCast),
	}
	for _, g := range d.Genres {
		e.Genres = append(e.Genres, g.Name)
	}
	for i, member := range d.Credits.Cast {
		if i >= maxCast {
			break
		}
		e.Cast = append(e.Cast, model.CastMember{
			Name:      member.Name,
			Character: member.Character,
			Profile:   c.imageURL(profileSize, member.ProfilePath),
		})
	}
	for _, member := range d.Credits.Crew {
		if member.Job == "Director" {
			e.Director = member.Name
			break
		}
	}
	return e
}

func (c *Client) imageURL(size, path string) string {
	if path == "" {
		return ""
	}
	return c.imageBaseURL + "/" + size + path
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	if c.language != "" {
		params.Set("language", c.language)
	}
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("TMDB APIがステータス %d を返しました", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}
