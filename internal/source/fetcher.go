// Package source は作品ページURLを構造化された作品レコードに変換する。
// 上流のコンテンツAPIからJSONを取得し、スキーマ検証してから生成用の形へ変換する。
package source

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/net/idna"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

const userAgent = "MovieHunt-Blog-Bot/1.0"

//go:embed schema/*.json
var schemaFS embed.FS

var (
	filmSchema     = mustLoadSchema("schema/film.json")
	filmListSchema = mustLoadSchema("schema/film_list.json")
)

func mustLoadSchema(name string) *gojsonschema.Schema {
	b, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("スキーマの読み込みに失敗しました: %s: %v", name, err))
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		panic(fmt.Sprintf("スキーマのコンパイルに失敗しました: %s: %v", name, err))
	}
	return s
}

// Options はFetcherの接続先設定。
type Options struct {
	// APIBaseURL は作品APIのベースURL（例: https://www.moviehunt.fr/api/films）。
	APIBaseURL string
	// SiteURL は作品ページと画像のベースURL（例: https://www.moviehunt.fr）。
	SiteURL string
	// AllowedHosts は受け付けるソースURLのホスト名。
	AllowedHosts []string
}

// Fetcher は上流コンテンツAPIのクライアント。
// リトライは行わない。再試行は生成キュー側の責務。
type Fetcher struct {
	httpClient   *http.Client
	logger       *slog.Logger
	apiBaseURL   string
	siteURL      string
	allowedHosts map[string]struct{}
}

// NewFetcher はFetcherを生成する。正規化できないホスト名は警告ログを出して無視する。
func NewFetcher(httpClient *http.Client, logger *slog.Logger, opts Options) *Fetcher {
	hosts := make(map[string]struct{}, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		normalized, err := normalizeHost(h)
		if err != nil {
			logger.Warn("許可ホストの正規化に失敗したため無視します",
				slog.String("host", h),
				slog.String("error", err.Error()),
			)
			continue
		}
		hosts[normalized] = struct{}{}
	}
	return &Fetcher{
		httpClient:   httpClient,
		logger:       logger,
		apiBaseURL:   strings.TrimRight(opts.APIBaseURL, "/"),
		siteURL:      strings.TrimRight(opts.SiteURL, "/"),
		allowedHosts: hosts,
	}
}

// normalizeHost はホスト名を小文字のASCII(Punycode)表現にそろえる。
func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", errors.New("空のホスト名")
	}
	return idna.Lookup.ToASCII(host)
}

// IsValidSourceURL はURLがhttp(s)で、ホストが許可リストに含まれる場合にtrueを返す。
func (f *Fetcher) IsValidSourceURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return false
	}
	_, ok := f.allowedHosts[host]
	return ok
}

// ExtractSlug はURLのパスから作品スラッグを取り出す。
// /films/{slug} 形式ならその次のセグメント、それ以外は最後の非空セグメントを使う。
func (f *Fetcher) ExtractSlug(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", model.NewExtractionError(rawURL)
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	switch {
	case len(parts) >= 2 && parts[0] == "films":
		return parts[1], nil
	case len(parts) >= 1:
		return parts[len(parts)-1], nil
	}
	return "", model.NewExtractionError(rawURL)
}

// BuildFilmURL はスラッグから作品ページのURLを組み立てる。
func (f *Fetcher) BuildFilmURL(slug string) string {
	return f.siteURL + "/films/" + url.PathEscape(slug)
}

// FetchRecord は作品APIからレコードを取得し、スキーマ検証してから返す。
// 404はSourceRecordNotFound、それ以外の通信失敗はFetchErrorになる。
// 2つ目の戻り値は監査用の生JSON。
func (f *Fetcher) FetchRecord(ctx context.Context, slug string) (*model.FilmRecord, json.RawMessage, error) {
	start := time.Now()
	body, status, err := f.get(ctx, f.apiBaseURL+"/"+url.PathEscape(slug))
	if err != nil {
		f.logger.Error("作品APIの呼び出しに失敗しました",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		return nil, nil, model.NewFetchError(err.Error())
	}
	if status == http.StatusNotFound {
		return nil, nil, model.NewSourceRecordNotFoundError(slug)
	}
	if status != http.StatusOK {
		f.logger.Error("作品APIがエラーステータスを返しました",
			slog.String("slug", slug),
			slog.Int("http_status", status),
		)
		return nil, nil, model.NewFetchError(fmt.Sprintf("source api returned status %d", status))
	}

	if err := validate(filmSchema, body); err != nil {
		return nil, nil, err
	}
	var rec model.FilmRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, nil, model.NewMalformedRecordError(err.Error())
	}

	f.logger.Info("作品レコードを取得しました",
		slog.String("slug", slug),
		slog.Int("section_count", len(rec.Sections)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return &rec, json.RawMessage(body), nil
}

// ListFilms は上流で公開されている作品の一覧を返す。
func (f *Fetcher) ListFilms(ctx context.Context) ([]model.FilmSummary, error) {
	body, status, err := f.get(ctx, f.apiBaseURL+"/list")
	if err != nil {
		return nil, model.NewFetchError(err.Error())
	}
	if status != http.StatusOK {
		return nil, model.NewFetchError(fmt.Sprintf("film list returned status %d", status))
	}
	if err := validate(filmListSchema, body); err != nil {
		return nil, err
	}

	var resp struct {
		Films []model.FilmSummary `json:"films"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, model.NewMalformedRecordError(err.Error())
	}
	return resp.Films, nil
}

// Scrape はURLからスラッグを取り出し、取得と変換までをまとめて行う。
func (f *Fetcher) Scrape(ctx context.Context, rawURL string) (*model.ScrapedFilm, error) {
	slug, err := f.ExtractSlug(rawURL)
	if err != nil {
		return nil, err
	}
	rec, raw, err := f.FetchRecord(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rec.Slug == "" {
		rec.Slug = slug
	}
	return f.Transform(rec, raw)
}

func (f *Fetcher) get(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, resp.StatusCode, nil
}

// validate はJSONスキーマ違反をMalformedRecordErrorに変換する。
func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return model.NewMalformedRecordError(err.Error())
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return model.NewMalformedRecordError(strings.Join(msgs, "; "))
}
