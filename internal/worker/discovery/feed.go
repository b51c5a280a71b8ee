package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop は設定の見直しが必要なステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff はバックオフが必要なステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == http.StatusOK:
		return FetchResultOK
	case statusCode == http.StatusNotModified:
		return FetchResultNotModified
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return FetchResultStop
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FetchResultStop
	case statusCode == http.StatusTooManyRequests:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// FeedReader はソースサイトのRSS/Atomフィードから作品ページのリンクを読み取る。
// ETag/Last-Modifiedを保持し、2回目以降は条件付きGETを行う。
type FeedReader struct {
	httpClient  *http.Client
	logger      *slog.Logger
	feedURL     string
	maxBodySize int64

	mu           sync.Mutex
	etag         string
	lastModified string
}

// NewFeedReader はFeedReaderを生成する。maxBodySizeが0以下の場合は5MBを使う。
func NewFeedReader(httpClient *http.Client, logger *slog.Logger, feedURL string, maxBodySize int64) *FeedReader {
	if maxBodySize <= 0 {
		maxBodySize = 5 << 20
	}
	return &FeedReader{
		httpClient:  httpClient,
		logger:      logger,
		feedURL:     feedURL,
		maxBodySize: maxBodySize,
	}
}

// Links はフィードの各エントリのリンクを返す。304の場合は空を返す。
func (r *FeedReader) Links(ctx context.Context) ([]string, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("フィードリクエストの生成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "MovieHunt-Blog-Bot/1.0")
	r.mu.Lock()
	if r.etag != "" {
		req.Header.Set("If-None-Match", r.etag)
	}
	if r.lastModified != "" {
		req.Header.Set("If-Modified-Since", r.lastModified)
	}
	r.mu.Unlock()

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultNotModified:
		r.logger.Debug("フィードは未変更です（304）", slog.String("feed_url", r.feedURL))
		return nil, nil
	case FetchResultOK:
	default:
		return nil, fmt.Errorf("フィードがHTTPステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}

	r.mu.Lock()
	if etag := resp.Header.Get("ETag"); etag != "" {
		r.etag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		r.lastModified = lastMod
	}
	r.mu.Unlock()

	links := make([]string, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}
		if link != "" {
			links = append(links, link)
		}
	}

	r.logger.Info("フィードを読み取りました",
		slog.String("feed_url", r.feedURL),
		slog.Int("items", len(links)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return links, nil
}
