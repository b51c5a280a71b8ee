package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/repository"
)

// --- in-memory ArticleRepository ---

type memArticleRepo struct {
	mu        sync.Mutex
	items     map[string]*model.Article
	seq       int
	createErr error
	onDelete  func(id string)

	createCalls int
}

func newMemArticleRepo() *memArticleRepo {
	return &memArticleRepo{items: make(map[string]*model.Article)}
}

func cloneArticle(a *model.Article) *model.Article {
	c := *a
	return &c
}

func (r *memArticleRepo) FindByID(_ context.Context, id string) (*model.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.items[id]; ok {
		return cloneArticle(a), nil
	}
	return nil, nil
}

func (r *memArticleRepo) FindBySlug(_ context.Context, slug string) (*model.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.Slug == slug {
			return cloneArticle(a), nil
		}
	}
	return nil, nil
}

func (r *memArticleRepo) FindBySourceURL(_ context.Context, sourceURL string) (*model.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.SourceURL != "" && a.SourceURL == sourceURL {
			return cloneArticle(a), nil
		}
	}
	return nil, nil
}

func (r *memArticleRepo) SlugExists(_ context.Context, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *memArticleRepo) Create(_ context.Context, article *model.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.createErr != nil {
		return r.createErr
	}
	for _, a := range r.items {
		if article.SourceURL != "" && a.SourceURL == article.SourceURL {
			return repository.ErrDuplicateSourceURL
		}
		if a.Slug == article.Slug {
			return repository.ErrDuplicateSlug
		}
	}
	r.seq++
	now := time.Date(2026, 1, 1, 0, 0, r.seq, 0, time.UTC)
	article.ID = fmt.Sprintf("art-%d", r.seq)
	article.CreatedAt = now
	article.UpdatedAt = now
	r.items[article.ID] = cloneArticle(article)
	return nil
}

func (r *memArticleRepo) Update(_ context.Context, article *model.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[article.ID]; !ok {
		return fmt.Errorf("not found")
	}
	for id, a := range r.items {
		if id != article.ID && a.Slug == article.Slug {
			return repository.ErrDuplicateSlug
		}
	}
	r.items[article.ID] = cloneArticle(article)
	return nil
}

func (r *memArticleRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	_, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()
	if ok && r.onDelete != nil {
		r.onDelete(id)
	}
	return ok, nil
}

func (r *memArticleRepo) List(_ context.Context, filter model.ArticleFilter) ([]*model.Article, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Article
	for _, a := range r.items {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(a.Title, filter.Search) {
			continue
		}
		out = append(out, cloneArticle(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return out[start:end], total, nil
}

func (r *memArticleRepo) CountByStatus(_ context.Context) (map[model.ArticleStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[model.ArticleStatus]int)
	for _, a := range r.items {
		counts[a.Status]++
	}
	return counts, nil
}

func (r *memArticleRepo) ListPublishedTags(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var tags []string
	for _, a := range r.items {
		if a.Status != model.ArticleStatusPublished {
			continue
		}
		for _, t := range a.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}

func (r *memArticleRepo) ListPublishedForSitemap(_ context.Context) ([]model.SitemapEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []model.SitemapEntry
	for _, a := range r.items {
		if a.Status == model.ArticleStatusPublished {
			entries = append(entries, model.SitemapEntry{Slug: a.Slug, UpdatedAt: a.UpdatedAt})
		}
	}
	return entries, nil
}

func (r *memArticleRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// --- in-memory QueueRepository ---

type memQueueRepo struct {
	mu      sync.Mutex
	records map[string]*model.QueueRecord
	seq     int
}

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{records: make(map[string]*model.QueueRecord)}
}

func cloneRecord(r *model.QueueRecord) *model.QueueRecord {
	c := *r
	return &c
}

func (r *memQueueRepo) tick() time.Time {
	r.seq++
	return time.Date(2026, 1, 1, 0, 0, r.seq, 0, time.UTC)
}

func (r *memQueueRepo) FindByID(_ context.Context, id string) (*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return cloneRecord(rec), nil
	}
	return nil, nil
}

func (r *memQueueRepo) FindByURL(_ context.Context, url string) (*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.URL == url {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (r *memQueueRepo) FindOrCreate(_ context.Context, url, addedBy string) (*model.QueueRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.URL == url {
			return cloneRecord(rec), false, nil
		}
	}
	now := r.tick()
	rec := &model.QueueRecord{
		ID:        fmt.Sprintf("q-%d", r.seq),
		URL:       url,
		Status:    model.QueueStatusPending,
		AddedBy:   addedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.records[rec.ID] = rec
	return cloneRecord(rec), true, nil
}

func (r *memQueueRepo) Claim(_ context.Context, id string) (*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status == model.QueueStatusProcessing {
		return nil, nil
	}
	rec.Status = model.QueueStatusProcessing
	rec.UpdatedAt = r.tick()
	return cloneRecord(rec), nil
}

func (r *memQueueRepo) MarkCompleted(_ context.Context, id, articleID string, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	rec.Status = model.QueueStatusCompleted
	rec.ArticleID = articleID
	rec.Error = ""
	rec.ProcessedAt = &processedAt
	rec.UpdatedAt = r.tick()
	return nil
}

func (r *memQueueRepo) MarkFailed(_ context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	rec.Status = model.QueueStatusFailed
	rec.Error = message
	rec.RetryCount++
	rec.UpdatedAt = r.tick()
	return nil
}

func (r *memQueueRepo) sorted(match func(*model.QueueRecord) bool) []*model.QueueRecord {
	var out []*model.QueueRecord
	for _, rec := range r.records {
		if match(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func limitRecords(recs []*model.QueueRecord, limit int) []*model.QueueRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

func (r *memQueueRepo) ListPending(_ context.Context, limit int) ([]*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return limitRecords(r.sorted(func(rec *model.QueueRecord) bool {
		return rec.Status == model.QueueStatusPending
	}), limit), nil
}

func (r *memQueueRepo) ListRetryable(_ context.Context, maxRetries, limit int) ([]*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return limitRecords(r.sorted(func(rec *model.QueueRecord) bool {
		return rec.Status == model.QueueStatusFailed && rec.RetryCount < maxRetries
	}), limit), nil
}

func (r *memQueueRepo) List(_ context.Context, status model.QueueStatus, limit int) ([]*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.sorted(func(rec *model.QueueRecord) bool {
		return status == "" || rec.Status == status
	})
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return limitRecords(recs, limit), nil
}

func (r *memQueueRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	delete(r.records, id)
	return ok, nil
}

func (r *memQueueRepo) Reset(_ context.Context, id string, status model.QueueStatus) (*model.QueueRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	rec.Status = status
	if status == model.QueueStatusPending {
		rec.Error = ""
	} else if rec.Error == "" {
		rec.Error = "manually reset"
	}
	rec.UpdatedAt = r.tick()
	return cloneRecord(rec), nil
}

func (r *memQueueRepo) ResetStuck(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.Status == model.QueueStatusProcessing {
			rec.Status = model.QueueStatusPending
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) CountByStatus(_ context.Context) (map[model.QueueStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[model.QueueStatus]int)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts, nil
}

// clearArticle は記事削除時のON DELETE SET NULLを再現する。
func (r *memQueueRepo) clearArticle(articleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ArticleID == articleID {
			rec.ArticleID = ""
		}
	}
}

func (r *memQueueRepo) byURL(url string) *model.QueueRecord {
	rec, _ := r.FindByURL(context.Background(), url)
	return rec
}

func (r *memQueueRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// --- stubs ---

const testSourceHost = "https://moviehunt.example"

type stubSource struct {
	mu     sync.Mutex
	films  map[string]*model.ScrapedFilm
	errs   map[string]error
	list   []model.FilmSummary
	calls  int
	listFn func() ([]model.FilmSummary, error)
}

func newStubSource() *stubSource {
	return &stubSource{films: make(map[string]*model.ScrapedFilm), errs: make(map[string]error)}
}

func (s *stubSource) IsValidSourceURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, testSourceHost+"/")
}

func (s *stubSource) Scrape(_ context.Context, rawURL string) (*model.ScrapedFilm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.errs[rawURL]; ok {
		return nil, err
	}
	if f, ok := s.films[rawURL]; ok {
		c := *f
		c.Images = append([]string(nil), f.Images...)
		return &c, nil
	}
	return nil, model.NewSourceRecordNotFoundError(rawURL[strings.LastIndex(rawURL, "/")+1:])
}

func (s *stubSource) ListFilms(_ context.Context) ([]model.FilmSummary, error) {
	if s.listFn != nil {
		return s.listFn()
	}
	return s.list, nil
}

func (s *stubSource) BuildFilmURL(slug string) string {
	return testSourceHost + "/films/" + slug
}

func (s *stubSource) scrapeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubEnricher struct {
	result *model.Enrichment
	calls  int
}

func (e *stubEnricher) Enrich(_ context.Context, _, _ string) *model.Enrichment {
	e.calls++
	return e.result
}

type stubGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
	films []*model.ScrapedFilm
	// block が設定されている場合は閉じられるまで生成を待つ
	block chan struct{}
}

func (g *stubGenerator) Generate(ctx context.Context, film *model.ScrapedFilm, _ string) (*model.GeneratedArticle, error) {
	g.mu.Lock()
	g.calls++
	g.films = append(g.films, film)
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &model.GeneratedArticle{
		Title:      "Critique : " + film.Title,
		Excerpt:    "Un film à voir.",
		Content:    "<h2>Notre avis</h2><p>" + film.Title + "</p>",
		Tags:       []string{"critique"},
		CoverImage: firstImage(film.Images),
		SEO:        model.SEO{MetaTitle: film.Title, MetaDescription: "desc"},
		Metadata:   model.ArticleMetadata{MovieTitle: film.Title, ReleaseYear: film.Metadata.ReleaseYear},
	}, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func firstImage(images []string) string {
	if len(images) == 0 {
		return ""
	}
	return images[0]
}

type scriptStripper struct{}

func (scriptStripper) Sanitize(raw string) string {
	return strings.ReplaceAll(raw, "<script>", "")
}

// --- fixture ---

type fixture struct {
	svc       *Service
	articles  *memArticleRepo
	queue     *memQueueRepo
	source    *stubSource
	enricher  *stubEnricher
	generator *stubGenerator
	sleeps    []time.Duration
}

func newFixture() *fixture {
	f := &fixture{
		articles:  newMemArticleRepo(),
		queue:     newMemQueueRepo(),
		source:    newStubSource(),
		enricher:  &stubEnricher{},
		generator: &stubGenerator{},
	}
	f.articles.onDelete = f.queue.clearArticle
	f.svc = NewService(Deps{
		Articles:  f.articles,
		Queue:     f.queue,
		Source:    f.source,
		Enricher:  f.enricher,
		Generator: f.generator,
		Sanitizer: scriptStripper{},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{ItemDelay: 2 * time.Second, ProcessLimit: 5, MaxRetries: 3, RetryBatch: 10})
	f.svc.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	f.svc.now = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

// addFilm はスラッグに対応する作品をソースに登録し、そのURLを返す。
func (f *fixture) addFilm(slug, title string) string {
	url := f.source.BuildFilmURL(slug)
	score := 8.0
	f.source.films[url] = &model.ScrapedFilm{
		Title:   title,
		Content: "Synopsis\nUne histoire.\n",
		Images:  []string{testSourceHost + "/images/films/" + slug + ".jpg"},
		Metadata: model.FilmMetadata{
			MovieTitle:  title,
			ReleaseYear: "2010",
			Genre:       []string{"Drame"},
			Score:       &score,
			Slug:        slug,
		},
	}
	return url
}

// flightRefs はurlの生成を待っている呼び出し元の数を返す。
func (s *Service) flightRefs(url string) int {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	if f, ok := s.flights[url]; ok {
		return f.refs
	}
	return 0
}
