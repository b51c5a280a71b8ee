package discovery

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/model"
)

// --- モック定義 ---

type mockFilmSource struct {
	listFilmsFunc func(ctx context.Context) ([]model.FilmSummary, error)
}

func (m *mockFilmSource) ListFilms(ctx context.Context) ([]model.FilmSummary, error) {
	if m.listFilmsFunc != nil {
		return m.listFilmsFunc(ctx)
	}
	return nil, nil
}

func (m *mockFilmSource) BuildFilmURL(slug string) string {
	return "https://www.moviehunt.fr/films/" + slug
}

func (m *mockFilmSource) IsValidSourceURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, "https://www.moviehunt.fr/")
}

type mockLinkReader struct {
	links []string
	err   error
}

func (m *mockLinkReader) Links(_ context.Context) ([]string, error) {
	return m.links, m.err
}

// mockEnqueuer はキューを模したmapを持つ。
type mockEnqueuer struct {
	queued map[string]bool
	calls  []string
	err    error
}

func newMockEnqueuer(existing ...string) *mockEnqueuer {
	m := &mockEnqueuer{queued: make(map[string]bool)}
	for _, u := range existing {
		m.queued[u] = true
	}
	return m
}

func (m *mockEnqueuer) EnqueueDiscovered(_ context.Context, url string) (bool, error) {
	m.calls = append(m.calls, url)
	if m.err != nil {
		return false, m.err
	}
	if m.queued[url] {
		return false, nil
	}
	m.queued[url] = true
	return true, nil
}

func films(slugs ...string) func(context.Context) ([]model.FilmSummary, error) {
	return func(context.Context) ([]model.FilmSummary, error) {
		out := make([]model.FilmSummary, 0, len(slugs))
		for _, s := range slugs {
			out = append(out, model.FilmSummary{Slug: s})
		}
		return out, nil
	}
}

// --- テスト ---

func TestNewJob_AppliesDefaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockFilmSource{}, nil, newMockEnqueuer(), newTestLogger(&buf), Config{})

	if job.config.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", job.config.Interval)
	}
	if job.config.MaxPerCycle != 50 {
		t.Errorf("MaxPerCycle = %d, want 50", job.config.MaxPerCycle)
	}
}

func TestJob_RunOnce_EnqueuesUnseenFilms(t *testing.T) {
	var buf bytes.Buffer
	enq := newMockEnqueuer("https://www.moviehunt.fr/films/b")
	job := NewJob(&mockFilmSource{listFilmsFunc: films("a", "b", "c")}, nil, enq, newTestLogger(&buf), Config{})

	res, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}
	if res.Discovered != 3 {
		t.Errorf("Discovered = %d, want 3", res.Discovered)
	}
	if res.Added != 2 {
		t.Errorf("Added = %d, want 2", res.Added)
	}
}

func TestJob_RunOnce_MergesFeedLinksWithoutDuplicates(t *testing.T) {
	var buf bytes.Buffer
	enq := newMockEnqueuer()
	feed := &mockLinkReader{links: []string{
		"https://www.moviehunt.fr/films/a",
		"https://www.moviehunt.fr/films/feed-only",
		"https://elsewhere.example/films/x",
	}}
	job := NewJob(&mockFilmSource{listFilmsFunc: films("a")}, feed, enq, newTestLogger(&buf), Config{})

	res, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}
	if res.Discovered != 2 {
		t.Errorf("Discovered = %d, want 2 (重複と許可外ホストを除外)", res.Discovered)
	}
	if len(enq.calls) != 2 {
		t.Errorf("EnqueueDiscovered の呼び出し = %v", enq.calls)
	}
}

func TestJob_RunOnce_RespectsMaxPerCycle(t *testing.T) {
	var buf bytes.Buffer
	enq := newMockEnqueuer()
	job := NewJob(&mockFilmSource{listFilmsFunc: films("a", "b", "c", "d")}, nil, enq, newTestLogger(&buf), Config{MaxPerCycle: 2})

	res, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}
	if res.Added != 2 {
		t.Errorf("Added = %d, want 2", res.Added)
	}
	if len(enq.queued) != 2 {
		t.Errorf("キューに追加された件数 = %d, want 2", len(enq.queued))
	}
}

func TestJob_RunOnce_ContinuesWhenOneSourceFails(t *testing.T) {
	var buf bytes.Buffer
	enq := newMockEnqueuer()
	source := &mockFilmSource{listFilmsFunc: func(context.Context) ([]model.FilmSummary, error) {
		return nil, errors.New("source down")
	}}
	feed := &mockLinkReader{links: []string{"https://www.moviehunt.fr/films/from-feed"}}
	job := NewJob(source, feed, enq, newTestLogger(&buf), Config{})

	res, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}
	if res.Added != 1 {
		t.Errorf("Added = %d, want 1", res.Added)
	}
	if job.consecutiveErrors != 1 {
		t.Errorf("consecutiveErrors = %d, want 1", job.consecutiveErrors)
	}
}

func TestJob_RunOnce_BacksOffAfterConsecutiveErrors(t *testing.T) {
	var buf bytes.Buffer
	listCalls := 0
	source := &mockFilmSource{listFilmsFunc: func(context.Context) ([]model.FilmSummary, error) {
		listCalls++
		return nil, errors.New("source down")
	}}
	job := NewJob(source, nil, newMockEnqueuer(), newTestLogger(&buf), Config{})
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := job.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() がエラーを返した: %v", err)
		}
	}
	if want := now.Add(30 * time.Minute); !job.backoffUntil.Equal(want) {
		t.Fatalf("backoffUntil = %v, want %v", job.backoffUntil, want)
	}

	// バックオフ中はスキップする
	if _, err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}
	if listCalls != 3 {
		t.Errorf("バックオフ中に作品一覧が取得された: calls=%d", listCalls)
	}
	if !strings.Contains(buf.String(), "バックオフ中") {
		t.Errorf("スキップのログが出力されていない: %s", buf.String())
	}

	// バックオフ明けに成功すればリセットされる
	now = now.Add(31 * time.Minute)
	source.listFilmsFunc = films("a")
	if _, err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() がエラーを返した: %v", err)
	}
	if job.consecutiveErrors != 0 || !job.backoffUntil.IsZero() {
		t.Errorf("成功後にリセットされていない: errors=%d until=%v", job.consecutiveErrors, job.backoffUntil)
	}
}

func TestCalculateErrorBackoff(t *testing.T) {
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{1, 0},
		{2, 0},
		{3, 30 * time.Minute},
		{5, time.Hour},
		{10, 6 * time.Hour},
	}
	for _, tt := range tests {
		if got := calculateErrorBackoff(tt.errors); got != tt.want {
			t.Errorf("calculateErrorBackoff(%d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}

func TestJob_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockFilmSource{listFilmsFunc: films("a")}, nil, newMockEnqueuer(), newTestLogger(&buf), Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に停止しなかった")
	}
}
