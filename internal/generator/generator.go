// Package generator は作品データから記事を生成する。
// 生成モデルの呼び出しは1回で、出力はラベル単位で寛容に解析する。
package generator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/moviehunt-blog/internal/llm"
	"github.com/hitoshi/moviehunt-blog/internal/model"
	"github.com/hitoshi/moviehunt-blog/internal/security"
)

// Options は生成パラメータ。
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Generator はコンテンツ生成器。
type Generator struct {
	client    llm.Client
	sanitizer security.ContentSanitizerService
	prompts   *Prompts
	logger    *slog.Logger
	opts      Options
}

// New はGeneratorを生成する。promptsがnilの場合は埋め込みの定義を使う。
func New(client llm.Client, sanitizer security.ContentSanitizerService, prompts *Prompts, logger *slog.Logger, opts Options) (*Generator, error) {
	if prompts == nil {
		p, err := DefaultPrompts()
		if err != nil {
			return nil, err
		}
		prompts = p
	}
	return &Generator{
		client:    client,
		sanitizer: sanitizer,
		prompts:   prompts,
		logger:    logger,
		opts:      opts,
	}, nil
}

// Validate は生成に必要な項目（スコア、公開年、ジャンル）が揃っているかを確認する。
func Validate(film *model.ScrapedFilm) error {
	if film == nil {
		return model.NewIncompleteSourceDataError("record")
	}
	m := film.Metadata
	if m.Score == nil {
		return model.NewIncompleteSourceDataError("score")
	}
	if strings.TrimSpace(m.ReleaseYear) == "" {
		return model.NewIncompleteSourceDataError("releaseYear")
	}
	if len(m.Genre) == 0 {
		return model.NewIncompleteSourceDataError("genre")
	}
	return nil
}

// Generate は記事を1本生成する。
// 入力が不完全な場合は生成モデルを呼ばずにIncompleteSourceDataErrorを返す。
func (g *Generator) Generate(ctx context.Context, film *model.ScrapedFilm, sourceURL string) (*model.GeneratedArticle, error) {
	if err := Validate(film); err != nil {
		return nil, err
	}
	prompt, err := g.prompts.BuildPrompt(film, sourceURL)
	if err != nil {
		return nil, model.NewGenerationError(err.Error())
	}

	start := time.Now()
	raw, err := g.client.Generate(ctx, llm.Request{
		System:      g.prompts.System,
		Prompt:      prompt,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		g.logger.Error("記事の生成に失敗しました",
			slog.String("url", sourceURL),
			slog.String("model", g.client.Model()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationError(err.Error())
	}

	parsed := parseResponse(raw)
	if g.sanitizer != nil {
		parsed.Content = g.sanitizer.Sanitize(parsed.Content)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return nil, model.NewGenerationError("model returned an empty article body")
	}

	article := toArticle(parsed, film)
	g.logger.Info("記事を生成しました",
		slog.String("url", sourceURL),
		slog.String("model", g.client.Model()),
		slog.String("title", article.Title),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return article, nil
}
