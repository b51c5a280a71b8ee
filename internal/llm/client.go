// Package llm は記事生成に使う生成モデルのプロバイダ実装を提供する。
// OpenAI互換のChat Completions APIとGoogle Geminiに対応する。
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// プロバイダ名
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Request は1回の生成呼び出しの入力。
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client は生成モデルの抽象。テスト時はスタブに差し替える。
type Client interface {
	// Generate はプロンプトに対する生成テキストを返す。
	Generate(ctx context.Context, req Request) (string, error)
	// Model は呼び出し先のモデル名を返す。
	Model() string
	// Close は保持しているリソースを解放する。
	Close() error
}

// Config はプロバイダ共通の接続設定。
type Config struct {
	Provider string
	APIKey   string
	Model    string
	Endpoint string // OpenAI互換APIのみ
	Timeout  time.Duration
}

// NewClient は設定されたプロバイダのクライアントを生成する。
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLMのAPIキーが設定されていません")
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAIClient(&http.Client{Timeout: cfg.Timeout}, cfg), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("未対応のLLMプロバイダです: %s", cfg.Provider)
	}
}

// StripCodeFence はモデルが付与しがちなMarkdownのコードフェンスを取り除く。
// 先頭行が言語名だけの場合はその行も除く。
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		first := strings.TrimSpace(text[:idx])
		if len(first) < 20 && !strings.Contains(first, " ") && !strings.Contains(first, ":") {
			text = text[idx+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
