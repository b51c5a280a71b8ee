package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArticleStatus_Valid(t *testing.T) {
	assert.True(t, ArticleStatusDraft.Valid())
	assert.True(t, ArticleStatusPublished.Valid())
	assert.True(t, ArticleStatusArchived.Valid())
	assert.False(t, ArticleStatus("deleted").Valid())
	assert.False(t, ArticleStatus("").Valid())
}

func TestArticleCategory_Valid(t *testing.T) {
	assert.True(t, ArticleCategoryReview.Valid())
	assert.True(t, ArticleCategoryList.Valid())
	assert.False(t, ArticleCategory("news").Valid())
}

func TestArticleFilter_Offset(t *testing.T) {
	tests := []struct {
		page, limit, want int
	}{
		{0, 10, 0},
		{1, 10, 0},
		{2, 10, 10},
		{3, 25, 50},
	}
	for _, tt := range tests {
		f := ArticleFilter{Page: tt.page, Limit: tt.limit}
		assert.Equal(t, tt.want, f.Offset(), "page=%d limit=%d", tt.page, tt.limit)
	}
}

func TestNewPagination(t *testing.T) {
	assert.Equal(t, Pagination{Page: 1, Limit: 10, Total: 0, Pages: 0}, NewPagination(1, 10, 0))
	assert.Equal(t, Pagination{Page: 1, Limit: 10, Total: 10, Pages: 1}, NewPagination(1, 10, 10))
	assert.Equal(t, Pagination{Page: 2, Limit: 10, Total: 11, Pages: 2}, NewPagination(2, 10, 11))
	assert.Equal(t, 0, NewPagination(1, 0, 5).Pages)
}

func TestArticlePatch_Apply(t *testing.T) {
	a := &Article{
		Title:    "Heat",
		Excerpt:  "old",
		Tags:     []string{"polar"},
		Status:   ArticleStatusDraft,
		Category: ArticleCategoryReview,
	}

	title := "Heat (1995)"
	status := ArticleStatusPublished
	ArticlePatch{
		Title:  &title,
		Status: &status,
		Tags:   []string{},
	}.Apply(a)

	assert.Equal(t, "Heat (1995)", a.Title)
	assert.Equal(t, ArticleStatusPublished, a.Status)
	assert.Empty(t, a.Tags, "non-nil empty tags clear the list")
	assert.Equal(t, "old", a.Excerpt, "nil fields are left unchanged")
	assert.Equal(t, ArticleCategoryReview, a.Category)
}

func TestArticlePatch_Apply_NilTagsKeepExisting(t *testing.T) {
	a := &Article{Tags: []string{"polar", "mann"}}
	ArticlePatch{}.Apply(a)
	assert.Equal(t, []string{"polar", "mann"}, a.Tags)
}
