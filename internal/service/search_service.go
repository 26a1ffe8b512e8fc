package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/axxuxy/ax-image/internal/booru"
	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/tags"
)

type SearchService struct {
	booru   *booru.Client
	history *HistoryService
}

func NewSearchService(booruClient *booru.Client, history *HistoryService) *SearchService {
	return &SearchService{booru: booruClient, history: history}
}

type SearchInput struct {
	Website models.Website
	Query   string
	Limit   int
	Page    int
	// NoHistory skips recording the search.
	NoHistory bool
}

type SearchResult struct {
	Website models.Website `json:"website"`
	Query   string         `json:"query"`
	Page    int            `json:"page"`
	Posts   []models.Post  `json:"posts"`
}

// Search parses the query, fetches one page of posts and records the
// search when it starts from the first page.
func (s *SearchService) Search(ctx context.Context, in SearchInput) (SearchResult, error) {
	if !in.Website.IsValid() {
		return SearchResult{}, fmt.Errorf("unknown website %q", in.Website)
	}
	list, err := tags.ParseQuery(in.Query)
	if err != nil {
		return SearchResult{}, err
	}
	page := in.Page
	if page <= 0 {
		page = 1
	}
	posts, err := s.booru.Posts(ctx, in.Website, booru.PostsOptions{
		Tags:  list,
		Limit: in.Limit,
		Page:  page,
	})
	if err != nil {
		return SearchResult{}, err
	}
	if page == 1 && !in.NoHistory && s.history != nil {
		if _, err := s.history.Record(ctx, in.Website, list); err != nil {
			log.Warn().Err(err).Str("website", string(in.Website)).Msg("record search history")
		}
	}
	return SearchResult{
		Website: in.Website,
		Query:   tags.Join(list),
		Page:    page,
		Posts:   posts,
	}, nil
}

func (s *SearchService) Tags(ctx context.Context, website models.Website, opts booru.TagsOptions) ([]booru.BoardTag, error) {
	if !website.IsValid() {
		return nil, fmt.Errorf("unknown website %q", website)
	}
	return s.booru.Tags(ctx, website, opts)
}
