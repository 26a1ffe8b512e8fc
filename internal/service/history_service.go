package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/store"
	"github.com/axxuxy/ax-image/internal/tags"
)

var ErrHistoryNotFound = errors.New("search history not found")

type HistoryService struct {
	store *store.SQLStore
	now   func() time.Time
}

func NewHistoryService(s *store.SQLStore) *HistoryService {
	return &HistoryService{store: s, now: time.Now}
}

// Record stores a search. Searching the same tags again only moves its date.
func (s *HistoryService) Record(ctx context.Context, website models.Website, list []tags.Tag) (models.SearchHistoryItem, error) {
	if !website.IsValid() {
		return models.SearchHistoryItem{}, fmt.Errorf("unknown website %q", website)
	}
	return s.store.SaveSearchHistory(ctx, models.SearchHistoryInfo{
		Website: website,
		Tags:    tags.Strings(list),
		Date:    s.now(),
	})
}

func (s *HistoryService) Query(ctx context.Context, q store.SearchHistoryQuery) ([]models.SearchHistoryItem, error) {
	return s.store.QuerySearchHistory(ctx, q)
}

func (s *HistoryService) Get(ctx context.Context, key string) (models.SearchHistoryItem, error) {
	item, found, err := s.store.GetSearchHistory(ctx, key)
	if err != nil {
		return models.SearchHistoryItem{}, err
	}
	if !found {
		return models.SearchHistoryItem{}, ErrHistoryNotFound
	}
	return item, nil
}

func (s *HistoryService) Delete(ctx context.Context, key string) error {
	return s.store.DeleteSearchHistory(ctx, key)
}

func (s *HistoryService) Clear(ctx context.Context) error {
	return s.store.ClearSearchHistory(ctx)
}

// Restore turns a stored search back into structured options.
func (s *HistoryService) Restore(ctx context.Context, key string) (models.Website, tags.Options, error) {
	item, err := s.Get(ctx, key)
	if err != nil {
		return "", tags.Options{}, err
	}
	return item.Website, tags.Restore(strings.Join(item.Tags, " ")), nil
}

// Prune drops searches older than days. days <= 0 keeps everything.
func (s *HistoryService) Prune(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	return s.store.DeleteSearchHistoryBefore(ctx, s.now().AddDate(0, 0, -days))
}
