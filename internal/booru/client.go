package booru

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/request"
	"github.com/axxuxy/ax-image/internal/tags"
)

const DefaultPostsLimit = 100

// JSONGetter is the part of request.Client the board API needs.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, out any) error
}

type Client struct {
	http     JSONGetter
	baseURLs map[models.Website]string
	attempts uint
	delay    time.Duration

	mu     sync.RWMutex
	rating *tags.Rating
}

type Option func(*Client)

// WithBaseURL points a website at another host, mostly for tests.
func WithBaseURL(website models.Website, baseURL string) Option {
	return func(c *Client) {
		c.baseURLs[website] = baseURL
	}
}

func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

func NewClient(getter JSONGetter, options ...Option) *Client {
	c := &Client{
		http:     getter,
		baseURLs: map[models.Website]string{},
		attempts: 3,
		delay:    time.Second,
	}
	for _, website := range models.Websites() {
		c.baseURLs[website] = website.BaseURL()
	}
	for _, option := range options {
		option(c)
	}
	if c.attempts == 0 {
		c.attempts = 1
	}
	return c
}

// SetRating enables safe search: every posts query without a rating tag gets r.
// nil disables it.
func (c *Client) SetRating(r *tags.Rating) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == nil {
		c.rating = nil
		return
	}
	copied := *r
	c.rating = &copied
}

func (c *Client) Rating() *tags.Rating {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rating == nil {
		return nil
	}
	copied := *c.rating
	return &copied
}

type PostsOptions struct {
	Tags  []tags.Tag
	Limit int
	Page  int
}

// PostsQuery returns the tag list actually sent, safe search applied.
func (c *Client) PostsQuery(list []tags.Tag) ([]tags.Tag, error) {
	out := append([]tags.Tag(nil), list...)
	rating := c.Rating()
	if rating == nil || tags.HasKind(out, tags.KindRating) {
		return out, nil
	}
	tag, err := tags.NewRating(*rating)
	if err != nil {
		return nil, err
	}
	return append(out, tag), nil
}

func (c *Client) Posts(ctx context.Context, website models.Website, opts PostsOptions) ([]models.Post, error) {
	endpoint, err := c.endpoint(website, "post.json")
	if err != nil {
		return nil, err
	}
	list, err := c.PostsQuery(opts.Tags)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if len(list) > 0 {
		query.Set("tags", tags.Join(list))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPostsLimit
	}
	query.Set("limit", strconv.Itoa(limit))
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}

	return getWithRetry[[]models.Post](ctx, c, endpoint+"?"+query.Encode())
}

type TagOrder string

const (
	TagOrderDate  TagOrder = "date"
	TagOrderCount TagOrder = "count"
	TagOrderName  TagOrder = "name"
)

type TagsOptions struct {
	Limit   int
	Order   TagOrder
	ID      *int64
	AfterID *int64
	Name    string
}

type BoardTag struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Count     int64   `json:"count"`
	Type      TagType `json:"type"`
	Ambiguous bool    `json:"ambiguous"`
}

type apiTag struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Count     int64  `json:"count"`
	Type      int    `json:"type"`
	Ambiguous bool   `json:"ambiguous"`
}

func (c *Client) Tags(ctx context.Context, website models.Website, opts TagsOptions) ([]BoardTag, error) {
	endpoint, err := c.endpoint(website, "tag.json")
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Order != "" {
		query.Set("order", string(opts.Order))
	}
	if opts.ID != nil {
		query.Set("id", strconv.FormatInt(*opts.ID, 10))
	}
	if opts.AfterID != nil {
		query.Set("after_id", strconv.FormatInt(*opts.AfterID, 10))
	}
	if opts.Name != "" {
		query.Set("name", opts.Name)
	}
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	raw, err := getWithRetry[[]apiTag](ctx, c, endpoint)
	if err != nil {
		return nil, err
	}
	out := make([]BoardTag, 0, len(raw))
	for _, item := range raw {
		tagType, err := TagTypeFor(website, item.Type)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", item.Name, err)
		}
		out = append(out, BoardTag{
			ID:        item.ID,
			Name:      item.Name,
			Count:     item.Count,
			Type:      tagType,
			Ambiguous: item.Ambiguous,
		})
	}
	return out, nil
}

func (c *Client) endpoint(website models.Website, path string) (string, error) {
	base, ok := c.baseURLs[website]
	if !ok {
		return "", fmt.Errorf("unknown website %q", website)
	}
	return base + path, nil
}

func getWithRetry[T any](ctx context.Context, c *Client, endpoint string) (T, error) {
	return retry.DoWithData(
		func() (T, error) {
			var out T
			err := c.http.GetJSON(ctx, endpoint, &out)
			return out, err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(request.Temporary),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("url", endpoint).Msg("retrying board request")
		}),
	)
}
