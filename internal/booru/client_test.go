package booru

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/request"
	"github.com/axxuxy/ax-image/internal/tags"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	httpClient, err := request.NewClient()
	if err != nil {
		t.Fatalf("request.NewClient() error = %v", err)
	}
	return NewClient(
		httpClient,
		WithBaseURL(models.WebsiteKonachan, srv.URL+"/"),
		WithBaseURL(models.WebsiteYande, srv.URL+"/"),
		WithRetry(3, time.Millisecond),
	)
}

func TestPostsBuildsQuery(t *testing.T) {
	var gotQuery atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/post.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotQuery.Store(r.URL.Query())
		_, _ = w.Write([]byte(`[{"id":7,"tags":"cat dog","file_url":"https://x/7.png","parent_id":null}]`))
	})

	cat, _ := tags.NewCommon("cat", tags.ModeIs)
	posts, err := client.Posts(context.Background(), models.WebsiteKonachan, PostsOptions{
		Tags: []tags.Tag{cat, tags.NewScore(tags.AtLeast(int64(10)))},
		Page: 2,
	})
	if err != nil {
		t.Fatalf("Posts() error = %v", err)
	}
	if len(posts) != 1 || posts[0].ID != 7 || posts[0].ParentID != nil {
		t.Fatalf("Posts() = %+v", posts)
	}
	query := gotQuery.Load().(url.Values)
	if query["tags"][0] != "cat score:10.." {
		t.Fatalf("tags = %q", query["tags"][0])
	}
	if query["limit"][0] != "100" || query["page"][0] != "2" {
		t.Fatalf("limit/page = %v/%v", query["limit"], query["page"])
	}
}

func TestPostsSafeSearch(t *testing.T) {
	var gotTags atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotTags.Store(r.URL.Query().Get("tags"))
		_, _ = w.Write([]byte(`[]`))
	})
	client.SetRating(&tags.Rating{Value: tags.RatingSafe, Mode: tags.RatingIs})

	if _, err := client.Posts(context.Background(), models.WebsiteYande, PostsOptions{}); err != nil {
		t.Fatalf("Posts() error = %v", err)
	}
	if gotTags.Load() != "rating:s" {
		t.Fatalf("tags = %v, want rating:s", gotTags.Load())
	}

	explicit, _ := tags.NewRating(tags.Rating{Value: tags.RatingExplicit, Mode: tags.RatingNot})
	if _, err := client.Posts(context.Background(), models.WebsiteYande, PostsOptions{Tags: []tags.Tag{explicit}}); err != nil {
		t.Fatalf("Posts() error = %v", err)
	}
	if gotTags.Load() != "-rating:e" {
		t.Fatalf("tags = %v, want caller rating kept", gotTags.Load())
	}

	client.SetRating(nil)
	if client.Rating() != nil {
		t.Fatalf("Rating() after SetRating(nil) = %v", client.Rating())
	}
}

func TestPostsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	if _, err := client.Posts(context.Background(), models.WebsiteKonachan, PostsOptions{}); err != nil {
		t.Fatalf("Posts() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestPostsDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := client.Posts(context.Background(), models.WebsiteKonachan, PostsOptions{})
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("Posts() error = %v, want 403", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestTagsMapsTypes(t *testing.T) {
	var gotQuery atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		_, _ = w.Write([]byte(`[{"id":1,"name":"a","count":3,"type":5,"ambiguous":false},{"id":2,"name":"b","count":1,"type":1,"ambiguous":true}]`))
	})
	after := int64(10)
	got, err := client.Tags(context.Background(), models.WebsiteYande, TagsOptions{Limit: 2, Order: TagOrderCount, AfterID: &after})
	if err != nil {
		t.Fatalf("Tags() error = %v", err)
	}
	if len(got) != 2 || got[0].Type != TagTypeCircle || got[1].Type != TagTypeArtist {
		t.Fatalf("Tags() = %+v", got)
	}
	if gotQuery.Load() != "after_id=10&limit=2&order=count" {
		t.Fatalf("query = %v", gotQuery.Load())
	}
}

func TestTagsUnknownTypeFails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"name":"odd","count":3,"type":2}]`))
	})
	_, err := client.Tags(context.Background(), models.WebsiteKonachan, TagsOptions{})
	var unknown *UnknownTagTypeError
	if !errors.As(err, &unknown) || unknown.Code != 2 {
		t.Fatalf("Tags() error = %v, want UnknownTagTypeError(2)", err)
	}
}

func TestTagTypeFor(t *testing.T) {
	tests := []struct {
		website models.Website
		code    int
		want    TagType
	}{
		{models.WebsiteKonachan, 0, TagTypeGeneral},
		{models.WebsiteKonachan, 3, TagTypeCopyright},
		{models.WebsiteYande, 4, TagTypeCharacter},
		{models.WebsiteKonachan, 5, TagTypeFaults},
		{models.WebsiteYande, 5, TagTypeCircle},
		{models.WebsiteKonachan, 6, TagTypeCircle},
		{models.WebsiteYande, 6, TagTypeFaults},
	}
	for _, tc := range tests {
		got, err := TagTypeFor(tc.website, tc.code)
		if err != nil {
			t.Fatalf("TagTypeFor(%s, %d) error = %v", tc.website, tc.code, err)
		}
		if got != tc.want {
			t.Fatalf("TagTypeFor(%s, %d) = %s, want %s", tc.website, tc.code, got, tc.want)
		}
	}
	if _, err := TagTypeFor(models.WebsiteYande, 9); err == nil {
		t.Fatalf("TagTypeFor(9) expected error")
	}
}
