package models

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

type Website string

const (
	WebsiteKonachan Website = "konachan"
	WebsiteYande    Website = "yande"
)

var websiteBaseURLs = map[Website]string{
	WebsiteKonachan: "https://konachan.com/",
	WebsiteYande:    "https://yande.re/",
}

func Websites() []Website {
	return []Website{WebsiteKonachan, WebsiteYande}
}

func (w Website) IsValid() bool {
	_, ok := websiteBaseURLs[w]
	return ok
}

// BaseURL returns the site root with a trailing slash.
func (w Website) BaseURL() string {
	return websiteBaseURLs[w]
}

func ParseWebsite(raw string) (Website, error) {
	w := Website(strings.ToLower(strings.TrimSpace(raw)))
	if !w.IsValid() {
		return "", fmt.Errorf("unknown website %q", raw)
	}
	return w, nil
}

type DownloadType string

const (
	DownloadTypeSample DownloadType = "sample"
	DownloadTypeJPEG   DownloadType = "jpeg"
	DownloadTypeFile   DownloadType = "file"
)

func (t DownloadType) IsValid() bool {
	return t == DownloadTypeSample || t == DownloadTypeJPEG || t == DownloadTypeFile
}

func ParseDownloadType(raw string) (DownloadType, error) {
	t := DownloadType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown download type %q", raw)
	}
	return t, nil
}

// Post mirrors the moebooru post.json payload shared by both boards.
type Post struct {
	ID                  int64    `json:"id"`
	Tags                string   `json:"tags"`
	CreatedAt           int64    `json:"created_at"`
	CreatorID           int64    `json:"creator_id"`
	Author              string   `json:"author"`
	Change              int64    `json:"change"`
	Source              string   `json:"source"`
	Score               int64    `json:"score"`
	MD5                 string   `json:"md5"`
	FileSize            int64    `json:"file_size"`
	FileURL             string   `json:"file_url"`
	IsShownInIndex      bool     `json:"is_shown_in_index"`
	PreviewURL          string   `json:"preview_url"`
	PreviewWidth        int64    `json:"preview_width"`
	PreviewHeight       int64    `json:"preview_height"`
	ActualPreviewWidth  int64    `json:"actual_preview_width"`
	ActualPreviewHeight int64    `json:"actual_preview_height"`
	SampleURL           string   `json:"sample_url"`
	SampleWidth         int64    `json:"sample_width"`
	SampleHeight        int64    `json:"sample_height"`
	SampleFileSize      int64    `json:"sample_file_size"`
	JPEGURL             string   `json:"jpeg_url"`
	JPEGWidth           int64    `json:"jpeg_width"`
	JPEGHeight          int64    `json:"jpeg_height"`
	JPEGFileSize        int64    `json:"jpeg_file_size"`
	Rating              string   `json:"rating"`
	HasChildren         bool     `json:"has_children"`
	ParentID            *int64   `json:"parent_id"`
	Status              string   `json:"status"`
	Width               int64    `json:"width"`
	Height              int64    `json:"height"`
	IsHeld              bool     `json:"is_held"`
	FramesPendingString string   `json:"frames_pending_string"`
	FramesPending       []string `json:"frames_pending"`
	FramesString        string   `json:"frames_string"`
	Frames              []string `json:"frames"`

	// yande only
	UpdatedAt       int64  `json:"updated_at,omitempty"`
	FileExt         string `json:"file_ext,omitempty"`
	IsRatingLocked  bool   `json:"is_rating_locked,omitempty"`
	IsPending       bool   `json:"is_pending,omitempty"`
	IsNoteLocked    bool   `json:"is_note_locked,omitempty"`
	LastNotedAt     int64  `json:"last_noted_at,omitempty"`
	LastCommentedAt int64  `json:"last_commented_at,omitempty"`
}

func (p Post) TagList() []string {
	return strings.Fields(p.Tags)
}

// Variant returns the url, byte size and dimensions of one download type.
func (p Post) Variant(t DownloadType) (link string, size, width, height int64) {
	switch t {
	case DownloadTypeSample:
		return p.SampleURL, p.SampleFileSize, p.SampleWidth, p.SampleHeight
	case DownloadTypeJPEG:
		return p.JPEGURL, p.JPEGFileSize, p.JPEGWidth, p.JPEGHeight
	default:
		return p.FileURL, p.FileSize, p.Width, p.Height
	}
}

// FileName is the last path segment of a variant url, unescaped.
func FileName(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	name := path.Base(trimmed)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "." || name == "/" {
		return ""
	}
	return name
}

type DownloadedInfo struct {
	Post
	Website      Website      `json:"website"`
	DownloadType DownloadType `json:"download_type"`
	DownloadAt   time.Time    `json:"download_at"`
	DownloadedAt time.Time    `json:"downloaded_at"`
	SavePath     string       `json:"save_path"`
	Size         int64        `json:"size"`
}

type SearchHistoryInfo struct {
	Website Website
	Tags    []string
	Date    time.Time
}

type SearchHistoryItem struct {
	Key     string    `json:"key"`
	Website Website   `json:"website"`
	Tags    []string  `json:"tags"`
	Date    time.Time `json:"date"`
}

// SearchHistoryKey is order-insensitive in tags: "website - a b c".
func SearchHistoryKey(website Website, tags []string) string {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s - %s", website, strings.Join(sorted, " "))
}
