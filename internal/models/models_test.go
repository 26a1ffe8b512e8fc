package models

import "testing"

func TestSearchHistoryKeyIgnoresTagOrder(t *testing.T) {
	a := SearchHistoryKey(WebsiteKonachan, []string{"b", "a"})
	b := SearchHistoryKey(WebsiteKonachan, []string{"a", "b"})
	if a != b {
		t.Fatalf("SearchHistoryKey() = %q and %q, want equal", a, b)
	}
	if a != "konachan - a b" {
		t.Fatalf("SearchHistoryKey() = %q", a)
	}
}

func TestSearchHistoryKeyDoesNotMutateInput(t *testing.T) {
	tags := []string{"z", "a"}
	_ = SearchHistoryKey(WebsiteYande, tags)
	if tags[0] != "z" {
		t.Fatalf("input tags reordered: %v", tags)
	}
}

func TestParseWebsite(t *testing.T) {
	w, err := ParseWebsite(" Yande ")
	if err != nil {
		t.Fatalf("ParseWebsite() error = %v", err)
	}
	if w.BaseURL() != "https://yande.re/" {
		t.Fatalf("BaseURL() = %q", w.BaseURL())
	}
	if _, err := ParseWebsite("danbooru"); err == nil {
		t.Fatalf("expected error for unknown website")
	}
}

func TestPostVariant(t *testing.T) {
	post := Post{
		FileURL: "https://files/a.png", FileSize: 30, Width: 3000, Height: 2000,
		JPEGURL: "https://files/a.jpg", JPEGFileSize: 20, JPEGWidth: 3000, JPEGHeight: 2000,
		SampleURL: "https://files/s.jpg", SampleFileSize: 10, SampleWidth: 1500, SampleHeight: 1000,
	}
	link, size, width, _ := post.Variant(DownloadTypeSample)
	if link != "https://files/s.jpg" || size != 10 || width != 1500 {
		t.Fatalf("Variant(sample) = %q %d %d", link, size, width)
	}
	link, size, _, _ = post.Variant(DownloadTypeFile)
	if link != "https://files/a.png" || size != 30 {
		t.Fatalf("Variant(file) = %q %d", link, size)
	}
}

func TestFileName(t *testing.T) {
	got := FileName("https://files.yande.re/image/abc/yande.re%20123%20tag.jpg?x=1")
	if got != "yande.re 123 tag.jpg" {
		t.Fatalf("FileName() = %q", got)
	}
}
