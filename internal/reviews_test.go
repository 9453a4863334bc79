package internal

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

func newReviewBackend(t *testing.T, pages map[string]string) (*httptest.Server, *int64) {
	t.Helper()

	var requests int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)

		offset := r.URL.Query().Get("offset")

		body, ok := pages[offset]
		if !ok {
			body = `{"success":true,"reviews":[],"hasNextPage":false}`
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))

	return server, &requests
}

func newTestFeed(baseURL string) (*ReviewFeed, *Document) {
	doc := NewDocument("Test Page")

	return NewReviewFeed(zerolog.Nop(), NewClient(), doc, baseURL, "123456789"), doc
}

func documentHTML(t *testing.T, doc *Document) string {
	t.Helper()

	var buffer bytes.Buffer

	if err := doc.Serialize(&buffer); err != nil {
		t.Fatal(err)
	}

	return buffer.String()
}

func TestReviewFeedDisabled(t *testing.T) {
	feed, _ := newTestFeed("")

	if feed.Enabled() {
		t.Error("Expected feed to be disabled without a base url")
	}

	if err := feed.LoadNextPage(context.Background()); err != ErrReviewsDisabled {
		t.Errorf("Expected ErrReviewsDisabled, but got %v", err)
	}
}

func TestReviewFeedFirstPageReplaces(t *testing.T) {
	server, _ := newReviewBackend(t, map[string]string{
		"0": `{"success":true,"hasNextPage":true,"reviews":[{"sender":{"username":"alice","profilePhoto":""},"comment":"first page","timestamp":0}]}`,
	})
	defer server.Close()

	feed, doc := newTestFeed(server.URL)

	if err := feed.LoadNextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(documentHTML(t, doc), "first page") {
		t.Error("Expected first page rendered into the review list")
	}

	// Reloading offset zero replaces, not appends.
	if err := feed.LoadNextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if count := strings.Count(documentHTML(t, doc), "first page"); count != 1 {
		t.Errorf("Expected one rendered review, but got %d", count)
	}
}

func TestReviewFeedAdvance(t *testing.T) {
	server, _ := newReviewBackend(t, map[string]string{
		"0":  `{"success":true,"hasNextPage":true,"reviews":[{"sender":{"username":"alice"},"comment":"page one"}]}`,
		"20": `{"success":true,"hasNextPage":false,"reviews":[{"sender":{"username":"bob"},"comment":"page two"}]}`,
	})
	defer server.Close()

	feed, doc := newTestFeed(server.URL)

	if err := feed.LoadNextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := feed.NextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if feed.Offset() != ReviewPageSize {
		t.Errorf("Expected offset %d, but got %d", ReviewPageSize, feed.Offset())
	}

	rendered := documentHTML(t, doc)

	if !strings.Contains(rendered, "page one") || !strings.Contains(rendered, "page two") {
		t.Error("Expected both pages rendered")
	}

	if feed.HasMore() {
		t.Error("Expected feed exhausted after final page")
	}
}

func TestReviewFeedExhaustedIsNoOp(t *testing.T) {
	server, requests := newReviewBackend(t, map[string]string{
		"0": `{"success":true,"hasNextPage":false,"reviews":[]}`,
	})
	defer server.Close()

	feed, _ := newTestFeed(server.URL)

	if err := feed.LoadNextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := feed.NextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := feed.NextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(requests); got != 1 {
		t.Errorf("Expected exactly one backend request, but got %d", got)
	}

	if feed.Offset() != 0 {
		t.Errorf("Expected offset unchanged at 0, but got %d", feed.Offset())
	}
}

func TestReviewFeedFailedPageRetried(t *testing.T) {
	var failures int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")

		if offset == "20" && atomic.CompareAndSwapInt64(&failures, 0, 1) {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.Header().Set("Content-Type", "application/json")

		switch offset {
		case "0":
			_, _ = w.Write([]byte(`{"success":true,"hasNextPage":true,"reviews":[{"sender":{"username":"alice"},"comment":"page one"}]}`))
		case "20":
			_, _ = w.Write([]byte(`{"success":true,"hasNextPage":false,"reviews":[{"sender":{"username":"bob"},"comment":"page two"}]}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"hasNextPage":false,"reviews":[]}`))
		}
	}))
	defer server.Close()

	feed, doc := newTestFeed(server.URL)

	if err := feed.LoadNextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := feed.NextPage(context.Background()); err == nil {
		t.Fatal("Expected the first trigger to surface the backend failure")
	}

	if feed.Offset() != 0 {
		t.Fatalf("Expected offset rolled back to 0 after failure, but got %d", feed.Offset())
	}

	if err := feed.NextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	if feed.Offset() != ReviewPageSize {
		t.Errorf("Expected offset %d after retry, but got %d", ReviewPageSize, feed.Offset())
	}

	if !strings.Contains(documentHTML(t, doc), "page two") {
		t.Error("Expected the failed page to be fetched on the next trigger")
	}
}

func TestReviewFeedUpstreamFailureClearsLoading(t *testing.T) {
	server, _ := newReviewBackend(t, map[string]string{
		"0": `{"success":false}`,
	})
	defer server.Close()

	feed, _ := newTestFeed(server.URL)

	if err := feed.LoadNextPage(context.Background()); err != ErrUpstream {
		t.Fatalf("Expected ErrUpstream, but got %v", err)
	}

	if feed.isLoading.Load() {
		t.Error("Expected isLoading cleared after failure")
	}

	if !feed.HasMore() {
		t.Error("Expected hasMore untouched after failure")
	}
}

func TestAppendEmojiText(t *testing.T) {
	parent := newElement("div")

	appendEmojiText(parent, "nice <:wave:42> review <a:party:77> here")

	images := 0
	text := ""

	for child := parent.FirstChild; child != nil; child = child.NextSibling {
		switch {
		case child.Type == html.ElementNode && child.Data == "img":
			images++
		case child.Type == html.TextNode:
			text += child.Data
		}
	}

	if images != 2 {
		t.Errorf("Expected 2 emoji images, but got %d", images)
	}

	if text != "nice  review  here" {
		t.Errorf("Unexpected surrounding text %q", text)
	}

	gif := findAllByClass(parent, "custom-emoji")[1]
	if src := getAttr(gif, "src"); !strings.HasSuffix(src, "/emojis/77.gif") {
		t.Errorf("Expected animated emoji gif url, but got %s", src)
	}
}
