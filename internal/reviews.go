package internal

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/net/html"
)

// ReviewPageSize is the number of reviews requested per page.
const ReviewPageSize = 20

var customEmojiPattern = regexp.MustCompile(`<(a?):(\w+):(\d+)>`)

// ReviewFeed is the incremental loader for the reviews section. Its state
// lives for the page session and is only ever reset by a full restart.
type ReviewFeed struct {
	Logger zerolog.Logger

	client  *Client
	doc     *Document
	baseURL string
	userID  string

	offset    *atomic.Int64
	hasMore   *atomic.Bool
	isLoading *atomic.Bool
}

// ReviewPage is the wire response for one page of reviews.
type ReviewPage struct {
	Success     bool     `json:"success"`
	Reviews     []Review `json:"reviews"`
	HasNextPage bool     `json:"hasNextPage"`
}

type Review struct {
	Sender    ReviewSender `json:"sender"`
	Comment   string       `json:"comment"`
	Timestamp int64        `json:"timestamp"`
}

type ReviewSender struct {
	Username     string        `json:"username"`
	ProfilePhoto string        `json:"profilePhoto"`
	Badges       []ReviewBadge `json:"badges"`
}

type ReviewBadge struct {
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// NewReviewFeed creates the loader. baseURL empty disables the feed
// entirely; LoadNextPage becomes a no-op.
func NewReviewFeed(logger zerolog.Logger, client *Client, doc *Document, baseURL, userID string) *ReviewFeed {
	return &ReviewFeed{
		Logger: logger.With().Str("component", "reviews").Logger(),

		client:  client,
		doc:     doc,
		baseURL: baseURL,
		userID:  userID,

		offset:    atomic.NewInt64(0),
		hasMore:   atomic.NewBool(true),
		isLoading: atomic.NewBool(false),
	}
}

// Enabled reports whether the feed has a configured backend.
func (feed *ReviewFeed) Enabled() bool {
	return feed.baseURL != ""
}

// HasMore reports whether the server indicated another page exists.
func (feed *ReviewFeed) HasMore() bool {
	return feed.hasMore.Load()
}

// Offset returns the current page offset.
func (feed *ReviewFeed) Offset() int64 {
	return feed.offset.Load()
}

// Advance moves the offset forward one page. Offset advancement is the
// trigger's responsibility, not the fetch's.
func (feed *ReviewFeed) Advance() {
	feed.offset.Add(ReviewPageSize)
}

// NextPage advances the offset then fetches the new page. Used by the
// pagination trigger; the initial load calls LoadNextPage directly so the
// first page stays at offset zero. A failed fetch rolls the offset back so
// the next trigger retries the same page instead of skipping it.
func (feed *ReviewFeed) NextPage(ctx context.Context) error {
	if !feed.Enabled() {
		return ErrReviewsDisabled
	}

	if !feed.hasMore.Load() || feed.isLoading.Load() {
		return nil
	}

	feed.Advance()

	err := feed.LoadNextPage(ctx)
	if err != nil {
		feed.offset.Sub(ReviewPageSize)
	}

	return err
}

// LoadNextPage fetches the page at the current offset and renders it into
// the document. It returns immediately when a fetch is already in flight,
// the feed is exhausted, or the feed is disabled. isLoading is always
// cleared on completion, success or failure, so one failed request can
// never block the feed permanently. No automatic retry is performed.
func (feed *ReviewFeed) LoadNextPage(ctx context.Context) error {
	if !feed.Enabled() {
		return ErrReviewsDisabled
	}

	if !feed.hasMore.Load() {
		return nil
	}

	if !feed.isLoading.CompareAndSwap(false, true) {
		return nil
	}

	defer feed.isLoading.Store(false)

	offset := feed.offset.Load()

	url := fmt.Sprintf("%s/users/%s/reviews?flags=2&offset=%d", feed.baseURL, feed.userID, offset)

	var page ReviewPage

	err := feed.client.FetchJSON(ctx, "GET", url, nil, &page)
	if err != nil {
		feed.Logger.Warn().Err(err).Int64("offset", offset).Msg("Failed to fetch review page")

		return fmt.Errorf("failed to fetch review page: %w", err)
	}

	if !page.Success {
		feed.Logger.Warn().Int64("offset", offset).Msg("Review backend reported failure")

		return ErrUpstream
	}

	feed.hasMore.Store(page.HasNextPage)

	feed.renderPage(offset, page.Reviews)

	reviewPageCount.Inc()

	feed.Logger.Debug().
		Int64("offset", offset).
		Int("reviews", len(page.Reviews)).
		Bool("hasMore", page.HasNextPage).
		Msg("Loaded review page")

	return nil
}

// renderPage inserts one page of reviews into the document. The first page
// replaces the list content; later pages append.
func (feed *ReviewFeed) renderPage(offset int64, reviews []Review) {
	feed.doc.Update(func() {
		list := findByClass(feed.doc.Body(), "review-list")
		if list == nil {
			return
		}

		if offset == 0 {
			removeChildren(list)
		}

		for i := range reviews {
			list.AppendChild(buildReviewNode(&reviews[i]))
		}
	})
}

func buildReviewNode(review *Review) *html.Node {
	item := newElement("li", "class", "review")

	sender := newElement("div", "class", "review-sender")

	if review.Sender.ProfilePhoto != "" {
		sender.AppendChild(newElement("img", "class", "review-avatar", "src", review.Sender.ProfilePhoto, "alt", ""))
	}

	name := newElement("span", "class", "review-username")
	name.AppendChild(newText(review.Sender.Username))
	sender.AppendChild(name)

	for _, badge := range review.Sender.Badges {
		if badge.Icon == "" {
			continue
		}

		sender.AppendChild(newElement("img", "class", "review-badge", "src", badge.Icon, "alt", badge.Name, "title", badge.Description))
	}

	item.AppendChild(sender)

	comment := newElement("div", "class", "review-comment")
	appendEmojiText(comment, review.Comment)
	item.AppendChild(comment)

	if review.Timestamp > 0 {
		timestamp := newElement("div", "class", "review-timestamp")
		timestamp.AppendChild(newText(time.Unix(review.Timestamp, 0).UTC().Format("2006-01-02 15:04")))
		item.AppendChild(timestamp)
	}

	return item
}

// appendEmojiText inserts review text, rewriting embedded custom emoji
// markup (<:name:id> and <a:name:id>) into inline images. Everything else
// is inserted as text nodes; sanitizing arbitrary remote content is the
// proxy's job, not this component's.
func appendEmojiText(parent *html.Node, text string) {
	matches := customEmojiPattern.FindAllStringSubmatchIndex(text, -1)

	last := 0

	for _, match := range matches {
		if match[0] > last {
			parent.AppendChild(newText(text[last:match[0]]))
		}

		animated := text[match[2]:match[3]] == "a"
		name := text[match[4]:match[5]]
		id := text[match[6]:match[7]]

		ext := ".png"
		if animated {
			ext = ".gif"
		}

		if _, err := strconv.ParseUint(id, 10, 64); err == nil {
			parent.AppendChild(newElement("img", "class", "custom-emoji", "src", discordCDN+"/emojis/"+id+ext, "alt", name))
		}

		last = match[1]
	}

	if last < len(text) {
		parent.AppendChild(newText(text[last:]))
	}
}
