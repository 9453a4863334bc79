package internal

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/dominantcolor"
	"github.com/microcosm-cc/bluemonday"
	gotils_strconv "github.com/savsgio/gotils/strconv"
	"github.com/valyala/fasthttp"
	"github.com/yuin/goldmark"
)

const (
	cssSizeLimit    = 50 * 1024
	readmeSizeLimit = 100 * 1024
	imageSizeLimit  = 8 * 1024 * 1024

	proxyTimeout = 10 * time.Second
)

var (
	cssExtensionPattern    = regexp.MustCompile(`(?i)\.css$`)
	readmeExtensionPattern = regexp.MustCompile(`(?i)\.(md|markdown|txt|html?)$`)

	scriptBlockPattern = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	cssImportPattern   = regexp.MustCompile(`(?i)@import\s+url\(['"]?(.*?)['"]?\);?`)
)

var readmePolicy = bluemonday.UGCPolicy()

// handleCSSProxy fetches a remote stylesheet, strips script blocks and
// imports and returns it uncached. Only .css URLs within the size limit are
// served.
func (page *ProfilePage) handleCSSProxy(ctx *fasthttp.RequestCtx) {
	url := gotils_strconv.B2S(ctx.QueryArgs().Peek("url"))

	if url == "" || !strings.HasPrefix(url, "http") || !cssExtensionPattern.MatchString(url) {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_URL", "Invalid URL provided")

		return
	}

	body, err := page.fetchLimited(ctx, url, cssSizeLimit, "text/css")
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "FETCH_FAILED", "Failed to fetch CSS file")

		return
	}

	if len(body) < 5 {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_CONTENT", "CSS content is too small or invalid")

		return
	}

	sanitized := scriptBlockPattern.ReplaceAll(body, nil)
	sanitized = cssImportPattern.ReplaceAll(sanitized, nil)

	ctx.SetContentType("text/css")
	ctx.Response.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	ctx.SetBody(sanitized)
}

// handleReadmeProxy fetches a remote markdown or html file, renders
// markdown to html and sanitizes the result before returning it.
func (page *ProfilePage) handleReadmeProxy(ctx *fasthttp.RequestCtx) {
	url := gotils_strconv.B2S(ctx.QueryArgs().Peek("url"))

	if url == "" || !strings.HasPrefix(url, "http") || !readmeExtensionPattern.MatchString(url) {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_URL", "Invalid URL provided")

		return
	}

	body, err := page.fetchLimited(ctx, url, readmeSizeLimit, "text/markdown")
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "FETCH_FAILED", "Failed to fetch the file")

		return
	}

	if len(body) < 10 {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_CONTENT", "File is too small or invalid")

		return
	}

	var rendered []byte

	lowered := strings.ToLower(url)
	if strings.HasSuffix(lowered, ".html") || strings.HasSuffix(lowered, ".htm") {
		rendered = body
	} else {
		var buf bytes.Buffer

		err = goldmark.Convert(body, &buf)
		if err != nil {
			writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_CONTENT", "Failed to render markdown")

			return
		}

		rendered = buf.Bytes()
	}

	safe := readmePolicy.SanitizeBytes(rendered)

	ctx.SetContentType("text/html; charset=utf-8")
	ctx.Response.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	ctx.SetBody(safe)
}

// handleColors fetches an image and returns its dominant color along with a
// data URI of the image itself, cacheable forever.
func (page *ProfilePage) handleColors(ctx *fasthttp.RequestCtx) {
	url := gotils_strconv.B2S(ctx.QueryArgs().Peek("url"))

	if url == "" || !strings.HasPrefix(url, "http") {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_URL", "Invalid URL provided")

		return
	}

	requestCtx, cancel := context.WithTimeout(ctx, proxyTimeout)
	defer cancel()

	res, err := page.Client.Do(requestCtx, "GET", url, nil, nil)
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusInternalServerError, "FETCH_FAILED", "Failed to fetch image")

		return
	}

	defer res.Body.Close()

	contentType := res.Header.Get("Content-Type")
	if !strings.Contains(contentType, "image/") {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_CONTENT", "Not an image")

		return
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, imageSizeLimit))
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusInternalServerError, "FETCH_FAILED", "Failed to read image")

		return
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_CONTENT", "Failed to decode image")

		return
	}

	color := dominantcolor.Hex(dominantcolor.Find(img))

	response, err := json.Marshal(map[string]interface{}{
		"img":   "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
		"color": color,
	})
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusInternalServerError, "INTERNAL", "Failed to encode response")

		return
	}

	ctx.SetContentType("application/json")
	ctx.Response.Header.Set("Cache-Control", "public, max-age=31536000, immutable")
	ctx.SetBody(response)
}

// handleArt resolves a fallback icon for a game name.
func (page *ProfilePage) handleArt(ctx *fasthttp.RequestCtx) {
	game, _ := ctx.UserValue("game").(string)

	if page.Art == nil || !page.Art.Enabled() {
		writeJSONError(ctx, fasthttp.StatusServiceUnavailable, "DISABLED", "Route disabled due to missing SteamGridDB key")

		return
	}

	if len(game) < 2 {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "INVALID_GAME", "Missing or invalid game name")

		return
	}

	requestCtx, cancel := context.WithTimeout(ctx, proxyTimeout)
	defer cancel()

	icon, err := page.Art.LookupIcon(requestCtx, game)
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusNotFound, "NOT_FOUND", "Icon not found")

		return
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"game": game,
		"icon": icon,
	})
}

// fetchLimited fetches a remote document, rejecting bodies over the limit.
func (page *ProfilePage) fetchLimited(ctx context.Context, url string, limit int64, accept string) ([]byte, error) {
	requestCtx, cancel := context.WithTimeout(ctx, proxyTimeout)
	defer cancel()

	res, err := page.Client.Do(requestCtx, "GET", url, nil, map[string]string{"Accept": accept})
	if err != nil {
		return nil, err
	}

	defer res.Body.Close()

	if res.ContentLength > limit {
		return nil, fmt.Errorf("document exceeds %d byte limit", limit)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(body)) > limit {
		return nil, fmt.Errorf("document exceeds %d byte limit", limit)
	}

	return body, nil
}
