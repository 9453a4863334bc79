package internal

import (
	"bytes"
	"context"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RestResponse is the response when returning rest requests.
type RestResponse struct {
	Success  bool        `json:"success"`
	Response interface{} `json:"response,omitempty"`
	Error    string      `json:"error,omitempty"`
	Code     string      `json:"code,omitempty"`
}

// NewRestRouter sets up the http routes.
func (page *ProfilePage) NewRestRouter() fasthttp.RequestHandler {
	r := router.New()

	r.GET("/", page.handleIndex)
	r.GET("/{id}", page.handleUserPage)

	r.GET("/api/css", page.handleCSSProxy)
	r.GET("/api/readme", page.handleReadmeProxy)
	r.GET("/api/colors", page.handleColors)
	r.GET("/api/art/{game}", page.handleArt)

	r.POST("/api/reviews/next", page.handleReviewsNext)

	r.ServeFiles("/public/{filepath:*}", page.Configuration.Page.PublicDirectory)

	return r.Handler
}

// HandleRequest handles any incoming HTTP requests.
func (page *ProfilePage) HandleRequest(ctx *fasthttp.RequestCtx) {
	start := time.Now()

	defer func() {
		page.Logger.Info().Msgf("%s %s %s %d %s",
			ctx.RemoteAddr(),
			ctx.Request.Header.Method(),
			ctx.Request.URI().Path(),
			ctx.Response.StatusCode(),
			time.Since(start).Round(time.Microsecond))
	}()

	page.RouterHandler(ctx)
}

// handleIndex serves the live document for the configured user.
func (page *ProfilePage) handleIndex(ctx *fasthttp.RequestCtx) {
	var buffer bytes.Buffer

	if err := page.Document.Serialize(&buffer); err != nil {
		writeJSONError(ctx, fasthttp.StatusInternalServerError, "INTERNAL", "Failed to render page")

		return
	}

	ctx.Response.Header.SetContentType("text/html; charset=utf-8")
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.Write(buffer.Bytes())
}

// handleUserPage serves a one-shot render for an arbitrary user id. The
// configured user gets the live document instead.
func (page *ProfilePage) handleUserPage(ctx *fasthttp.RequestCtx) {
	userID, _ := ctx.UserValue("id").(string)

	if userID == "" || userID == page.Configuration.Presence.UserID {
		page.handleIndex(ctx)

		return
	}

	if page.Configuration.Presence.Instance == "" {
		writeJSONError(ctx, fasthttp.StatusServiceUnavailable, "DISABLED", "No presence instance configured")

		return
	}

	requestCtx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	snapshot, err := page.Client.FetchPresence(requestCtx, page.Configuration.Presence.Instance, userID)
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusNotFound, "NOT_FOUND", "User not found or not monitored")

		return
	}

	view, err := Normalize(snapshot)
	if err != nil {
		writeJSONError(ctx, fasthttp.StatusBadGateway, "UPSTREAM", "Malformed presence snapshot")

		return
	}

	doc := NewDocument(page.Configuration.Page.Title)
	doc.SetMetadata(userID, page.Configuration.Presence.Instance, page.Configuration.Badges.APIURL)

	renderer := NewRenderer(page.Logger, doc, page.Art, page.Timezone, userID)
	renderer.Apply(view)

	var buffer bytes.Buffer

	if err := doc.Serialize(&buffer); err != nil {
		writeJSONError(ctx, fasthttp.StatusInternalServerError, "INTERNAL", "Failed to render page")

		return
	}

	ctx.Response.Header.SetContentType("text/html; charset=utf-8")
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.Write(buffer.Bytes())
}

// handleReviewsNext advances the review feed by one page.
func (page *ProfilePage) handleReviewsNext(ctx *fasthttp.RequestCtx) {
	if !page.Reviews.Enabled() {
		writeJSONError(ctx, fasthttp.StatusServiceUnavailable, "DISABLED", "Review feed is not configured")

		return
	}

	if !page.Reviews.HasMore() {
		writeJSON(ctx, fasthttp.StatusOK, RestResponse{
			Success: true,
			Response: map[string]interface{}{
				"offset":  page.Reviews.Offset(),
				"hasMore": false,
			},
		})

		return
	}

	requestCtx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	if err := page.Reviews.NextPage(requestCtx); err != nil {
		page.Logger.Warn().Err(err).Msg("Failed to load review page")
		writeJSONError(ctx, fasthttp.StatusBadGateway, "UPSTREAM", "Failed to load reviews")

		return
	}

	writeJSON(ctx, fasthttp.StatusOK, RestResponse{
		Success: true,
		Response: map[string]interface{}{
			"offset":  page.Reviews.Offset(),
			"hasMore": page.Reviews.HasMore(),
		},
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)

		return
	}

	ctx.Response.Header.SetContentType("application/json; charset=utf-8")
	ctx.SetStatusCode(statusCode)
	_, _ = ctx.Write(body)
}

func writeJSONError(ctx *fasthttp.RequestCtx, statusCode int, code, message string) {
	writeJSON(ctx, statusCode, RestResponse{
		Success: false,
		Code:    code,
		Error:   message,
	})
}
