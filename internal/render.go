package internal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

const tickerInterval = time.Second

// Renderer owns all mutation of the live document. State that the old page
// kept in globals (overlay flag, loaded effects, progress memo) lives here
// explicitly, one renderer per page session.
type Renderer struct {
	Logger zerolog.Logger

	doc *Document

	art      *ArtResolver
	timezone *TimezoneClient

	userID string

	loadedEffects map[string]bool

	// progressMemo remembers the last elapsed value per timestamp pair so
	// the ticker can flag stalled labels as paused.
	progressMemo map[string]int64

	tzLocation *time.Location
	tzFetched  bool

	view *View
}

// NewRenderer creates a renderer bound to a document. art and timezone may
// be nil; the corresponding widgets degrade silently.
func NewRenderer(logger zerolog.Logger, doc *Document, art *ArtResolver, timezone *TimezoneClient, userID string) *Renderer {
	return &Renderer{
		Logger: logger.With().Str("component", "renderer").Logger(),

		doc: doc,

		art:      art,
		timezone: timezone,

		userID: userID,

		loadedEffects: make(map[string]bool),
		progressMemo:  make(map[string]int64),
	}
}

// Apply renders a view model into the document. It is idempotent: applying
// the same view twice produces the same visible state. The activity list is
// fully replaced on every call.
func (renderer *Renderer) Apply(view *View) {
	now := nowMillis()

	renderer.doc.Update(func() {
		renderer.view = view

		renderer.applyUser(view)
		renderer.applyStatus(view)
		renderer.applyCustomStatus(view)
		renderer.applyClanBadge(view)
		renderer.applyActivities(view, now)
		renderer.pruneProgressMemo(view)
		renderer.applyEffects(view)
		renderer.applyWidgets(view)

		renderer.reveal()
	})

	presenceRenderCount.Inc()

	// Enrichment runs after the paint and never blocks it.
	go renderer.enrich(view)
}

// RenderError surfaces an upstream or malformed-payload failure on the
// overlay. When the failure is a malformed snapshot the identity elements
// are hidden as well. The socket state machine is not touched.
func (renderer *Renderer) RenderError(message string, hideIdentity bool) {
	renderer.doc.Update(func() {
		overlay := findByClass(renderer.doc.Body(), "loading-overlay")
		if overlay != nil {
			removeClass(overlay, "hidden")
			addClass(overlay, "errored")

			if messageNode := findByClass(overlay, "overlay-message"); messageNode != nil {
				setText(messageNode, message)
			}
		}

		if hideIdentity {
			if avatar := findByClass(renderer.doc.Body(), "avatar"); avatar != nil {
				addClass(avatar, "hidden")
			}

			if username := findByClass(renderer.doc.Body(), "username"); username != nil {
				addClass(username, "hidden")
			}
		}
	})

	presenceRenderErrorCount.Inc()
}

// reveal hides the loading overlay after the first successful render. Once
// hidden it never flashes back into the loading state.
func (renderer *Renderer) reveal() {
	overlay := findByClass(renderer.doc.Body(), "loading-overlay")
	if overlay != nil {
		addClass(overlay, "hidden")
		removeClass(overlay, "errored")
	}
}

func (renderer *Renderer) applyUser(view *View) {
	body := renderer.doc.Body()

	if avatar := findByClass(body, "avatar"); avatar != nil {
		setAttr(avatar, "src", view.AvatarURL)
		removeClass(avatar, "hidden")
	}

	if decoration := findByClass(body, "avatar-decoration"); decoration != nil {
		if view.DecorationURL != "" {
			setAttr(decoration, "src", view.DecorationURL)
			removeClass(decoration, "hidden")
		} else {
			addClass(decoration, "hidden")
		}
	}

	if username := findByClass(body, "username"); username != nil {
		setText(username, view.Username)
		removeClass(username, "hidden")
	}
}

// applyStatus maintains the single status indicator and the per platform
// icons. The indicator's class is replaced wholesale; duplicate indicators
// are a defect.
func (renderer *Renderer) applyStatus(view *View) {
	wrapper := findByClass(renderer.doc.Body(), "avatar-wrapper")
	if wrapper == nil {
		return
	}

	indicator := findByClass(wrapper, "status-indicator")
	if indicator == nil {
		indicator = newElement("div", "class", "status-indicator "+view.EffectiveStatus)
		wrapper.AppendChild(indicator)
	} else {
		setAttr(indicator, "class", "status-indicator "+view.EffectiveStatus)
	}

	platforms := []struct {
		class  string
		active bool
	}{
		{"mobile-only", view.Platforms.Mobile},
		{"desktop-only", view.Platforms.Desktop},
		{"web-only", view.Platforms.Web},
	}

	for _, platform := range platforms {
		icon := findByClass(wrapper, platform.class)
		if icon == nil {
			continue
		}

		if platform.active {
			setAttr(icon, "class", "platform-icon "+platform.class+" "+view.EffectiveStatus)
		} else {
			setAttr(icon, "class", "platform-icon "+platform.class+" hidden")
		}
	}
}

func (renderer *Renderer) applyCustomStatus(view *View) {
	node := findByClass(renderer.doc.Body(), "custom-status")
	if node == nil {
		return
	}

	removeChildren(node)

	custom := view.CustomStatus
	if custom == nil {
		addClass(node, "hidden")

		return
	}

	removeClass(node, "hidden")

	switch {
	case custom.EmojiURL != "":
		node.AppendChild(newElement("img", "class", "custom-emoji", "src", custom.EmojiURL, "alt", ""))
	case custom.EmojiText != "":
		node.AppendChild(newText(custom.EmojiText + " "))
	}

	if custom.Text != "" {
		node.AppendChild(newText(custom.Text))
	}
}

// applyClanBadge inserts the clan badge next to the username. Any previous
// badge is removed first so repeated renders never stack duplicates.
func (renderer *Renderer) applyClanBadge(view *View) {
	userInfo := findByClass(renderer.doc.Body(), "user-info")
	if userInfo == nil {
		return
	}

	if existing := findByClass(userInfo, "clan-badge"); existing != nil {
		detach(existing)
	}

	badge := view.ClanBadge
	if badge == nil {
		return
	}

	node := newElement("span", "class", "clan-badge")
	node.AppendChild(newElement("img", "class", "clan-badge-icon", "src", badge.BadgeURL, "alt", ""))

	tag := newElement("span", "class", "clan-badge-tag")
	tag.AppendChild(newText(badge.Tag))
	node.AppendChild(tag)

	username := findByClass(userInfo, "username")
	if username != nil && username.NextSibling != nil {
		userInfo.InsertBefore(node, username.NextSibling)
	} else {
		userInfo.AppendChild(node)
	}
}

func (renderer *Renderer) applyActivities(view *View, now int64) {
	list := findByClass(renderer.doc.Body(), "activities")
	if list == nil {
		return
	}

	removeChildren(list)

	for i := range view.Activities {
		list.AppendChild(renderer.buildActivityNode(&view.Activities[i], now))
	}
}

// pruneProgressMemo drops memo entries for timestamp pairs no longer present
// in the view so the map does not grow across activity changes.
func (renderer *Renderer) pruneProgressMemo(view *View) {
	live := make(map[string]bool, len(view.Activities))

	for i := range view.Activities {
		activity := &view.Activities[i]

		if activity.End > activity.Start {
			live[strconv.FormatInt(activity.Start, 10)+"-"+strconv.FormatInt(activity.End, 10)] = true
		}
	}

	for key := range renderer.progressMemo {
		if !live[key] {
			delete(renderer.progressMemo, key)
		}
	}
}

func (renderer *Renderer) buildActivityNode(activity *ViewActivity, now int64) *html.Node {
	item := newElement("li", "class", "activity")

	art := newElement("img", "class", "activity-art", "alt", "Art")
	if activity.ArtURL != "" {
		setAttr(art, "src", activity.ArtURL)
	} else {
		addClass(art, "hidden")
		setAttr(art, "data-art-pending", activity.Name)
	}

	item.AppendChild(art)

	content := newElement("div", "class", "activity-content")
	item.AppendChild(content)

	progress, hasProgress := ProgressAt(activity.Start, activity.End, now)

	headerClass := "activity-header"
	if hasProgress {
		headerClass += " no-timestamp"
	}

	header := newElement("div", "class", headerClass)

	name := newElement("span", "class", "activity-name")
	name.AppendChild(newText(activity.Name))
	header.AppendChild(name)

	if !hasProgress && activity.Start > 0 {
		timestamp := newElement("div", "class", "activity-timestamp", "data-start", strconv.FormatInt(activity.Start, 10))

		since := newElement("span", "class", "activity-since")
		since.AppendChild(newText("Since: " + time.UnixMilli(activity.Start).UTC().Format("15:04:05") + " "))

		elapsed := newElement("span", "class", "elapsed")
		elapsed.AppendChild(newText(elapsedLabel(ElapsedSince(activity.Start, now))))
		since.AppendChild(elapsed)

		timestamp.AppendChild(since)
		header.AppendChild(timestamp)
	}

	content.AppendChild(header)

	if activity.Details != "" {
		detail := newElement("div", "class", "activity-detail")
		detail.AppendChild(newText(activity.Details))
		content.AppendChild(detail)
	}

	if activity.State != "" {
		state := newElement("div", "class", "activity-detail")
		state.AppendChild(newText(activity.State))
		content.AppendChild(state)
	}

	if len(activity.Buttons) > 0 {
		buttons := newElement("div", "class", "activity-buttons")

		for _, button := range activity.Buttons {
			if button.URL != "" {
				link := newElement("a", "class", "activity-button", "href", button.URL, "target", "_blank", "rel", "noopener noreferrer")
				link.AppendChild(newText(button.Label))
				buttons.AppendChild(link)
			} else {
				disabled := newElement("span", "class", "activity-button disabled")
				disabled.AppendChild(newText(button.Label))
				buttons.AppendChild(disabled)
			}
		}

		content.AppendChild(buttons)
	}

	if hasProgress {
		start := strconv.FormatInt(activity.Start, 10)
		end := strconv.FormatInt(activity.End, 10)

		bar := newElement("div", "class", "progress-bar", "data-start", start, "data-end", end)
		fill := newElement("div", "class", "progress-fill", "style", fmt.Sprintf("width: %d%%", progress.Percent))
		bar.AppendChild(fill)
		content.AppendChild(bar)

		labels := newElement("div", "class", "progress-time-labels", "data-start", start, "data-end", end)

		current := newElement("span", "class", "progress-current")
		current.AppendChild(newText(FormatCompact(progress.Elapsed)))
		labels.AppendChild(current)

		total := newElement("span", "class", "progress-total")
		total.AppendChild(newText(FormatCompact(progress.Total)))
		labels.AppendChild(total)

		content.AppendChild(labels)
	}

	return item
}

// applyEffects injects ambient effect scripts gated by kv flags. Each effect
// is loaded at most once per page lifetime; injection is idempotent.
func (renderer *Renderer) applyEffects(view *View) {
	if view.RainEnabled {
		renderer.injectEffect("rain")
	}

	if view.SnowEnabled {
		renderer.injectEffect("snow")
	}
}

func (renderer *Renderer) injectEffect(name string) {
	if renderer.loadedEffects[name] {
		return
	}

	head := renderer.doc.Head()

	// Double check against the tree in case the skeleton already carried it.
	for child := head.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == "script" && getAttr(child, "data-effect") == name {
			renderer.loadedEffects[name] = true

			return
		}
	}

	script := newElement("script", "src", "/public/js/"+name+".js", "data-effect", name, "defer", "")
	head.AppendChild(script)

	renderer.loadedEffects[name] = true

	renderer.Logger.Debug().Str("effect", name).Msg("Injected effect script")
}

func (renderer *Renderer) applyWidgets(view *View) {
	body := renderer.doc.Body()

	if tz := findByClass(body, "timezone"); tz != nil {
		setClassVisible(tz, view.TimezoneEnabled && renderer.timezone != nil)
	}

	if reviews := findByClass(body, "reviews"); reviews != nil {
		setClassVisible(reviews, view.ReviewsEnabled)
	}
}

// enrich resolves data the snapshot does not carry directly: fallback art
// icons and the timezone widget. Each fetch catches its own failure and
// degrades only its widget.
func (renderer *Renderer) enrich(view *View) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if renderer.art != nil {
		for i := range view.Activities {
			activity := &view.Activities[i]
			if !activity.ArtFallback || activity.Name == "" {
				continue
			}

			icon, err := renderer.art.LookupIcon(ctx, activity.Name)
			if err != nil {
				renderer.Logger.Debug().Err(err).Str("game", activity.Name).Msg("Fallback icon lookup failed")

				continue
			}

			renderer.doc.Update(func() {
				for _, node := range findAllByClass(renderer.doc.Body(), "activity-art") {
					if getAttr(node, "data-art-pending") == activity.Name {
						setAttr(node, "src", icon)
						removeAttr(node, "data-art-pending")
						removeClass(node, "hidden")
					}
				}
			})
		}
	}

	if renderer.timezone != nil && view.TimezoneEnabled && !renderer.tzFetched {
		location, err := renderer.timezone.Lookup(ctx, renderer.userID)
		if err != nil {
			renderer.Logger.Debug().Err(err).Msg("Timezone lookup failed")
		} else {
			renderer.doc.Update(func() {
				renderer.tzLocation = location
				renderer.tzFetched = true
			})

			renderer.Tick(time.Now())
		}
	}
}

// RunTicker refreshes elapsed and progress labels between snapshots so
// timers appear to run smoothly. It runs for the page's lifetime.
func (renderer *Renderer) RunTicker(ctx context.Context) {
	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			renderer.Tick(now)
		}
	}
}

// Tick recomputes every time-derived label from absolute timestamps. It is
// idempotent and touches only text and classes, so interleaving with a
// snapshot render cannot corrupt state.
func (renderer *Renderer) Tick(at time.Time) {
	now := at.UnixMilli()

	renderer.doc.Update(func() {
		body := renderer.doc.Body()

		for _, node := range findAllByClass(body, "activity-timestamp") {
			start, err := strconv.ParseInt(getAttr(node, "data-start"), 10, 64)
			if err != nil || start == 0 {
				continue
			}

			if elapsed := findByClass(node, "elapsed"); elapsed != nil {
				setText(elapsed, elapsedLabel(ElapsedSince(start, now)))
			}
		}

		for _, bar := range findAllByClass(body, "progress-bar") {
			start, end, ok := timestampRange(bar)
			if !ok {
				continue
			}

			progress, ok := ProgressAt(start, end, now)
			if !ok {
				continue
			}

			if fill := findByClass(bar, "progress-fill"); fill != nil {
				setAttr(fill, "style", fmt.Sprintf("width: %d%%", progress.Percent))
			}
		}

		for _, labels := range findAllByClass(body, "progress-time-labels") {
			start, end, ok := timestampRange(labels)
			if !ok {
				continue
			}

			progress, ok := ProgressAt(start, end, now)
			if !ok {
				continue
			}

			memoKey := getAttr(labels, "data-start") + "-" + getAttr(labels, "data-end")

			// Paused when the activity ran past its end, or when the value
			// has not moved since the previous tick (covers stale elapsed
			// labels after a suspension).
			if last, seen := renderer.progressMemo[memoKey]; progress.Paused || (seen && last == progress.Elapsed) {
				addClass(labels, "paused")
			} else {
				removeClass(labels, "paused")
			}

			renderer.progressMemo[memoKey] = progress.Elapsed

			if current := findByClass(labels, "progress-current"); current != nil {
				setText(current, FormatCompact(progress.Elapsed))
			}

			if total := findByClass(labels, "progress-total"); total != nil {
				setText(total, FormatCompact(progress.Total))
			}
		}

		if renderer.tzLocation != nil {
			if tz := findByClass(body, "timezone"); tz != nil && !hasClass(tz, "hidden") {
				setText(tz, at.In(renderer.tzLocation).Format("15:04")+" ("+renderer.tzLocation.String()+")")
			}
		}
	})
}

func elapsedLabel(elapsed int64) string {
	return "(" + FormatVerbose(elapsed) + " ago)"
}

func timestampRange(node *html.Node) (start, end int64, ok bool) {
	start, err := strconv.ParseInt(getAttr(node, "data-start"), 10, 64)
	if err != nil {
		return 0, 0, false
	}

	end, err = strconv.ParseInt(getAttr(node, "data-end"), 10, 64)
	if err != nil {
		return 0, 0, false
	}

	if end <= start {
		return 0, 0, false
	}

	return start, end, true
}
