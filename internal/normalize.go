package internal

import (
	"sort"
	"strings"
)

const (
	discordCDN      = "https://cdn.discordapp.com"
	discordMediaURL = "https://media.discordapp.net"
	spotifyImageCDN = "https://i.scdn.co/image/"
)

// Status values after applying the streaming precedence rule.
const (
	StatusOnline    = "online"
	StatusIdle      = "idle"
	StatusDnd       = "dnd"
	StatusOffline   = "offline"
	StatusStreaming = "streaming"
)

// View is the canonical view model computed from one snapshot. It is a pure
// value: deriving it has no side effects and normalizing the same snapshot
// twice yields structurally equal views.
type View struct {
	UserID          string
	Username        string
	AvatarURL       string
	DecorationURL   string
	EffectiveStatus string

	Platforms Platforms

	CustomStatus *CustomStatus

	ClanBadge *ClanBadge

	Activities []ViewActivity

	// Feature flags lifted from the snapshot kv store.
	RainEnabled     bool
	SnowEnabled     bool
	TimezoneEnabled bool
	ReviewsEnabled  bool
}

type Platforms struct {
	Mobile  bool
	Desktop bool
	Web     bool
}

// CustomStatus is the extracted kind-4 activity. EmojiURL is set for custom
// emoji with an id; EmojiText carries unicode emoji through as-is.
type CustomStatus struct {
	Text      string
	EmojiURL  string
	EmojiText string
}

// ClanBadge renders only when tag, guild id and badge asset are all present.
type ClanBadge struct {
	Tag      string
	BadgeURL string
}

// ViewActivity is one renderable activity entry.
type ViewActivity struct {
	Name    string
	Kind    int
	Details string
	State   string

	ArtURL string
	// ArtFallback is set when the asset reference could not be resolved to
	// a URL; the renderer resolves an icon asynchronously after paint.
	ArtFallback bool

	SmallText string
	LargeText string

	Start int64
	End   int64

	Buttons []Button
}

// Button is the tagged form of the duck-typed wire button. URL may be empty,
// in which case the button renders disabled.
type Button struct {
	Label string
	URL   string
}

// Normalize derives the view model for a snapshot. It fails only when the
// payload carries no user identity; every other irregularity degrades to an
// empty field. The transform is pure: all asynchronous enrichment is left to
// the renderer.
func Normalize(snapshot *PresenceSnapshot) (*View, error) {
	if snapshot == nil || snapshot.DiscordUser.ID == "" {
		return nil, ErrMalformedSnapshot
	}

	user := snapshot.DiscordUser

	view := &View{
		UserID:          user.ID,
		Username:        displayName(user),
		AvatarURL:       avatarURL(user),
		EffectiveStatus: effectiveStatus(snapshot),

		Platforms: Platforms{
			Mobile:  snapshot.ActiveOnMobile,
			Desktop: snapshot.ActiveOnDesktop,
			Web:     snapshot.ActiveOnWeb,
		},

		RainEnabled:     snapshot.KVFlag("rain"),
		SnowEnabled:     snapshot.KVFlag("snow"),
		TimezoneEnabled: snapshot.KVFlag("timezone"),
		ReviewsEnabled:  snapshot.KVFlag("reviews"),
	}

	if user.AvatarDecoration != nil && user.AvatarDecoration.Asset != "" {
		view.DecorationURL = discordCDN + "/avatar-decoration-presets/" + user.AvatarDecoration.Asset + ".png"
	}

	if pg := user.PrimaryGuild; pg != nil && pg.Tag != "" && pg.IdentityGuildID != "" && pg.Badge != "" {
		view.ClanBadge = &ClanBadge{
			Tag:      pg.Tag,
			BadgeURL: discordCDN + "/clan-badges/" + pg.IdentityGuildID + "/" + pg.Badge + ".png",
		}
	}

	view.CustomStatus = extractCustomStatus(snapshot.Activities)
	view.Activities = normalizeActivities(snapshot.Activities)

	return view, nil
}

// effectiveStatus applies the streaming precedence rule: any streaming
// activity overrides the raw status.
func effectiveStatus(snapshot *PresenceSnapshot) string {
	for i := range snapshot.Activities {
		if snapshot.Activities[i].Type == ActivityTypeStreaming {
			return StatusStreaming
		}
	}

	switch snapshot.DiscordStatus {
	case StatusOnline, StatusIdle, StatusDnd, StatusOffline:
		return snapshot.DiscordStatus
	default:
		return StatusOffline
	}
}

func displayName(user DiscordUser) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}

	if user.GlobalName != "" {
		return user.GlobalName
	}

	return user.Username
}

func avatarURL(user DiscordUser) string {
	if user.Avatar == "" {
		return discordCDN + "/embed/avatars/0.png"
	}

	ext := ".png"
	if strings.HasPrefix(user.Avatar, "a_") {
		ext = ".gif"
	}

	return discordCDN + "/avatars/" + user.ID + "/" + user.Avatar + ext + "?size=1024"
}

// extractCustomStatus pulls the first kind-4 activity out of the list.
// Absence clears any previously rendered custom status.
func extractCustomStatus(activities []Activity) *CustomStatus {
	for i := range activities {
		activity := &activities[i]
		if activity.Type != ActivityTypeCustom {
			continue
		}

		custom := &CustomStatus{Text: activity.State}

		if emoji := activity.Emoji; emoji != nil {
			if emoji.ID != "" {
				ext := ".png"
				if emoji.Animated {
					ext = ".gif"
				}

				custom.EmojiURL = discordCDN + "/emojis/" + emoji.ID + ext
			} else if emoji.Name != "" {
				custom.EmojiText = emoji.Name
			}
		}

		return custom
	}

	return nil
}

// activitySortPriority orders listening before streaming before watching,
// everything else after in arrival order.
func activitySortPriority(kind int) int {
	switch kind {
	case ActivityTypeListening:
		return 0
	case ActivityTypeStreaming:
		return 1
	case ActivityTypeWatching:
		return 2
	default:
		return 99
	}
}

func normalizeActivities(activities []Activity) []ViewActivity {
	filtered := make([]Activity, 0, len(activities))

	for i := range activities {
		if activities[i].Type == ActivityTypeCustom {
			continue
		}

		filtered = append(filtered, activities[i])
	}

	// Stable sort preserves arrival order between equal kinds.
	sort.SliceStable(filtered, func(i, j int) bool {
		return activitySortPriority(filtered[i].Type) < activitySortPriority(filtered[j].Type)
	})

	normalized := make([]ViewActivity, 0, len(filtered))

	for i := range filtered {
		activity := &filtered[i]

		entry := ViewActivity{
			Name:    activity.Name,
			Kind:    activity.Type,
			Details: activity.Details,
			State:   activity.State,

			Buttons: normalizeButtons(activity),
		}

		if ts := activity.Timestamps; ts != nil {
			entry.Start = ts.Start
			entry.End = ts.End
		}

		if assets := activity.Assets; assets != nil {
			entry.LargeText = assets.LargeText
			entry.SmallText = assets.SmallText

			if assets.LargeImage != "" {
				entry.ArtURL, entry.ArtFallback = resolveArtURL(assets.LargeImage, activity.ApplicationID)
			} else {
				entry.ArtFallback = true
			}
		} else {
			entry.ArtFallback = true
		}

		normalized = append(normalized, entry)
	}

	return normalized
}

// resolveArtURL maps an asset reference onto a fetchable URL. When no rule
// matches, fallback is set and the renderer tries an icon lookup after the
// initial paint.
func resolveArtURL(ref, applicationID string) (artURL string, fallback bool) {
	switch {
	case strings.HasPrefix(ref, "mp:external/"):
		return discordMediaURL + "/external/" + strings.TrimPrefix(ref, "mp:external/"), false

	case strings.Contains(ref, "/https/"):
		if _, after, ok := strings.Cut(ref, "/https/"); ok && after != "" {
			return "https://" + after, false
		}

		return "", true

	case strings.HasPrefix(ref, "spotify:"):
		return spotifyImageCDN + strings.TrimPrefix(ref, "spotify:"), false

	case applicationID != "":
		return discordCDN + "/app-assets/" + applicationID + "/" + ref + ".png", false

	default:
		return "", true
	}
}

// normalizeButtons converts the duck-typed wire buttons (bare strings or
// {label,url} objects) into tagged values. The first button without its own
// url inherits the activity's top level url.
func normalizeButtons(activity *Activity) []Button {
	if len(activity.Buttons) == 0 {
		return nil
	}

	buttons := make([]Button, 0, len(activity.Buttons))

	for index, raw := range activity.Buttons {
		var button Button

		var label string
		if err := json.Unmarshal(raw, &label); err == nil {
			button.Label = label
		} else {
			var obj struct {
				Label string `json:"label"`
				URL   string `json:"url,omitempty"`
			}

			if err := json.Unmarshal(raw, &obj); err != nil {
				continue
			}

			button.Label = obj.Label
			button.URL = obj.URL
		}

		if button.URL == "" && index == 0 && activity.URL != "" {
			button.URL = activity.URL
		}

		buttons = append(buttons, button)
	}

	return buttons
}
