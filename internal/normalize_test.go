package internal

import (
	stdjson "encoding/json"
	"reflect"
	"testing"
)

func testSnapshot() *PresenceSnapshot {
	return &PresenceSnapshot{
		DiscordUser: DiscordUser{
			ID:         "123456789",
			Username:   "tester",
			GlobalName: "Tester",
		},
		DiscordStatus: "online",
	}
}

func TestNormalizeMalformedSnapshot(t *testing.T) {
	if _, err := Normalize(nil); err != ErrMalformedSnapshot {
		t.Errorf("Expected ErrMalformedSnapshot for nil snapshot, but got %v", err)
	}

	if _, err := Normalize(&PresenceSnapshot{DiscordStatus: "online"}); err != ErrMalformedSnapshot {
		t.Errorf("Expected ErrMalformedSnapshot for missing user id, but got %v", err)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Activities = []Activity{
		{Name: "Some Game", Type: ActivityTypePlaying},
		{Name: "Spotify", Type: ActivityTypeListening},
	}

	first, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	second, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical views, but got %+v and %+v", first, second)
	}
}

func TestNormalizeStreamingPrecedence(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.DiscordStatus = "idle"
	snapshot.Activities = []Activity{
		{Name: "Twitch", Type: ActivityTypeStreaming},
	}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	if view.EffectiveStatus != StatusStreaming {
		t.Errorf("Expected streaming, but got %s", view.EffectiveStatus)
	}
}

func TestNormalizeUnknownStatus(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.DiscordStatus = "invisible"

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	if view.EffectiveStatus != StatusOffline {
		t.Errorf("Expected unknown status to map to offline, but got %s", view.EffectiveStatus)
	}
}

func TestNormalizeActivityOrdering(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Activities = []Activity{
		{Name: "Game", Type: ActivityTypePlaying},
		{Name: "Watching", Type: ActivityTypeWatching},
		{Name: "Stream", Type: ActivityTypeStreaming},
		{Name: "Spotify", Type: ActivityTypeListening},
	}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"Spotify", "Stream", "Watching", "Game"}

	names := make([]string, 0, len(view.Activities))
	for _, activity := range view.Activities {
		names = append(names, activity.Name)
	}

	if !reflect.DeepEqual(names, expected) {
		t.Errorf("Expected %v, but got %v", expected, names)
	}
}

func TestNormalizeOrderingStable(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Activities = []Activity{
		{Name: "First Game", Type: ActivityTypePlaying},
		{Name: "Second Game", Type: ActivityTypePlaying},
		{Name: "Third Game", Type: ActivityTypePlaying},
	}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"First Game", "Second Game", "Third Game"}

	names := make([]string, 0, len(view.Activities))
	for _, activity := range view.Activities {
		names = append(names, activity.Name)
	}

	if !reflect.DeepEqual(names, expected) {
		t.Errorf("Expected arrival order %v, but got %v", expected, names)
	}
}

func TestNormalizeCustomStatusExtraction(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Activities = []Activity{
		{Name: "Custom Status", Type: ActivityTypeCustom, State: "hello world", Emoji: &ActivityEmoji{Name: "wave", ID: "42", Animated: true}},
		{Name: "Game", Type: ActivityTypePlaying},
	}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	if view.CustomStatus == nil {
		t.Fatal("Expected custom status to be extracted")
	}

	if view.CustomStatus.Text != "hello world" {
		t.Errorf("Expected text hello world, but got %s", view.CustomStatus.Text)
	}

	if view.CustomStatus.EmojiURL != discordCDN+"/emojis/42.gif" {
		t.Errorf("Unexpected emoji url %s", view.CustomStatus.EmojiURL)
	}

	if len(view.Activities) != 1 || view.Activities[0].Name != "Game" {
		t.Errorf("Expected custom status filtered out of activities, but got %+v", view.Activities)
	}
}

func TestNormalizeUnicodeEmoji(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Activities = []Activity{
		{Type: ActivityTypeCustom, State: "vibing", Emoji: &ActivityEmoji{Name: "\U0001F3B5"}},
	}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	if view.CustomStatus == nil || view.CustomStatus.EmojiText != "\U0001F3B5" {
		t.Errorf("Expected unicode emoji carried through, but got %+v", view.CustomStatus)
	}
}

func TestNormalizeAvatarURL(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.DiscordUser.Avatar = "a_deadbeef"

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	expected := discordCDN + "/avatars/123456789/a_deadbeef.gif?size=1024"
	if view.AvatarURL != expected {
		t.Errorf("Expected %s, but got %s", expected, view.AvatarURL)
	}

	snapshot.DiscordUser.Avatar = ""

	view, _ = Normalize(snapshot)
	if view.AvatarURL != discordCDN+"/embed/avatars/0.png" {
		t.Errorf("Expected default avatar, but got %s", view.AvatarURL)
	}
}

func TestResolveArtURL(t *testing.T) {
	cases := []struct {
		ref           string
		applicationID string
		expected      string
		fallback      bool
	}{
		{"mp:external/abcd/https/example.com/art.png", "", discordMediaURL + "/external/abcd/https/example.com/art.png", false},
		{"external/xyz/https/example.com/cover.jpg", "", "https://example.com/cover.jpg", false},
		{"spotify:ab67616d", "", spotifyImageCDN + "ab67616d", false},
		{"123401", "9999", discordCDN + "/app-assets/9999/123401.png", false},
		{"123401", "", "", true},
	}

	for _, c := range cases {
		result, fallback := resolveArtURL(c.ref, c.applicationID)
		if result != c.expected || fallback != c.fallback {
			t.Errorf("resolveArtURL(%q, %q): expected (%q, %v), but got (%q, %v)",
				c.ref, c.applicationID, c.expected, c.fallback, result, fallback)
		}
	}
}

func TestNormalizeButtons(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Activities = []Activity{
		{
			Name: "Stream",
			Type: ActivityTypeStreaming,
			URL:  "https://twitch.tv/someone",
			Buttons: []stdjson.RawMessage{
				stdjson.RawMessage(`"Watch"`),
				stdjson.RawMessage(`{"label":"Docs","url":"https://example.com"}`),
				stdjson.RawMessage(`"Bare"`),
			},
		},
	}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	expected := []Button{
		{Label: "Watch", URL: "https://twitch.tv/someone"},
		{Label: "Docs", URL: "https://example.com"},
		{Label: "Bare"},
	}

	if !reflect.DeepEqual(view.Activities[0].Buttons, expected) {
		t.Errorf("Expected %+v, but got %+v", expected, view.Activities[0].Buttons)
	}
}

func TestNormalizeClanBadgeRequiresAllFields(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.DiscordUser.PrimaryGuild = &PrimaryGuild{Tag: "TAG", IdentityGuildID: "", Badge: "hash"}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	if view.ClanBadge != nil {
		t.Errorf("Expected no clan badge with missing guild id, but got %+v", view.ClanBadge)
	}

	snapshot.DiscordUser.PrimaryGuild.IdentityGuildID = "777"

	view, _ = Normalize(snapshot)
	if view.ClanBadge == nil || view.ClanBadge.Tag != "TAG" {
		t.Errorf("Expected clan badge, but got %+v", view.ClanBadge)
	}
}

func TestNormalizeKVFlags(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.KV = map[string]string{
		"rain":     "true",
		"snow":     "0",
		"timezone": "1",
	}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	if !view.RainEnabled || view.SnowEnabled || !view.TimezoneEnabled || view.ReviewsEnabled {
		t.Errorf("Unexpected flags: %+v", view)
	}
}

func TestNormalizeMissingAssetsFallsBack(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Activities = []Activity{
		{Name: "Some Game", Type: ActivityTypePlaying},
	}

	view, err := Normalize(snapshot)
	if err != nil {
		t.Fatal(err)
	}

	if !view.Activities[0].ArtFallback {
		t.Error("Expected art fallback for activity without assets")
	}
}
