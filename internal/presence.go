package internal

import (
	stdjson "encoding/json"
)

// Socket opcodes used by the presence push channel.
const (
	SocketOpEvent     = 0
	SocketOpHello     = 1
	SocketOpSubscribe = 2
	SocketOpHeartbeat = 3
)

// Event types carried on op 0 frames.
const (
	EventInitState      = "INIT_STATE"
	EventPresenceUpdate = "PRESENCE_UPDATE"
)

// Activity type codes.
const (
	ActivityTypePlaying   = 0
	ActivityTypeStreaming = 1
	ActivityTypeListening = 2
	ActivityTypeWatching  = 3
	ActivityTypeCustom    = 4
	ActivityTypeCompeting = 5
)

// SocketPayload is a single frame on the push channel. Error and Success
// may be set on any frame, regardless of opcode.
type SocketPayload struct {
	Op      *int               `json:"op,omitempty"`
	Type    string             `json:"t,omitempty"`
	Data    stdjson.RawMessage `json:"d,omitempty"`
	Error   *SocketError       `json:"error,omitempty"`
	Success *bool              `json:"success,omitempty"`
}

// SocketError is the error body attached to failure frames.
type SocketError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// SentPayload is a frame sent to the push channel.
type SentPayload struct {
	Op   int         `json:"op"`
	Data interface{} `json:"d,omitempty"`
}

// Hello carries the heartbeat interval in milliseconds.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Subscribe asks the upstream to stream one user's presence.
type Subscribe struct {
	SubscribeToID string `json:"subscribe_to_id"`
}

// PresenceSnapshot is one complete presence payload. Each frame fully
// replaces the previous snapshot; there is no field level merging upstream.
type PresenceSnapshot struct {
	KV              map[string]string `json:"kv"`
	DiscordUser     DiscordUser       `json:"discord_user"`
	Activities      []Activity        `json:"activities"`
	DiscordStatus   string            `json:"discord_status"`
	ActiveOnWeb     bool              `json:"active_on_discord_web"`
	ActiveOnDesktop bool              `json:"active_on_discord_desktop"`
	ActiveOnMobile  bool              `json:"active_on_discord_mobile"`
}

// DiscordUser identifies the tracked user.
type DiscordUser struct {
	ID               string            `json:"id"`
	Username         string            `json:"username"`
	GlobalName       string            `json:"global_name"`
	DisplayName      string            `json:"display_name"`
	Avatar           string            `json:"avatar"`
	Discriminator    string            `json:"discriminator"`
	AvatarDecoration *AvatarDecoration `json:"avatar_decoration_data,omitempty"`
	PrimaryGuild     *PrimaryGuild     `json:"primary_guild,omitempty"`
}

type AvatarDecoration struct {
	Asset string `json:"asset"`
	SkuID string `json:"sku_id"`
}

// PrimaryGuild is the clan/tag badge source. All three fields must be
// present for the badge to render.
type PrimaryGuild struct {
	Tag             string `json:"tag"`
	IdentityGuildID string `json:"identity_guild_id"`
	Badge           string `json:"badge"`
}

// Activity is one entry in a snapshot's activity list.
type Activity struct {
	ID            string               `json:"id,omitempty"`
	Name          string               `json:"name"`
	Type          int                  `json:"type"`
	URL           string               `json:"url,omitempty"`
	Details       string               `json:"details,omitempty"`
	State         string               `json:"state,omitempty"`
	ApplicationID string               `json:"application_id,omitempty"`
	Emoji         *ActivityEmoji       `json:"emoji,omitempty"`
	Timestamps    *ActivityTimestamps  `json:"timestamps,omitempty"`
	Assets        *ActivityAssets      `json:"assets,omitempty"`
	Buttons       []stdjson.RawMessage `json:"buttons,omitempty"`
}

type ActivityEmoji struct {
	Name     string `json:"name,omitempty"`
	ID       string `json:"id,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

type ActivityTimestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type ActivityAssets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// PresenceResponse is the REST envelope returned by the presence API for
// one-shot initial loads.
type PresenceResponse struct {
	Success bool              `json:"success"`
	Data    *PresenceSnapshot `json:"data,omitempty"`
	Error   *SocketError      `json:"error,omitempty"`
}

// KVFlag reports whether a kv feature flag is set to a truthy value.
func (snapshot *PresenceSnapshot) KVFlag(key string) bool {
	switch snapshot.KV[key] {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
