package internal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const steamGridBaseURL = "https://www.steamgriddb.com/api/v2"

// ArtResolver looks up a fallback icon for a game name via SteamGridDB.
// Results are cached in redis; lookups without an API key fail fast with
// ErrIconLookupNoKey so the route can answer 503.
type ArtResolver struct {
	Logger zerolog.Logger

	client *Client

	redisClient *redis.Client
	cacheTTL    time.Duration

	apiKey  string
	baseURL string
}

type steamGridSearchResponse struct {
	Data []struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

type steamGridIconResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// NewArtResolver creates the resolver. redisClient may be nil, in which
// case every lookup goes to the backing service.
func NewArtResolver(logger zerolog.Logger, client *Client, redisClient *redis.Client, apiKey string, cacheTTL time.Duration) *ArtResolver {
	return &ArtResolver{
		Logger: logger.With().Str("component", "art").Logger(),

		client: client,

		redisClient: redisClient,
		cacheTTL:    cacheTTL,

		apiKey:  apiKey,
		baseURL: steamGridBaseURL,
	}
}

// Enabled reports whether lookups can be served.
func (resolver *ArtResolver) Enabled() bool {
	return resolver.apiKey != ""
}

// LookupIcon resolves a game name to an icon URL, consulting the cache
// first. A lookup that finds nothing returns ErrIconNotFound.
func (resolver *ArtResolver) LookupIcon(ctx context.Context, game string) (string, error) {
	if !resolver.Enabled() {
		return "", ErrIconLookupNoKey
	}

	cacheKey := "steamgrid:icon:" + strings.ToLower(game)

	if resolver.redisClient != nil {
		cached, err := resolver.redisClient.Get(ctx, cacheKey).Result()
		if err == nil && cached != "" {
			iconCacheHitCount.Inc()

			return cached, nil
		}
	}

	iconCacheMissCount.Inc()

	icon, err := resolver.fetchIcon(ctx, game)
	if err != nil {
		return "", err
	}

	if resolver.redisClient != nil {
		err = resolver.redisClient.Set(ctx, cacheKey, icon, resolver.cacheTTL).Err()
		if err != nil {
			resolver.Logger.Warn().Err(err).Str("game", game).Msg("Failed to cache icon")
		}
	}

	return icon, nil
}

func (resolver *ArtResolver) fetchIcon(ctx context.Context, game string) (string, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + resolver.apiKey,
	}

	searchURL := resolver.baseURL + "/search/autocomplete/" + url.PathEscape(game)

	res, err := resolver.client.Do(ctx, "GET", searchURL, nil, headers)
	if err != nil {
		return "", fmt.Errorf("icon search failed: %w", err)
	}

	var search steamGridSearchResponse

	err = json.NewDecoder(res.Body).Decode(&search)
	res.Body.Close()

	if err != nil {
		return "", fmt.Errorf("failed to decode icon search: %w", err)
	}

	if len(search.Data) == 0 {
		return "", ErrIconNotFound
	}

	iconURL := fmt.Sprintf("%s/icons/game/%d", resolver.baseURL, search.Data[0].ID)

	res, err = resolver.client.Do(ctx, "GET", iconURL, nil, headers)
	if err != nil {
		return "", fmt.Errorf("icon fetch failed: %w", err)
	}

	var icons steamGridIconResponse

	err = json.NewDecoder(res.Body).Decode(&icons)
	res.Body.Close()

	if err != nil {
		return "", fmt.Errorf("failed to decode icons: %w", err)
	}

	if len(icons.Data) == 0 || icons.Data[0].URL == "" {
		return "", ErrIconNotFound
	}

	return icons.Data[0].URL, nil
}
