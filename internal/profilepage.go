package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// VERSION follows semantic versioning.
const VERSION = "1.2.0"

type ProfilePage struct {
	Logger zerolog.Logger

	StartTime time.Time

	ctx    context.Context
	cancel func()

	Configuration   *Configuration
	configurationMu sync.RWMutex

	Client *Client

	Document *Document
	Renderer *Renderer
	Socket   *Socket
	Reviews  *ReviewFeed
	Art      *ArtResolver
	Timezone *TimezoneClient

	RedisClient *redis.Client

	RouterHandler fasthttp.RequestHandler

	ConfigurationLocation string

	Options ProfilePageOptions
}

// ProfilePageOptions represents any options passable when creating the service.
type ProfilePageOptions struct {
	ConfigurationLocation string `json:"configuration_location" yaml:"configuration_location"`
	PrometheusAddress     string `json:"prometheus_address" yaml:"prometheus_address"`
	HTTPHost              string `json:"http_host" yaml:"http_host"`
}

// NewProfilePage creates the application state and initializes it.
func NewProfilePage(logger io.Writer, options ProfilePageOptions) (page *ProfilePage, err error) {
	page = &ProfilePage{
		Logger: zerolog.New(logger).With().Timestamp().Logger(),

		ConfigurationLocation: options.ConfigurationLocation,

		configurationMu: sync.RWMutex{},

		Options: options,
	}

	page.ctx, page.cancel = context.WithCancel(context.Background())

	configuration, err := page.LoadConfiguration(page.ConfigurationLocation)
	if err != nil {
		return nil, err
	}

	page.configurationMu.Lock()
	defer page.configurationMu.Unlock()

	page.Configuration = configuration

	if options.HTTPHost != "" {
		configuration.Page.Host = options.HTTPHost
	}

	if options.PrometheusAddress != "" {
		configuration.Page.PrometheusAddress = options.PrometheusAddress
	}

	page.Client = NewClient()
	page.Document = NewDocument(configuration.Page.Title)

	page.Document.SetMetadata(
		configuration.Presence.UserID,
		configuration.Presence.Instance,
		configuration.Badges.APIURL,
	)

	if configuration.Redis.Address != "" {
		page.RedisClient = redis.NewClient(&redis.Options{
			Addr:     configuration.Redis.Address,
			Password: configuration.Redis.Password,
			DB:       configuration.Redis.DB,
		})
	}

	page.Art = NewArtResolver(
		page.Logger,
		page.Client,
		page.RedisClient,
		configuration.SteamGridDB.APIKey,
		time.Duration(configuration.Redis.TTLMinutes)*time.Minute,
	)

	if configuration.Timezone.APIURL != "" {
		page.Timezone = NewTimezoneClient(page.Logger, page.Client, configuration.Timezone.APIURL)
	}

	page.Renderer = NewRenderer(
		page.Logger,
		page.Document,
		page.Art,
		page.Timezone,
		configuration.Presence.UserID,
	)

	page.Reviews = NewReviewFeed(
		page.Logger,
		page.Client,
		page.Document,
		configuration.Reviews.APIURL,
		configuration.Presence.UserID,
	)

	page.Socket = NewSocket(
		page.Logger,
		configuration.Presence.Instance,
		configuration.Presence.UserID,
		page.Renderer,
	)

	return page, nil
}

// Open starts up the listeners and connects the presence push channel.
func (page *ProfilePage) Open() {
	page.StartTime = time.Now().UTC()
	page.Logger.Info().Msgf("Starting profilePage. Version %s", VERSION)

	// Setup Prometheus
	go page.setupPrometheus()

	// Setup HTTP
	go page.setupHTTP()

	if page.Configuration.Presence.UserID == "" {
		page.Logger.Warn().Err(ErrMissingUserID).Msg("Live updates disabled")

		return
	}

	if page.Configuration.Presence.Instance == "" {
		page.Logger.Warn().Err(ErrMissingInstance).Msg("Live updates disabled")

		return
	}

	go page.openLiveCore()
}

// openLiveCore performs the initial render, connects the push channel
// and starts the periodic DOM ticker.
func (page *ProfilePage) openLiveCore() {
	if err := page.renderInitialPresence(); err != nil {
		page.Logger.Error().Err(err).Msg("Failed to fetch initial presence")
	}

	if page.Reviews.Enabled() {
		if err := page.Reviews.LoadNextPage(page.ctx); err != nil {
			page.Logger.Error().Err(err).Msg("Failed to load initial reviews")
		}
	}

	if err := page.Socket.Open(page.ctx); err != nil {
		page.Logger.Error().Err(err).Msg("Failed to open presence socket")
		page.Renderer.RenderError("Failed to load", false)
	}

	go page.Renderer.RunTicker(page.ctx)
}

// renderInitialPresence fetches a one-shot presence snapshot over REST so
// the page is populated before the push channel delivers its first state.
func (page *ProfilePage) renderInitialPresence() error {
	ctx, cancel := context.WithTimeout(page.ctx, clientTimeout)
	defer cancel()

	snapshot, err := page.Client.FetchPresence(ctx, page.Configuration.Presence.Instance, page.Configuration.Presence.UserID)
	if err != nil {
		return err
	}

	view, err := Normalize(snapshot)
	if err != nil {
		return err
	}

	page.Renderer.Apply(view)

	return nil
}

// Close shuts everything down gracefully.
func (page *ProfilePage) Close() error {
	page.Logger.Info().Msg("Closing profilePage")

	if page.Socket != nil {
		page.Socket.Close()
	}

	if page.cancel != nil {
		page.cancel()
	}

	if page.RedisClient != nil {
		if err := page.RedisClient.Close(); err != nil {
			page.Logger.Error().Err(err).Msg("Failed to close redis client")
		}
	}

	return nil
}

func (page *ProfilePage) setupPrometheus() error {
	prometheus.MustRegister(socketFrameReceivedCount)
	prometheus.MustRegister(socketFrameSentCount)
	prometheus.MustRegister(socketHeartbeatCount)
	prometheus.MustRegister(socketStatusGauge)
	prometheus.MustRegister(presenceRenderCount)
	prometheus.MustRegister(presenceRenderErrorCount)
	prometheus.MustRegister(reviewPageCount)
	prometheus.MustRegister(iconCacheHitCount)
	prometheus.MustRegister(iconCacheMissCount)

	http.Handle("/metrics", promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{},
	))

	page.Logger.Info().Msgf("Serving prometheus at %s", page.Configuration.Page.PrometheusAddress)

	err := http.ListenAndServe(page.Configuration.Page.PrometheusAddress, nil)
	if err != nil {
		page.Logger.Error().Str("host", page.Configuration.Page.PrometheusAddress).Err(err).Msg("Failed to serve prometheus server")

		return fmt.Errorf("failed to serve prometheus: %w", err)
	}

	return nil
}

func (page *ProfilePage) setupHTTP() error {
	page.Logger.Info().Msgf("Serving http at %s", page.Configuration.Page.Host)

	page.RouterHandler = page.NewRestRouter()

	err := fasthttp.ListenAndServe(page.Configuration.Page.Host, page.HandleRequest)
	if err != nil {
		page.Logger.Error().Str("host", page.Configuration.Page.Host).Err(err).Msg("Failed to serve http server")

		return fmt.Errorf("failed to serve webserver: %w", err)
	}

	return nil
}
