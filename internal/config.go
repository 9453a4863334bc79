package internal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultTitle    = "Discord Profile"
	defaultHost     = "0.0.0.0:8080"
	defaultInstance = "https://api.lanyard.rest"
)

type Configuration struct {
	Page struct {
		Title             string `yaml:"title"`
		Host              string `yaml:"host"`
		PublicDirectory   string `yaml:"public_directory"`
		PrometheusAddress string `yaml:"prometheus_address"`
	} `yaml:"page"`

	Presence struct {
		UserID   string `yaml:"user_id"`
		Instance string `yaml:"instance"`
	} `yaml:"presence"`

	Badges struct {
		APIURL string `yaml:"api_url"`
	} `yaml:"badges"`

	Reviews struct {
		APIURL string `yaml:"api_url"`
	} `yaml:"reviews"`

	Timezone struct {
		APIURL string `yaml:"api_url"`
	} `yaml:"timezone"`

	SteamGridDB struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"steamgriddb"`

	Redis struct {
		Address    string `yaml:"address"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		TTLMinutes int    `yaml:"ttl_minutes"`
	} `yaml:"redis"`
}

// LoadConfiguration handles loading the configuration file.
func (page *ProfilePage) LoadConfiguration(path string) (configuration *Configuration, err error) {
	page.Logger.Debug().
		Str("path", path).
		Msg("Loading configuration")

	defer func() {
		if err == nil {
			page.Logger.Info().Msg("Configuration loaded")
		}
	}()

	configuration = &Configuration{}

	file, err := os.ReadFile(path)
	if err != nil {
		return configuration, ErrReadConfigurationFailure
	}

	err = yaml.Unmarshal(file, configuration)
	if err != nil {
		return configuration, ErrLoadConfigurationFailure
	}

	configuration.applyEnvironment()
	configuration.applyDefaults()

	return configuration, nil
}

// SaveConfiguration handles saving the configuration file.
func (page *ProfilePage) SaveConfiguration(configuration *Configuration, path string) (err error) {
	page.Logger.Debug().Msg("Saving configuration")

	data, err := yaml.Marshal(configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	return nil
}

func (configuration *Configuration) applyEnvironment() {
	if value := os.Getenv("LANYARD_USER_ID"); value != "" {
		configuration.Presence.UserID = value
	}

	if value := os.Getenv("LANYARD_INSTANCE"); value != "" {
		configuration.Presence.Instance = value
	}

	if value := os.Getenv("BADGE_API_URL"); value != "" {
		configuration.Badges.APIURL = value
	}

	if value := os.Getenv("REVIEW_DB_URL"); value != "" {
		configuration.Reviews.APIURL = value
	}

	if value := os.Getenv("TIMEZONE_API_URL"); value != "" {
		configuration.Timezone.APIURL = value
	}

	if value := os.Getenv("STEAMGRIDDB_API_KEY"); value != "" {
		configuration.SteamGridDB.APIKey = value
	}

	if value := os.Getenv("REDIS_ADDRESS"); value != "" {
		configuration.Redis.Address = value
	}
}

func (configuration *Configuration) applyDefaults() {
	if configuration.Page.Title == "" {
		configuration.Page.Title = defaultTitle
	}

	if configuration.Page.Host == "" {
		configuration.Page.Host = defaultHost
	}

	if configuration.Page.PublicDirectory == "" {
		configuration.Page.PublicDirectory = "public"
	}

	if configuration.Presence.Instance == "" {
		configuration.Presence.Instance = defaultInstance
	}

	if configuration.Redis.TTLMinutes <= 0 {
		configuration.Redis.TTLMinutes = 60 * 24
	}
}
