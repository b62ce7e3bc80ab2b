// Package config loads the YAML configuration file and applies BUSBOARD_*
// environment overrides for credentials and connection details.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/busboard/busboard/pkg/util"
	"gopkg.in/yaml.v3"
)

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Message)
}

type Config struct {
	Town       TownConfig       `yaml:"town"`
	Feeds      FeedsConfig      `yaml:"feeds"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Search     SearchConfig     `yaml:"search"`
	Resilience ResilienceConfig `yaml:"resilience"`
	API        APIConfig        `yaml:"api"`

	DisplayRules []DisplayRule `yaml:"displayRules"`
}

type TownConfig struct {
	Name            string          `yaml:"name"`
	CentreLatitude  float64         `yaml:"centreLatitude"`
	CentreLongitude float64         `yaml:"centreLongitude"`
	Stations        []StationConfig `yaml:"stations"`
}

type StationConfig struct {
	Name      string  `yaml:"name"`
	CRS       string  `yaml:"crs"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type FeedsConfig struct {
	VehiclePositions VehiclePositionsFeed `yaml:"vehiclePositions"`
	Timetable        TimetableFeed        `yaml:"timetable"`
	OperatorFeed     OperatorFeed         `yaml:"operatorFeed"`
	RailGateway      RailGateway          `yaml:"railGateway"`
	Geocoder         GeocoderFeed         `yaml:"geocoder"`
}

type VehiclePositionsFeed struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"apiKey"`
}

type TimetableFeed struct {
	URL string `yaml:"url"`
}

type OperatorFeed struct {
	URL    string `yaml:"url"`
	AppID  string `yaml:"appId"`
	AppKey string `yaml:"appKey"`
}

type RailGateway struct {
	Endpoint string `yaml:"endpoint"`
}

type GeocoderFeed struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
}

type CacheConfig struct {
	DepartureTTL time.Duration `yaml:"departureTtl"`
	TimetableTTL time.Duration `yaml:"timetableTtl"`
}

type SearchConfig struct {
	InitialRadiusMeters   float64 `yaml:"initialRadiusMeters"`
	RadiusIncrementMeters float64 `yaml:"radiusIncrementMeters"`
	MaxRadiusMeters       float64 `yaml:"maxRadiusMeters"`
	NearbyPriorityMeters  float64 `yaml:"nearbyPriorityMeters"`
	MaxResults            int     `yaml:"maxResults"`
}

type ResilienceConfig struct {
	MaxConcurrent       int                       `yaml:"maxConcurrent"`
	EnableDeduplication bool                      `yaml:"enableDeduplication"`
	Endpoints           map[string]EndpointConfig `yaml:"endpoints"`
}

type EndpointConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	SuccessThreshold int           `yaml:"successThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

type APIConfig struct {
	ListenAddress string `yaml:"listenAddress"`
}

type DisplayRule struct {
	When string            `yaml:"when"`
	Hide bool              `yaml:"hide"`
	Set  map[string]string `yaml:"set"`
}

// Defaults is the Chelmsford configuration everything else layers on top of.
func Defaults() Config {
	return Config{
		Town: TownConfig{
			Name:            "Chelmsford",
			CentreLatitude:  51.7361,
			CentreLongitude: 0.4690,
			Stations: []StationConfig{
				{Name: "Chelmsford", CRS: "CHM", Latitude: 51.7363, Longitude: 0.4685},
				{Name: "Ingatestone", CRS: "INT", Latitude: 51.6693, Longitude: 0.3845},
			},
		},
		Feeds: FeedsConfig{
			VehiclePositions: VehiclePositionsFeed{
				URL: "https://data.bus-data.dft.gov.uk/api/v1/datafeed",
			},
			Timetable: TimetableFeed{
				URL: "https://data.busboard.app/timetable/chelmsford.json",
			},
			OperatorFeed: OperatorFeed{
				URL: "https://transportapi.com/v3/uk/bus/stop",
			},
			RailGateway: RailGateway{
				Endpoint: "https://national-rail-gateway.busboard.app",
			},
			Geocoder: GeocoderFeed{
				URL: "https://api.postcodes.io",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Cache: CacheConfig{
			DepartureTTL: 60 * time.Second,
			TimetableTTL: 24 * time.Hour,
		},
		Search: SearchConfig{
			InitialRadiusMeters:   500,
			RadiusIncrementMeters: 250,
			MaxRadiusMeters:       2000,
			NearbyPriorityMeters:  300,
			MaxResults:            10,
		},
		Resilience: ResilienceConfig{
			MaxConcurrent:       6,
			EnableDeduplication: true,
			Endpoints: map[string]EndpointConfig{
				// The vehicle position feed flaps a lot, give it longer to settle.
				"vehicle-positions": {FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: 60 * time.Second},
				"timetable":         {FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: 30 * time.Second},
				"operator-feed":     {FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: 30 * time.Second},
				"rail-gateway":      {FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: 30 * time.Second},
				"geocoder":          {FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: 30 * time.Second},
			},
		},
		API: APIConfig{
			ListenAddress: "localhost:8081",
		},
	}
}

// Load reads the optional YAML file at path and applies environment
// overrides. A missing file is fine, a malformed one is not.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, &ConfigError{Field: "file", Message: err.Error()}
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigError{Field: "file", Message: err.Error()}
		}
	}

	applyEnvironment(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyEnvironment(cfg *Config) {
	env := util.GetEnvironmentVariables()

	if env["BUSBOARD_BODS_API_KEY"] != "" {
		cfg.Feeds.VehiclePositions.APIKey = env["BUSBOARD_BODS_API_KEY"]
	}
	if env["BUSBOARD_OPERATOR_APP_ID"] != "" {
		cfg.Feeds.OperatorFeed.AppID = env["BUSBOARD_OPERATOR_APP_ID"]
	}
	if env["BUSBOARD_OPERATOR_APP_KEY"] != "" {
		cfg.Feeds.OperatorFeed.AppKey = env["BUSBOARD_OPERATOR_APP_KEY"]
	}
	if env["BUSBOARD_RAIL_GATEWAY"] != "" {
		cfg.Feeds.RailGateway.Endpoint = env["BUSBOARD_RAIL_GATEWAY"]
	}
	if env["BUSBOARD_REDIS_ADDRESS"] != "" {
		cfg.Redis.Address = env["BUSBOARD_REDIS_ADDRESS"]
	}
	if env["BUSBOARD_REDIS_PASSWORD"] != "" {
		cfg.Redis.Password = env["BUSBOARD_REDIS_PASSWORD"]
	}
	if env["BUSBOARD_REDIS_DATABASE"] != "" {
		if n, err := strconv.Atoi(env["BUSBOARD_REDIS_DATABASE"]); err == nil {
			cfg.Redis.Database = n
		}
	}
	if env["BUSBOARD_API_LISTEN"] != "" {
		cfg.API.ListenAddress = env["BUSBOARD_API_LISTEN"]
	}
}

func validate(cfg Config) error {
	if len(cfg.Town.Stations) == 0 {
		return &ConfigError{Field: "town.stations", Message: "at least one station is required"}
	}
	if cfg.Search.MaxRadiusMeters < cfg.Search.InitialRadiusMeters {
		return &ConfigError{Field: "search.maxRadiusMeters", Message: "must not be smaller than the initial radius"}
	}
	if cfg.Search.RadiusIncrementMeters <= 0 {
		return &ConfigError{Field: "search.radiusIncrementMeters", Message: "must be positive"}
	}
	if cfg.Cache.DepartureTTL <= 0 {
		return &ConfigError{Field: "cache.departureTtl", Message: "must be positive"}
	}

	return nil
}
