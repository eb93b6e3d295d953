package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of the search engine.
type Config struct {
	Server struct {
		Port string
	}
	Search struct {
		Enabled           bool
		Strategy          string // "smart_routing" or "all_providers"
		DefaultLanguage   string
		MaxResults        int
		Timeout           time.Duration // router-level fan-out deadline
		ProbeTimeout      time.Duration // availability probes
		WorkerPoolSize    int
		RateLimitEnabled  bool
		RequestsPerMinute int
	}
	Classification struct {
		ConfidenceThreshold float64
	}
	Cache struct {
		Enabled         bool
		Driver          string // "sqlite", "postgres" or "redis"
		Path            string // sqlite database file
		DSN             string // postgres connection string
		RedisURL        string
		DefaultTTL      time.Duration
		MaxEntries      int
		CleanupInterval time.Duration
	}
	Resources struct {
		SessionTimeout time.Duration
		ConnLimit      int
		ConnPerHost    int
	}
	Providers struct {
		DuckDuckGo DuckDuckGoConfig
		Wikipedia  WikipediaConfig
		RSS        RSSConfig
	}
}

type DuckDuckGoConfig struct {
	Enabled  bool
	Weight   float64
	Timeout  time.Duration
	Endpoint string
	Region   string
}

type WikipediaConfig struct {
	Enabled           bool
	Weight            float64
	Timeout           time.Duration
	Language          string
	FallbackLanguages []string
	MaxSummaryLength  int
	BaseURLTemplate   string // %s is replaced with the language code
}

type RSSConfig struct {
	Enabled       bool
	Weight        float64
	Timeout       time.Duration
	Feeds         map[string][]string
	CacheDuration time.Duration
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config

	config.Server.Port = viper.GetString("server.port")

	config.Search.Enabled = viper.GetBool("search.enabled")
	config.Search.Strategy = viper.GetString("search.strategy")
	config.Search.DefaultLanguage = viper.GetString("search.default_language")
	config.Search.MaxResults = viper.GetInt("search.max_results")
	config.Search.Timeout = viper.GetDuration("search.timeout")
	config.Search.ProbeTimeout = viper.GetDuration("search.probe_timeout")
	config.Search.WorkerPoolSize = viper.GetInt("search.worker_pool_size")
	config.Search.RateLimitEnabled = viper.GetBool("search.rate_limiting.enabled")
	config.Search.RequestsPerMinute = viper.GetInt("search.rate_limiting.requests_per_minute")

	config.Classification.ConfidenceThreshold = viper.GetFloat64("classification.confidence_threshold")

	config.Cache.Enabled = viper.GetBool("cache.enabled")
	config.Cache.Driver = viper.GetString("cache.driver")
	config.Cache.Path = viper.GetString("cache.path")
	config.Cache.DSN = viper.GetString("cache.dsn")
	config.Cache.RedisURL = viper.GetString("cache.redis_url")
	config.Cache.DefaultTTL = viper.GetDuration("cache.default_ttl")
	config.Cache.MaxEntries = viper.GetInt("cache.max_entries")
	config.Cache.CleanupInterval = viper.GetDuration("cache.cleanup_interval")

	config.Resources.SessionTimeout = viper.GetDuration("resources.session_timeout")
	config.Resources.ConnLimit = viper.GetInt("resources.conn_limit")
	config.Resources.ConnPerHost = viper.GetInt("resources.conn_per_host")

	config.Providers.DuckDuckGo.Enabled = viper.GetBool("providers.duckduckgo.enabled")
	config.Providers.DuckDuckGo.Weight = viper.GetFloat64("providers.duckduckgo.weight")
	config.Providers.DuckDuckGo.Timeout = viper.GetDuration("providers.duckduckgo.timeout")
	config.Providers.DuckDuckGo.Endpoint = viper.GetString("providers.duckduckgo.endpoint")
	config.Providers.DuckDuckGo.Region = viper.GetString("providers.duckduckgo.region")

	config.Providers.Wikipedia.Enabled = viper.GetBool("providers.wikipedia.enabled")
	config.Providers.Wikipedia.Weight = viper.GetFloat64("providers.wikipedia.weight")
	config.Providers.Wikipedia.Timeout = viper.GetDuration("providers.wikipedia.timeout")
	config.Providers.Wikipedia.Language = viper.GetString("providers.wikipedia.language")
	config.Providers.Wikipedia.FallbackLanguages = viper.GetStringSlice("providers.wikipedia.fallback_languages")
	config.Providers.Wikipedia.MaxSummaryLength = viper.GetInt("providers.wikipedia.max_summary_length")
	config.Providers.Wikipedia.BaseURLTemplate = viper.GetString("providers.wikipedia.base_url_template")

	config.Providers.RSS.Enabled = viper.GetBool("providers.rss.enabled")
	config.Providers.RSS.Weight = viper.GetFloat64("providers.rss.weight")
	config.Providers.RSS.Timeout = viper.GetDuration("providers.rss.timeout")
	config.Providers.RSS.Feeds = viper.GetStringMapStringSlice("providers.rss.feeds")
	config.Providers.RSS.CacheDuration = viper.GetDuration("providers.rss.cache_duration")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")

	viper.SetDefault("search.enabled", true)
	viper.SetDefault("search.strategy", "smart_routing")
	viper.SetDefault("search.default_language", "en")
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.timeout", 30*time.Second)
	viper.SetDefault("search.probe_timeout", 5*time.Second)
	viper.SetDefault("search.worker_pool_size", 16)
	viper.SetDefault("search.rate_limiting.enabled", true)
	viper.SetDefault("search.rate_limiting.requests_per_minute", 60)

	viper.SetDefault("classification.confidence_threshold", 0.7)

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.driver", "sqlite")
	viper.SetDefault("cache.path", "data/search_cache.db")
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", time.Hour)
	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("cache.cleanup_interval", time.Hour)

	viper.SetDefault("resources.session_timeout", 30*time.Second)
	viper.SetDefault("resources.conn_limit", 100)
	viper.SetDefault("resources.conn_per_host", 20)

	viper.SetDefault("providers.duckduckgo.enabled", true)
	viper.SetDefault("providers.duckduckgo.weight", 1.0)
	viper.SetDefault("providers.duckduckgo.timeout", 15*time.Second)
	viper.SetDefault("providers.duckduckgo.endpoint", "https://html.duckduckgo.com/html/")
	viper.SetDefault("providers.duckduckgo.region", "us-en")

	viper.SetDefault("providers.wikipedia.enabled", true)
	viper.SetDefault("providers.wikipedia.weight", 1.0)
	viper.SetDefault("providers.wikipedia.timeout", 15*time.Second)
	viper.SetDefault("providers.wikipedia.language", "en")
	viper.SetDefault("providers.wikipedia.fallback_languages", []string{"simple"})
	viper.SetDefault("providers.wikipedia.max_summary_length", 1000)
	viper.SetDefault("providers.wikipedia.base_url_template", "https://%s.wikipedia.org")

	viper.SetDefault("providers.rss.enabled", true)
	viper.SetDefault("providers.rss.weight", 1.0)
	viper.SetDefault("providers.rss.timeout", 15*time.Second)
	viper.SetDefault("providers.rss.cache_duration", time.Hour)
	viper.SetDefault("providers.rss.feeds", map[string][]string{
		"news": {
			"https://feeds.bbci.co.uk/news/rss.xml",
			"https://www.theguardian.com/world/rss",
		},
		"tech": {
			"https://feeds.arstechnica.com/arstechnica/index",
			"https://hnrss.org/frontpage",
		},
		"business": {
			"https://feeds.bbci.co.uk/news/business/rss.xml",
		},
	})
}

// Validate checks construction-time requirements. Misconfiguration is a
// hard error: the engine refuses to start rather than degrade silently.
func (c *Config) Validate() error {
	if c.Search.Enabled {
		if !c.Providers.DuckDuckGo.Enabled && !c.Providers.Wikipedia.Enabled && !c.Providers.RSS.Enabled {
			return fmt.Errorf("search is enabled but no providers are enabled")
		}
	}

	switch c.Cache.Driver {
	case "sqlite", "redis":
	case "postgres":
		if c.Cache.Enabled && c.Cache.DSN == "" {
			return fmt.Errorf("cache driver postgres requires cache.dsn")
		}
	default:
		return fmt.Errorf("unknown cache driver: %q", c.Cache.Driver)
	}

	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}

	return nil
}
