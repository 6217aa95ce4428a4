package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type WriteMode string

const (
	WriteModeReal      WriteMode = "real"
	WriteModeSimulated WriteMode = "simulated"
	WriteModeDisabled  WriteMode = "disabled"
)

type Config struct {
	Ads         AdsConfig
	Crawl       CrawlConfig
	Queue       QueueConfig
	Archive     ArchiveConfig
	Scheduler   SchedulerConfig
	Proxy       ProxyConfig
	Sweep       SweepConfig
	DatabaseURL string
	DBPath      string
	RedisURL    string
	LockWait    time.Duration
	LogLevel    string
	LogFormat   string
	LogPath     string
	Concurrency int
	SitesDir    string
	Sites       map[string]*SiteConfig
}

type AdsConfig struct {
	WriteMode           WriteMode
	MinDailyBudgetMinor int64
	PageID              string
	FallbackURL         string
	APIBaseURL          string
	APIVersion          string
	RequestsPerSecond   float64
}

type CrawlConfig struct {
	RenderEnabled bool
	Renderer      string // playwright, chromedp
	DelayMS       int
	DefaultLimit  int
}

type QueueConfig struct {
	Backend            string // sqlite, pubsub
	PubSubProject      string
	PubSubSubscription string
	PubSubTopic        string
	PubSubDeadLetter   string
	PubSubCredentials  string
	LeaseDuration      time.Duration
	PollInterval       time.Duration
}

type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Enabled reports whether raw pages should be archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

type SchedulerConfig struct {
	Cron string
}

type ProxyConfig struct {
	URL string
}

type SweepConfig struct {
	StaleAfter time.Duration
	BatchSize  int
	Interval   time.Duration
}

// SiteConfig describes the URL conventions of one catalog site.
type SiteConfig struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	DetailPathPrefix string `yaml:"detail_path_prefix"`
	ListingPath      string `yaml:"listing_path"`
	SitemapPath      string `yaml:"sitemap_path"`
	Currency         string `yaml:"currency"`
	Render           bool   `yaml:"render"`
	RateLimitMS      int    `yaml:"rate_limit_ms"`
	MinPathDepth     int    `yaml:"min_path_depth"`
}

// DefaultSite is used when a job names no site, or an unknown one.
func DefaultSite() *SiteConfig {
	return &SiteConfig{
		ID:               "default",
		Name:             "default",
		DetailPathPrefix: "/bil/",
		ListingPath:      "/",
		SitemapPath:      "/sitemap.xml",
		Currency:         "SEK",
		MinPathDepth:     2,
	}
}

func (s *SiteConfig) applyDefaults() {
	d := DefaultSite()
	if s.DetailPathPrefix == "" {
		s.DetailPathPrefix = d.DetailPathPrefix
	}
	if s.ListingPath == "" {
		s.ListingPath = d.ListingPath
	}
	if s.SitemapPath == "" {
		s.SitemapPath = d.SitemapPath
	}
	if s.Currency == "" {
		s.Currency = d.Currency
	}
	if s.MinPathDepth <= 0 {
		s.MinPathDepth = d.MinPathDepth
	}
	s.Currency = strings.ToUpper(s.Currency)
}

// Site returns the named site config, falling back to DefaultSite.
func (c *Config) Site(id string) *SiteConfig {
	if site, ok := c.Sites[id]; ok {
		return site
	}
	return DefaultSite()
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Ads: AdsConfig{
			WriteMode:           WriteMode(getEnv("ADS_WRITE_MODE", string(WriteModeSimulated))),
			MinDailyBudgetMinor: int64(getEnvInt("ADS_MIN_DAILY_BUDGET_MINOR", 5000)),
			PageID:              os.Getenv("ADS_PAGE_ID"),
			FallbackURL:         os.Getenv("ADS_FALLBACK_URL"),
			APIBaseURL:          getEnv("ADS_API_BASE_URL", "https://graph.facebook.com"),
			APIVersion:          getEnv("ADS_API_VERSION", "v19.0"),
			RequestsPerSecond:   getEnvFloat("ADS_API_RPS", 5),
		},
		Crawl: CrawlConfig{
			RenderEnabled: getEnvBool("CRAWL_RENDER_ENABLED", false),
			Renderer:      getEnv("CRAWL_RENDERER", "playwright"),
			DelayMS:       getEnvInt("CRAWL_DELAY_MS", 500),
			DefaultLimit:  getEnvInt("CRAWL_DEFAULT_LIMIT", 50),
		},
		Queue: QueueConfig{
			Backend:            getEnv("QUEUE_BACKEND", "sqlite"),
			PubSubProject:      os.Getenv("PUBSUB_PROJECT"),
			PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
			PubSubTopic:        os.Getenv("PUBSUB_TOPIC"),
			PubSubDeadLetter:   os.Getenv("PUBSUB_DEAD_LETTER_TOPIC"),
			PubSubCredentials:  os.Getenv("PUBSUB_CREDENTIALS_FILE"),
			LeaseDuration:      getEnvDuration("QUEUE_LEASE", 10*time.Minute),
			PollInterval:       getEnvDuration("QUEUE_POLL_INTERVAL", 2*time.Second),
		},
		Archive: ArchiveConfig{
			Bucket:    os.Getenv("ARCHIVE_BUCKET"),
			Region:    getEnv("ARCHIVE_REGION", "eu-north-1"),
			Endpoint:  os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKey: os.Getenv("ARCHIVE_ACCESS_KEY"),
			SecretKey: os.Getenv("ARCHIVE_SECRET_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("CRAWL_CRON"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Sweep: SweepConfig{
			StaleAfter: getEnvDuration("SWEEP_STALE_AFTER", 72*time.Hour),
			BatchSize:  getEnvInt("SWEEP_BATCH_SIZE", 100),
			Interval:   getEnvDuration("SWEEP_INTERVAL", 6*time.Hour),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "adsync.db"),
		RedisURL:    os.Getenv("REDIS_URL"),
		LockWait:    getEnvDuration("LOCK_WAIT", 10*time.Second),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		LogPath:     getEnv("LOG_PATH", "daemon.log"),
		Concurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		SitesDir:    getEnv("SITES_DIR", "config/sites"),
		Sites:       make(map[string]*SiteConfig),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Ads.WriteMode {
	case WriteModeReal, WriteModeSimulated, WriteModeDisabled:
	default:
		return fmt.Errorf("ADS_WRITE_MODE must be real, simulated or disabled, got %q", c.Ads.WriteMode)
	}
	switch c.Queue.Backend {
	case "sqlite", "pubsub":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be sqlite or pubsub, got %q", c.Queue.Backend)
	}
	switch c.Crawl.Renderer {
	case "playwright", "chromedp":
	default:
		return fmt.Errorf("CRAWL_RENDERER must be playwright or chromedp, got %q", c.Crawl.Renderer)
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	return nil
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.SitesDir, entry.Name())
		site, err := LoadSite(path)
		if err != nil {
			return err
		}

		c.Sites[site.ID] = site
	}

	return nil
}

// LoadSite reads a single site YAML file.
func LoadSite(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if site.ID == "" {
		site.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	site.applyDefaults()
	return &site, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
