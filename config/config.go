// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultConePermissions is the built-in allow-list of cone requesters.
var DefaultConePermissions = []string{"lillyyen", "puckz", "river333", "dulcibel", "yostiiii"}

// State backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

// Summary providers.
const (
	ProviderNone       = "none"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

type Config struct {
	// Bot
	BotName         string
	ConePermissions []string

	// Twitch
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchRefreshToken string
	TwitchClientID     string
	TwitchClientSecret string

	// State storage
	StateBackend  string
	StateFile     string
	DBDsn         string
	MongoURI      string
	MongoDatabase string
	RedisURL      string
	RedisStateKey string
	EncryptionKey string

	// Summaries
	SummaryProvider         string
	OpenRouterKey           string
	OpenRouterURL           string
	SummaryModel            string
	GeminiAPIKey            string
	SummaryMessageThreshold int
	SummaryMaxAge           time.Duration
	SummaryKeepMessages     int
	RecentMessagesCap       int

	// HTTP
	HTTPAddr string
	Access   AccessConfig
}

// AccessConfig guards the HTTP API. The zero value disables both auth and rate limiting.
type AccessConfig struct {
	AdminUsername string
	AdminPassword string
	AdminToken    string

	RateLimit         bool
	RateLimitBackend  string // memory | redis
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// AuthEnabled reports whether any admin credential is configured.
func (a AccessConfig) AuthEnabled() bool {
	return (a.AdminUsername != "" && a.AdminPassword != "") || a.AdminToken != ""
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when you require the chat adapter. Malformed numeric or duration values are errors.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.BotName = envOr("BOT_NAME", "Ghost")
	cfg.ConePermissions = DefaultConePermissions
	if v := os.Getenv("CONE_PERMISSIONS"); v != "" {
		cfg.ConePermissions = splitList(v)
	}

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.StateFile = envOr("STATE_FILE", "user_states.json")
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.MongoURI = os.Getenv("MONGODB_URI")
	cfg.MongoDatabase = envOr("MONGODB_DATABASE", "ghost_bot")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RedisStateKey = envOr("REDIS_STATE_KEY", "ghost_bot:current_states")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.StateBackend = strings.ToLower(os.Getenv("STATE_BACKEND"))
	if cfg.StateBackend == "" {
		// MONGODB_URI alone selects Mongo, as older deployments expect.
		cfg.StateBackend = BackendFile
		if cfg.MongoURI != "" {
			cfg.StateBackend = BackendMongo
		}
	}
	switch cfg.StateBackend {
	case BackendFile:
	case BackendPostgres:
		if cfg.DBDsn == "" {
			return nil, fmt.Errorf("STATE_BACKEND=postgres requires DB_DSN")
		}
	case BackendMongo:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("STATE_BACKEND=mongo requires MONGODB_URI")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("STATE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("invalid STATE_BACKEND %q (file|postgres|mongo|redis)", cfg.StateBackend)
	}

	cfg.OpenRouterKey = os.Getenv("OPENROUTER_SUMMARY_KEY")
	cfg.OpenRouterURL = envOr("OPENROUTER_URL", "https://openrouter.ai/api/v1/chat/completions")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.SummaryProvider = strings.ToLower(os.Getenv("SUMMARY_PROVIDER"))
	if cfg.SummaryProvider == "" {
		switch {
		case cfg.OpenRouterKey != "":
			cfg.SummaryProvider = ProviderOpenRouter
		case cfg.GeminiAPIKey != "":
			cfg.SummaryProvider = ProviderGemini
		default:
			cfg.SummaryProvider = ProviderNone
		}
	}
	switch cfg.SummaryProvider {
	case ProviderNone, ProviderOpenRouter, ProviderGemini:
	default:
		return nil, fmt.Errorf("invalid SUMMARY_PROVIDER %q (openrouter|gemini|none)", cfg.SummaryProvider)
	}
	defaultModel := "google/gemini-2.0-flash-001"
	if cfg.SummaryProvider == ProviderGemini {
		defaultModel = "gemini-2.0-flash"
	}
	cfg.SummaryModel = envOr("SUMMARY_MODEL", defaultModel)

	var err error
	if cfg.SummaryMessageThreshold, err = envInt("SUMMARY_MESSAGE_THRESHOLD", 6); err != nil {
		return nil, err
	}
	if cfg.SummaryKeepMessages, err = envInt("SUMMARY_KEEP_MESSAGES", 3); err != nil {
		return nil, err
	}
	if cfg.RecentMessagesCap, err = envInt("RECENT_MESSAGES_CAP", 0); err != nil {
		return nil, err
	}
	cfg.SummaryMaxAge = 30 * time.Minute
	if v := os.Getenv("SUMMARY_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SUMMARY_MAX_AGE: %w", err)
		}
		cfg.SummaryMaxAge = d
	}

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	if cfg.Access, err = loadAccess(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateChatReady checks required fields when the Twitch adapter is enabled.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME")
	}
	if c.TwitchOAuthToken == "" && (c.TwitchRefreshToken == "" || !c.HelixReady()) {
		return fmt.Errorf("missing twitch env: require TWITCH_OAUTH_TOKEN, or TWITCH_REFRESH_TOKEN with TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET")
	}
	return nil
}

// HelixReady reports whether app credentials for Helix lookups are configured.
func (c *Config) HelixReady() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

func loadAccess() (AccessConfig, error) {
	a := AccessConfig{
		AdminUsername:    os.Getenv("ADMIN_USERNAME"),
		AdminPassword:    os.Getenv("ADMIN_PASSWORD"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		RateLimit:        os.Getenv("RATE_LIMIT_ENABLED") != "0",
		RateLimitBackend: strings.ToLower(envOr("RATE_LIMIT_BACKEND", "memory")),
	}
	if a.RateLimitBackend != "memory" && a.RateLimitBackend != "redis" {
		return a, fmt.Errorf("invalid RATE_LIMIT_BACKEND %q (memory|redis)", a.RateLimitBackend)
	}
	var err error
	if a.RateLimitRequests, err = envInt("RATE_LIMIT_REQUESTS_PER_IP", 10); err != nil {
		return a, err
	}
	secs, err := envInt("RATE_LIMIT_WINDOW_SECONDS", 60)
	if err != nil {
		return a, err
	}
	if a.RateLimitRequests == 0 || secs == 0 {
		return a, fmt.Errorf("rate limit requests and window must be positive")
	}
	a.RateLimitWindow = time.Duration(secs) * time.Second
	return a, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative integer", key, v)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
