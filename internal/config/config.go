// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	AllowedOrigins       []string      // CORS allowlist in production, e.g. "https://example.com"
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds the settings needed to verify session tokens issued by the
// external auth provider. Token issuance is out of scope; this service only
// parses and validates the access token presented on the WS handshake and
// by the REST auth middleware.
type JWTConfig struct {
	AccessSecret string        // must be set
	AccessTTL    time.Duration // expected access-token lifetime, for clock-skew logging only
}

// PriceConfig holds exchange API settings for the price oracle adapter,
// which fans out to the same three exchanges for each of BTC/ETH/SOL.
type PriceConfig struct {
	BinanceURL   string        // default "https://api.binance.com"
	BybitURL     string        // default "https://api.bybit.com"
	OKXURL       string        // default "https://www.okx.com"
	FetchTimeout time.Duration // default 2s
	CacheTTL     time.Duration // default 1s
	MaxAge       time.Duration // default 10s — snapshot older than this is stale
	// Weight percentages (must sum to 100)
	BinanceWeight int // default 50
	BybitWeight   int // default 30
	OKXWeight     int // default 20
}

// MatchConfig holds matchmaking/match-lifecycle tunables (§4.6-§4.9).
type MatchConfig struct {
	AllowedDurations []int64   // enumerated match durations in seconds
	AllowedBets      []float64 // enumerated bet tiers
	DepositTimeout   time.Duration // default 60s — time to deposit after being paired
	MaxLeverage      int           // default 100
	MaxOpenPositions int           // per player per match, default 5
	DemoBalance      float64       // virtual per-player balance each match is seeded with, default 10000
}

// LedgerConfig holds ledger/withdrawal settings (§4.2).
type LedgerConfig struct {
	MinWithdraw      float64       // minimum withdrawal amount
	MaxDailyWithdraw float64       // max cumulative withdrawal per day per user
	DepositStaleAfter time.Duration // frozen-but-unconfirmed deposit cleanup horizon, default 24h
	RakeFraction      float64       // platform fee skimmed from the winner's payout, default 0.02 (§4.11 step 6)
}

// OnChainConfig holds settings for the on-chain collaborator client (§6.4).
type OnChainConfig struct {
	RPCURL        string        // on-chain RPC endpoint
	RequestTimeout time.Duration // default 8s
	MaxRetries    int           // default 5
	RetryBackoff  time.Duration // base backoff, default 2s
	RateLimit     float64       // requests/sec ceiling, default 5
	VaultAddress  string        // platform deposit-receiving address, returned by GET /balance/vault
	USDCMint      string        // expected mint address for deposit/withdrawal validation (§4.2)
}

// SessionConfig holds WS session layer settings (§4.10).
type SessionConfig struct {
	MaxConnectionsPerUser int           // default 3
	RateLimitPerSecond    float64       // commands/sec per connection, default 10
	RateLimitBurst        int           // default 20
	MaxMessageBytes       int64         // default 4096
	PingInterval          time.Duration // default 25s
	PongWait              time.Duration // default 35s
}

// AdminConfig holds background-loop cadences (§4.12) and the authority
// allowlist for the admin HTTP surface (§6.1).
type AdminConfig struct {
	ChallengeExpirySweep time.Duration // default 60s, tunable 30-120s per deployment
	SettlementRetryTick  time.Duration // default 10s
	MaxSettlementRetries int           // default 5
	ActiveStaleAfter     time.Duration // how far past endTime an active match must be to read as stale, default 5m
	DepositStaleAfter    time.Duration // how far past depositDeadline an awaiting_deposits match must be to read as stale, default 2m
	Authorities          []string      // lower-cased wallet addresses allowed to call admin-only endpoints
}

// IsAuthority reports whether address (case-insensitive) is in the admin
// allowlist.
func (a *AdminConfig) IsAuthority(address string) bool {
	address = strings.ToLower(address)
	for _, auth := range a.Authorities {
		if auth == address {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	JWT     JWTConfig
	Price   PriceConfig
	Match   MatchConfig
	Ledger  LedgerConfig
	OnChain OnChainConfig
	Session SessionConfig
	Admin   AdminConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns every validation error found, joined with errors.Join (nil if none).
func (c *Config) Validate() error {
	var errs []error

	// JWT secret is mandatory — the session layer cannot verify handshake
	// tokens without it.
	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	// In production, DB DSN must be explicit
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	// Price weights must sum to 100
	total := c.Price.BinanceWeight + c.Price.BybitWeight + c.Price.OKXWeight
	if total != 100 {
		errs = append(errs, fmt.Errorf(
			"price weights must sum to 100, got %d (Binance=%d Bybit=%d OKX=%d)",
			total, c.Price.BinanceWeight, c.Price.BybitWeight, c.Price.OKXWeight,
		))
	}

	if len(c.Match.AllowedDurations) == 0 {
		errs = append(errs, errors.New("MATCH_DURATIONS must list at least one duration"))
	}
	if len(c.Match.AllowedBets) == 0 {
		errs = append(errs, errors.New("MATCH_BETS must list at least one bet tier"))
	}
	if c.Match.MaxLeverage < 1 {
		errs = append(errs, errors.New("MATCH_MAX_LEVERAGE must be >= 1"))
	}
	if c.Match.DemoBalance <= 0 {
		errs = append(errs, errors.New("MATCH_DEMO_BALANCE must be > 0"))
	}

	if c.Admin.ChallengeExpirySweep < 30*time.Second || c.Admin.ChallengeExpirySweep > 120*time.Second {
		errs = append(errs, fmt.Errorf(
			"ADMIN_CHALLENGE_EXPIRY_SWEEP must be between 30s and 120s, got %s",
			c.Admin.ChallengeExpirySweep,
		))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	var allowedOrigins []string
	if raw := getEnv("CORS_ALLOWED_ORIGINS", ""); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}

	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		AllowedOrigins:       allowedOrigins,
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "arena"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		AccessTTL:    getDuration("JWT_ACCESS_TTL", 15*time.Minute),
	}

	// ── Price ─────────────────────────────────────────────────────────────────
	binW, err := getInt("PRICE_BINANCE_WEIGHT", 50)
	if err != nil {
		return nil, fmt.Errorf("PRICE_BINANCE_WEIGHT: %w", err)
	}
	byW, err := getInt("PRICE_BYBIT_WEIGHT", 30)
	if err != nil {
		return nil, fmt.Errorf("PRICE_BYBIT_WEIGHT: %w", err)
	}
	okxW, err := getInt("PRICE_OKX_WEIGHT", 20)
	if err != nil {
		return nil, fmt.Errorf("PRICE_OKX_WEIGHT: %w", err)
	}

	cfg.Price = PriceConfig{
		BinanceURL:    getEnv("PRICE_BINANCE_URL", "https://api.binance.com"),
		BybitURL:      getEnv("PRICE_BYBIT_URL", "https://api.bybit.com"),
		OKXURL:        getEnv("PRICE_OKX_URL", "https://www.okx.com"),
		FetchTimeout:  getDuration("PRICE_FETCH_TIMEOUT", 2*time.Second),
		CacheTTL:      getDuration("PRICE_CACHE_TTL", 1*time.Second),
		MaxAge:        getDuration("PRICE_MAX_AGE", 10*time.Second),
		BinanceWeight: binW,
		BybitWeight:   byW,
		OKXWeight:     okxW,
	}

	// ── Match ─────────────────────────────────────────────────────────────────
	durations, err := getInt64List("MATCH_DURATIONS", []int64{60, 300, 900})
	if err != nil {
		return nil, fmt.Errorf("MATCH_DURATIONS: %w", err)
	}
	bets, err := getFloatList("MATCH_BETS", []float64{10, 50, 100, 500})
	if err != nil {
		return nil, fmt.Errorf("MATCH_BETS: %w", err)
	}
	maxLev, err := getInt("MATCH_MAX_LEVERAGE", 100)
	if err != nil {
		return nil, fmt.Errorf("MATCH_MAX_LEVERAGE: %w", err)
	}
	maxOpenPos, err := getInt("MATCH_MAX_OPEN_POSITIONS", 5)
	if err != nil {
		return nil, fmt.Errorf("MATCH_MAX_OPEN_POSITIONS: %w", err)
	}
	demoBalance, err := getFloat("MATCH_DEMO_BALANCE", 10000)
	if err != nil {
		return nil, fmt.Errorf("MATCH_DEMO_BALANCE: %w", err)
	}

	cfg.Match = MatchConfig{
		AllowedDurations: durations,
		AllowedBets:      bets,
		DepositTimeout:   getDuration("MATCH_DEPOSIT_TIMEOUT", 60*time.Second),
		MaxLeverage:      maxLev,
		MaxOpenPositions: maxOpenPos,
		DemoBalance:      demoBalance,
	}

	// ── Ledger ────────────────────────────────────────────────────────────────
	minW, err := getFloat("LEDGER_MIN_WITHDRAW", 10)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MIN_WITHDRAW: %w", err)
	}
	maxDW, err := getFloat("LEDGER_MAX_DAILY_WITHDRAW", 50000)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_MAX_DAILY_WITHDRAW: %w", err)
	}
	rakeFraction, err := getFloat("LEDGER_RAKE_FRACTION", 0.02)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_RAKE_FRACTION: %w", err)
	}
	if rakeFraction < 0 || rakeFraction >= 1 {
		return nil, fmt.Errorf("LEDGER_RAKE_FRACTION: must be in [0, 1), got %v", rakeFraction)
	}

	cfg.Ledger = LedgerConfig{
		MinWithdraw:       minW,
		MaxDailyWithdraw:  maxDW,
		DepositStaleAfter: getDuration("LEDGER_DEPOSIT_STALE_AFTER", 24*time.Hour),
		RakeFraction:      rakeFraction,
	}

	// ── On-chain ──────────────────────────────────────────────────────────────
	onchainRetries, err := getInt("ONCHAIN_MAX_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("ONCHAIN_MAX_RETRIES: %w", err)
	}
	onchainRate, err := getFloat("ONCHAIN_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("ONCHAIN_RATE_LIMIT: %w", err)
	}

	cfg.OnChain = OnChainConfig{
		RPCURL:         getEnv("ONCHAIN_RPC_URL", ""),
		RequestTimeout: getDuration("ONCHAIN_REQUEST_TIMEOUT", 8*time.Second),
		MaxRetries:     onchainRetries,
		RetryBackoff:   getDuration("ONCHAIN_RETRY_BACKOFF", 2*time.Second),
		RateLimit:      onchainRate,
		VaultAddress:   getEnv("ONCHAIN_VAULT_ADDRESS", ""),
		USDCMint:       getEnv("ONCHAIN_USDC_MINT", ""),
	}

	// ── Session ───────────────────────────────────────────────────────────────
	maxConns, err := getInt("SESSION_MAX_CONNECTIONS_PER_USER", 3)
	if err != nil {
		return nil, fmt.Errorf("SESSION_MAX_CONNECTIONS_PER_USER: %w", err)
	}
	rlPerSec, err := getFloat("SESSION_RATE_LIMIT_PER_SECOND", 10)
	if err != nil {
		return nil, fmt.Errorf("SESSION_RATE_LIMIT_PER_SECOND: %w", err)
	}
	rlBurst, err := getInt("SESSION_RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("SESSION_RATE_LIMIT_BURST: %w", err)
	}
	maxMsgBytes, err := getInt("SESSION_MAX_MESSAGE_BYTES", 4096)
	if err != nil {
		return nil, fmt.Errorf("SESSION_MAX_MESSAGE_BYTES: %w", err)
	}

	cfg.Session = SessionConfig{
		MaxConnectionsPerUser: maxConns,
		RateLimitPerSecond:    rlPerSec,
		RateLimitBurst:        rlBurst,
		MaxMessageBytes:       int64(maxMsgBytes),
		PingInterval:          getDuration("SESSION_PING_INTERVAL", 25*time.Second),
		PongWait:              getDuration("SESSION_PONG_WAIT", 35*time.Second),
	}

	// ── Admin ─────────────────────────────────────────────────────────────────
	maxSettleRetries, err := getInt("ADMIN_MAX_SETTLEMENT_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_MAX_SETTLEMENT_RETRIES: %w", err)
	}

	var authorities []string
	if raw := getEnv("ADMIN_AUTHORITIES", ""); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr != "" {
				authorities = append(authorities, addr)
			}
		}
	}

	cfg.Admin = AdminConfig{
		ChallengeExpirySweep: getDuration("ADMIN_CHALLENGE_EXPIRY_SWEEP", 60*time.Second),
		SettlementRetryTick:  getDuration("ADMIN_SETTLEMENT_RETRY_TICK", 10*time.Second),
		MaxSettlementRetries: maxSettleRetries,
		ActiveStaleAfter:     getDuration("ADMIN_ACTIVE_STALE_AFTER", 5*time.Minute),
		DepositStaleAfter:    getDuration("ADMIN_DEPOSIT_STALE_AFTER", 2*time.Minute),
		Authorities:          authorities,
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getInt64List parses a comma-separated env var into a slice of int64s.
// Falls back to defaultVal if the variable is unset or empty.
func getInt64List(key string, defaultVal []int64) ([]int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	parts := strings.Split(v, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q in list %q", p, v)
		}
		out = append(out, n)
	}
	return out, nil
}

// getFloatList parses a comma-separated env var into a slice of float64s.
// Falls back to defaultVal if the variable is unset or empty.
func getFloatList(key string, defaultVal []float64) ([]float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q in list %q", p, v)
		}
		out = append(out, f)
	}
	return out, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Fall back to default on a parse error; nothing is logged
		return defaultVal
	}
	return d
}
