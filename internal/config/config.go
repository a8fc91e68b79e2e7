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

	"github.com/evetabi/resolution/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 10s
	CORSOrigin   string        // allowed origin in production; "" = same-origin only
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds operator token signing settings.
type JWTConfig struct {
	Secret string        // must be set in production
	TTL    time.Duration // default 30m
}

// ResolutionConfig holds the engine's pool math and execution settings.
type ResolutionConfig struct {
	HouseFeeFraction      float64                // f_h, default 0.05
	MaxCreatorFeeFraction float64                // upper bound for per-market f_c, default 0.05
	InitialGrant          int64                  // starter tokens on first ledger touch
	TxRetryLimit          int                    // serializable-conflict retries, default 5
	OperationDeadline     time.Duration          // per-operation deadline, default 30s
	NoWinnersPolicy       domain.NoWinnersPolicy // refund_losers | house_absorbs
	HouseAccountID        string                 // ledger account credited with house fees
	EvidenceProbeTimeout  time.Duration          // 0 disables the URL reachability probe
}

// HouseFeeBps converts the house fee fraction to integer basis points. The
// conversion happens once here; all pool math downstream is integer-only.
func (r *ResolutionConfig) HouseFeeBps() int64 {
	return decimal.NewFromFloat(r.HouseFeeFraction).Mul(decimal.NewFromInt(10000)).IntPart()
}

// MaxCreatorFeeBps converts the creator fee ceiling to basis points.
func (r *ResolutionConfig) MaxCreatorFeeBps() int64 {
	return decimal.NewFromFloat(r.MaxCreatorFeeFraction).Mul(decimal.NewFromInt(10000)).IntPart()
}

// OpsConfig holds the operator registry.
type OpsConfig struct {
	// AdminOperators lists operator ids holding the administrative capability
	// the engine checks before resolve/rollback/cancel/reconcile.
	AdminOperators []string

	// AdminAPIKeys maps operator id → bcrypt hash of that operator's API key,
	// used by the token-exchange endpoint.
	AdminAPIKeys map[string]string
}

// IsAdminOperator returns true when id is in the admin registry.
func (o *OpsConfig) IsAdminOperator(id string) bool {
	for _, op := range o.AdminOperators {
		if op == id {
			return true
		}
	}
	return false
}

// SchedulerConfig holds the optional background loop intervals. Zero disables
// a loop.
type SchedulerConfig struct {
	PendingSweepInterval time.Duration // promote ended open markets
	FeedRefreshInterval  time.Duration // push analytics to feed subscribers
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	JWT        JWTConfig
	Resolution ResolutionConfig
	Ops        OpsConfig
	Scheduler  SchedulerConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProd() {
		if c.JWT.Secret == "" {
			errs = append(errs, errors.New("JWT_SECRET must be set in production"))
		}
		if os.Getenv("DATABASE_URL") == "" && os.Getenv("DB_PASSWORD") == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set in production"))
		}
	}

	if f := c.Resolution.HouseFeeFraction; f < 0 || f >= 1 {
		errs = append(errs, fmt.Errorf("HOUSE_FEE_FRACTION must be in [0, 1), got %.4f", f))
	}
	if f := c.Resolution.MaxCreatorFeeFraction; f < 0 || f >= 1 {
		errs = append(errs, fmt.Errorf("MAX_CREATOR_FEE_FRACTION must be in [0, 1), got %.4f", f))
	}
	if c.Resolution.HouseFeeFraction+c.Resolution.MaxCreatorFeeFraction > 1 {
		errs = append(errs, fmt.Errorf("house and creator fee fractions sum past 1.0 (%.4f + %.4f)",
			c.Resolution.HouseFeeFraction, c.Resolution.MaxCreatorFeeFraction))
	}
	if c.Resolution.InitialGrant < 0 {
		errs = append(errs, fmt.Errorf("INITIAL_BALANCE_GRANT must be >= 0, got %d", c.Resolution.InitialGrant))
	}
	if c.Resolution.TxRetryLimit < 1 {
		errs = append(errs, fmt.Errorf("TX_RETRY_LIMIT must be >= 1, got %d", c.Resolution.TxRetryLimit))
	}
	if c.Resolution.OperationDeadline <= 0 {
		errs = append(errs, errors.New("OPERATION_DEADLINE_MS must be positive"))
	}
	if !c.Resolution.NoWinnersPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("NO_WINNERS_POLICY must be refund_losers or house_absorbs, got %q",
			c.Resolution.NoWinnersPolicy))
	}
	if c.Resolution.HouseAccountID == "" {
		errs = append(errs, errors.New("HOUSE_ACCOUNT_ID must not be empty"))
	}

	for op, hash := range c.Ops.AdminAPIKeys {
		if op == "" || hash == "" {
			errs = append(errs, errors.New("ADMIN_API_KEYS entries must be operatorId:bcryptHash"))
			break
		}
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
		instance, loadErr = Load()
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
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load builds a fresh Config from the environment. Most callers want Get();
// Load exists for tests that need to reload under different variables.
func Load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENVIRONMENT", "development"),
		ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		CORSOrigin:   getEnv("CORS_ORIGIN", ""),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "resolution_engine"),
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
	ttlMin, err := getInt("JWT_TTL_MIN", 30)
	if err != nil {
		return nil, fmt.Errorf("JWT_TTL_MIN: %w", err)
	}
	cfg.JWT = JWTConfig{
		Secret: getEnv("JWT_SECRET", ""),
		TTL:    time.Duration(ttlMin) * time.Minute,
	}

	// ── Resolution ────────────────────────────────────────────────────────────
	houseFee, err := getFloat("HOUSE_FEE_FRACTION", 0.05)
	if err != nil {
		return nil, fmt.Errorf("HOUSE_FEE_FRACTION: %w", err)
	}
	maxCreatorFee, err := getFloat("MAX_CREATOR_FEE_FRACTION", 0.05)
	if err != nil {
		return nil, fmt.Errorf("MAX_CREATOR_FEE_FRACTION: %w", err)
	}
	grant, err := getInt64("INITIAL_BALANCE_GRANT", 1000)
	if err != nil {
		return nil, fmt.Errorf("INITIAL_BALANCE_GRANT: %w", err)
	}
	retries, err := getInt("TX_RETRY_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("TX_RETRY_LIMIT: %w", err)
	}
	deadlineMs, err := getInt("OPERATION_DEADLINE_MS", 30000)
	if err != nil {
		return nil, fmt.Errorf("OPERATION_DEADLINE_MS: %w", err)
	}
	probeMs, err := getInt("EVIDENCE_PROBE_TIMEOUT_MS", 0)
	if err != nil {
		return nil, fmt.Errorf("EVIDENCE_PROBE_TIMEOUT_MS: %w", err)
	}

	cfg.Resolution = ResolutionConfig{
		HouseFeeFraction:      houseFee,
		MaxCreatorFeeFraction: maxCreatorFee,
		InitialGrant:          grant,
		TxRetryLimit:          retries,
		OperationDeadline:     time.Duration(deadlineMs) * time.Millisecond,
		NoWinnersPolicy:       domain.NoWinnersPolicy(getEnv("NO_WINNERS_POLICY", string(domain.NoWinnersRefundLosers))),
		HouseAccountID:        getEnv("HOUSE_ACCOUNT_ID", "house"),
		EvidenceProbeTimeout:  time.Duration(probeMs) * time.Millisecond,
	}

	// ── Operators ─────────────────────────────────────────────────────────────
	keys, err := getKeyValues("ADMIN_API_KEYS")
	if err != nil {
		return nil, fmt.Errorf("ADMIN_API_KEYS: %w", err)
	}
	cfg.Ops = OpsConfig{
		AdminOperators: getList("ADMIN_OPERATORS"),
		AdminAPIKeys:   keys,
	}

	// ── Scheduler ─────────────────────────────────────────────────────────────
	cfg.Scheduler = SchedulerConfig{
		PendingSweepInterval: getDuration("PENDING_SWEEP_INTERVAL", 0),
		FeedRefreshInterval:  getDuration("FEED_REFRESH_INTERVAL", 0),
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

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
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

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getList splits a comma-separated env var, trimming whitespace and dropping
// empty entries.
func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getKeyValues parses a comma-separated list of key:value pairs. Values may
// contain colons (bcrypt hashes do), so only the first colon splits.
func getKeyValues(key string) (map[string]string, error) {
	entries := getList(key)
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		k, v, found := strings.Cut(entry, ":")
		if !found || k == "" || v == "" {
			return nil, fmt.Errorf("malformed entry %q, want key:value", entry)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
