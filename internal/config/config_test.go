package config

import (
	"testing"
	"time"

	"github.com/evetabi/resolution/internal/domain"
)

// engineEnvKeys are the variables Load reads; tests blank them so a developer's
// shell cannot leak into assertions. t.Setenv restores the originals.
var engineEnvKeys = []string{
	"PORT", "ENVIRONMENT", "CORS_ORIGIN",
	"DATABASE_URL", "JWT_SECRET", "JWT_TTL_MIN",
	"HOUSE_FEE_FRACTION", "MAX_CREATOR_FEE_FRACTION", "INITIAL_BALANCE_GRANT",
	"TX_RETRY_LIMIT", "OPERATION_DEADLINE_MS", "EVIDENCE_PROBE_TIMEOUT_MS",
	"NO_WINNERS_POLICY", "HOUSE_ACCOUNT_ID",
	"ADMIN_OPERATORS", "ADMIN_API_KEYS",
	"PENDING_SWEEP_INTERVAL", "FEED_REFRESH_INTERVAL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range engineEnvKeys {
		t.Setenv(k, "")
	}
}

// ── Load ──────────────────────────────────────────────────────────────────────

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.Env != "development" {
		t.Errorf("server = %s/%s, want 8080/development", cfg.Server.Port, cfg.Server.Env)
	}
	if cfg.JWT.TTL != 30*time.Minute {
		t.Errorf("JWT TTL = %v, want 30m", cfg.JWT.TTL)
	}
	r := cfg.Resolution
	if r.HouseFeeFraction != 0.05 || r.MaxCreatorFeeFraction != 0.05 {
		t.Errorf("fees = %v/%v, want 0.05/0.05", r.HouseFeeFraction, r.MaxCreatorFeeFraction)
	}
	if r.InitialGrant != 1000 {
		t.Errorf("InitialGrant = %d, want 1000", r.InitialGrant)
	}
	if r.TxRetryLimit != 5 {
		t.Errorf("TxRetryLimit = %d, want 5", r.TxRetryLimit)
	}
	if r.OperationDeadline != 30*time.Second {
		t.Errorf("OperationDeadline = %v, want 30s", r.OperationDeadline)
	}
	if r.NoWinnersPolicy != domain.NoWinnersRefundLosers {
		t.Errorf("NoWinnersPolicy = %s, want refund_losers", r.NoWinnersPolicy)
	}
	if r.HouseAccountID != "house" {
		t.Errorf("HouseAccountID = %q, want house", r.HouseAccountID)
	}
	if r.EvidenceProbeTimeout != 0 {
		t.Errorf("EvidenceProbeTimeout = %v, want 0 (probe disabled)", r.EvidenceProbeTimeout)
	}
	if cfg.Scheduler.PendingSweepInterval != 0 || cfg.Scheduler.FeedRefreshInterval != 0 {
		t.Error("scheduler loops should default to disabled")
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOUSE_FEE_FRACTION", "0.03")
	t.Setenv("NO_WINNERS_POLICY", "house_absorbs")
	t.Setenv("INITIAL_BALANCE_GRANT", "500")
	t.Setenv("OPERATION_DEADLINE_MS", "5000")
	t.Setenv("ADMIN_OPERATORS", "ops-a, ops-b")
	// Values keep their colons: only the first one splits.
	t.Setenv("ADMIN_API_KEYS", "ops-a:$2a$10$abc:def, ops-b:hash2")
	t.Setenv("PENDING_SWEEP_INTERVAL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Resolution.HouseFeeFraction != 0.03 {
		t.Errorf("HouseFeeFraction = %v, want 0.03", cfg.Resolution.HouseFeeFraction)
	}
	if cfg.Resolution.NoWinnersPolicy != domain.NoWinnersHouseAbsorbs {
		t.Errorf("NoWinnersPolicy = %s, want house_absorbs", cfg.Resolution.NoWinnersPolicy)
	}
	if cfg.Resolution.InitialGrant != 500 {
		t.Errorf("InitialGrant = %d, want 500", cfg.Resolution.InitialGrant)
	}
	if cfg.Resolution.OperationDeadline != 5*time.Second {
		t.Errorf("OperationDeadline = %v, want 5s", cfg.Resolution.OperationDeadline)
	}
	if len(cfg.Ops.AdminOperators) != 2 || cfg.Ops.AdminOperators[1] != "ops-b" {
		t.Errorf("AdminOperators = %v, want [ops-a ops-b]", cfg.Ops.AdminOperators)
	}
	if cfg.Ops.AdminAPIKeys["ops-a"] != "$2a$10$abc:def" {
		t.Errorf("ops-a hash = %q, want the colon-preserving value", cfg.Ops.AdminAPIKeys["ops-a"])
	}
	if cfg.Scheduler.PendingSweepInterval != 30*time.Second {
		t.Errorf("PendingSweepInterval = %v, want 30s", cfg.Scheduler.PendingSweepInterval)
	}
}

func TestLoad_BadInteger(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_TTL_MIN", "abc")
	if _, err := Load(); err == nil {
		t.Error("non-numeric JWT_TTL_MIN should fail the load")
	}
}

func TestLoad_MalformedAPIKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_API_KEYS", "just-an-operator-id")
	if _, err := Load(); err == nil {
		t.Error("ADMIN_API_KEYS entry without a colon should fail the load")
	}
}

// ── fee conversion ────────────────────────────────────────────────────────────

func TestResolutionConfig_FeeBps(t *testing.T) {
	cases := []struct {
		fraction float64
		want     int64
	}{
		{0, 0},
		{0.05, 500},
		{0.025, 250},
		{0.1, 1000},
	}
	for _, tc := range cases {
		r := &ResolutionConfig{HouseFeeFraction: tc.fraction, MaxCreatorFeeFraction: tc.fraction}
		if got := r.HouseFeeBps(); got != tc.want {
			t.Errorf("HouseFeeBps(%v) = %d, want %d", tc.fraction, got, tc.want)
		}
		if got := r.MaxCreatorFeeBps(); got != tc.want {
			t.Errorf("MaxCreatorFeeBps(%v) = %d, want %d", tc.fraction, got, tc.want)
		}
	}
}

// ── Validate ──────────────────────────────────────────────────────────────────

func validCfg() *Config {
	return &Config{
		Server: ServerConfig{Env: "development", Port: "8080"},
		JWT:    JWTConfig{Secret: "secret", TTL: 30 * time.Minute},
		Resolution: ResolutionConfig{
			HouseFeeFraction:      0.05,
			MaxCreatorFeeFraction: 0.05,
			InitialGrant:          1000,
			TxRetryLimit:          5,
			OperationDeadline:     30 * time.Second,
			NoWinnersPolicy:       domain.NoWinnersRefundLosers,
			HouseAccountID:        "house",
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validCfg().Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"house fee at 1.0", func(c *Config) { c.Resolution.HouseFeeFraction = 1.0 }},
		{"negative creator fee ceiling", func(c *Config) { c.Resolution.MaxCreatorFeeFraction = -0.01 }},
		{"fees sum past 1.0", func(c *Config) {
			c.Resolution.HouseFeeFraction = 0.6
			c.Resolution.MaxCreatorFeeFraction = 0.6
		}},
		{"negative grant", func(c *Config) { c.Resolution.InitialGrant = -1 }},
		{"zero retry limit", func(c *Config) { c.Resolution.TxRetryLimit = 0 }},
		{"zero deadline", func(c *Config) { c.Resolution.OperationDeadline = 0 }},
		{"unknown policy", func(c *Config) { c.Resolution.NoWinnersPolicy = "burn" }},
		{"empty house account", func(c *Config) { c.Resolution.HouseAccountID = "" }},
		{"empty api key hash", func(c *Config) { c.Ops.AdminAPIKeys = map[string]string{"ops-a": ""} }},
	}
	for _, tc := range cases {
		cfg := validCfg()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate should fail", tc.name)
		}
	}
}

func TestValidate_ProdRequiresSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app@db/resolution")
	cfg := validCfg()
	cfg.Server.Env = "production"
	cfg.JWT.Secret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("production without JWT_SECRET should fail validation")
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func TestIsAdminOperator(t *testing.T) {
	ops := &OpsConfig{AdminOperators: []string{"ops-a", "ops-b"}}
	if !ops.IsAdminOperator("ops-a") {
		t.Error("ops-a should be an admin")
	}
	if ops.IsAdminOperator("ops-c") {
		t.Error("ops-c should not be an admin")
	}
}

func TestIsProd(t *testing.T) {
	c := &Config{Server: ServerConfig{Env: "production"}}
	if !c.IsProd() {
		t.Error("production env should report IsProd")
	}
	c.Server.Env = "development"
	if c.IsProd() {
		t.Error("development env should not report IsProd")
	}
}
