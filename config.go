package tenantauth

import (
	"bytes"
	"errors"
	"time"

	"github.com/MrEthical07/tenantauth/password"
)

// Config is the immutable startup configuration of an Engine. Builder
// copies it on Build; later edits to the caller's value have no effect.
type Config struct {
	JWT      JWTConfig      `envPrefix:"JWT_"`
	Password PasswordConfig `envPrefix:"PASSWORD_"`
	Lockout  LockoutConfig  `envPrefix:"LOCKOUT_"`
	TOTP     TOTPConfig     `envPrefix:"TOTP_"`
	Store    StoreConfig    `envPrefix:"STORE_"`
	Sweeper  SweeperConfig  `envPrefix:"SWEEPER_"`
	Audit    AuditConfig    `envPrefix:"AUDIT_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds the two HMAC signing keys. Both are required and must
// differ.
type JWTConfig struct {
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration `env:"ACCESS_TTL"`
	RefreshTTL time.Duration `env:"REFRESH_TTL"`
	Issuer     string        `env:"ISSUER"`
	Leeway     time.Duration `env:"LEEWAY"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory         uint32 `env:"MEMORY_KB"`
	Time           uint32 `env:"TIME"`
	Parallelism    uint8  `env:"PARALLELISM"`
	SaltLength     uint32 `env:"SALT_LENGTH"`
	KeyLength      uint32 `env:"KEY_LENGTH"`
	UpgradeOnLogin bool   `env:"UPGRADE_ON_LOGIN"`
}

func (c PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

// LockoutConfig controls login lockout. The Threshold-th consecutive
// failure locks the principal for Backoff.
type LockoutConfig struct {
	Threshold int           `env:"THRESHOLD"`
	Backoff   time.Duration `env:"BACKOFF"`
}

/*
====================================
TOTP CONFIG
====================================
*/

type TOTPConfig struct {
	Issuer               string        `env:"ISSUER"`
	Digits               int           `env:"DIGITS"`
	Period               int           `env:"PERIOD"`
	Algorithm            string        `env:"ALGORITHM"`
	Skew                 int           `env:"SKEW"`
	EnrollmentTTL        time.Duration `env:"ENROLLMENT_TTL"`
	ChallengeTTL         time.Duration `env:"CHALLENGE_TTL"`
	ChallengeMaxAttempts int           `env:"CHALLENGE_MAX_ATTEMPTS"`
	BackupCodeCount      int           `env:"BACKUP_CODE_COUNT"`
	BackupCodeLength     int           `env:"BACKUP_CODE_LENGTH"`
	RedisPrefix          string        `env:"REDIS_PREFIX"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig bounds store calls. Writes run detached from the caller's
// cancellation but never longer than WriteTimeout.
type StoreConfig struct {
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT"`
	MaxRetries   int           `env:"MAX_RETRIES"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF"`
}

type SweeperConfig struct {
	Interval time.Duration `env:"INTERVAL"`
}

type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

type LoggingConfig struct {
	Service string `env:"SERVICE"`
	Level   string `env:"LEVEL"`
}

// DefaultConfig returns production defaults with empty signing keys.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	hasher := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "tenantauth",
		},
		Password: PasswordConfig{
			Memory:         hasher.Memory,
			Time:           hasher.Time,
			Parallelism:    hasher.Parallelism,
			SaltLength:     hasher.SaltLength,
			KeyLength:      hasher.KeyLength,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Backoff:   15 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:               "tenantauth",
			Digits:               6,
			Period:               30,
			Algorithm:            "SHA1",
			Skew:                 1,
			EnrollmentTTL:        10 * time.Minute,
			ChallengeTTL:         3 * time.Minute,
			ChallengeMaxAttempts: 5,
			BackupCodeCount:      8,
			BackupCodeLength:     8,
			RedisPrefix:          "tac",
		},
		Store: StoreConfig{
			WriteTimeout: 5 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 20 * time.Millisecond,
		},
		Sweeper: SweeperConfig{
			Interval: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Service: "tenantauth",
			Level:   "info",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessKey = cloneBytes(cfg.JWT.AccessKey)
	out.JWT.RefreshKey = cloneBytes(cfg.JWT.RefreshKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports every problem in c joined into one error.
func (c *Config) Validate() error {
	var errs []error

	// JWT
	if len(c.JWT.AccessKey) == 0 {
		errs = append(errs, errors.New("JWT AccessKey is required"))
	}
	if len(c.JWT.RefreshKey) == 0 {
		errs = append(errs, errors.New("JWT RefreshKey is required"))
	}
	if len(c.JWT.AccessKey) > 0 && bytes.Equal(c.JWT.AccessKey, c.JWT.RefreshKey) {
		errs = append(errs, errors.New("JWT AccessKey and RefreshKey must differ"))
	}
	if c.JWT.AccessTTL <= 0 {
		errs = append(errs, errors.New("JWT AccessTTL must be > 0"))
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		errs = append(errs, errors.New("JWT RefreshTTL must be > AccessTTL"))
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
		errs = append(errs, errors.New("JWT Leeway must be between 0 and 1m"))
	}

	// Password
	if c.Password.Memory < 8*1024 {
		errs = append(errs, errors.New("Password Memory must be >= 8192 KB"))
	}
	if c.Password.Time < 1 {
		errs = append(errs, errors.New("Password Time must be >= 1"))
	}
	if c.Password.Parallelism < 1 {
		errs = append(errs, errors.New("Password Parallelism must be >= 1"))
	}
	if c.Password.SaltLength < 16 {
		errs = append(errs, errors.New("Password SaltLength must be >= 16"))
	}
	if c.Password.KeyLength < 16 {
		errs = append(errs, errors.New("Password KeyLength must be >= 16"))
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		errs = append(errs, errors.New("Lockout Threshold must be >= 1"))
	}
	if c.Lockout.Backoff <= 0 {
		errs = append(errs, errors.New("Lockout Backoff must be > 0"))
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		errs = append(errs, errors.New("TOTP Issuer is required"))
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		errs = append(errs, errors.New("TOTP Digits must be 6 or 8"))
	}
	if c.TOTP.Period <= 0 {
		errs = append(errs, errors.New("TOTP Period must be > 0"))
	}
	if _, err := hmacFunc(c.TOTP.Algorithm); err != nil {
		errs = append(errs, errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512"))
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		errs = append(errs, errors.New("TOTP Skew must be between 0 and 3"))
	}
	if c.TOTP.EnrollmentTTL <= 0 {
		errs = append(errs, errors.New("TOTP EnrollmentTTL must be > 0"))
	}
	if c.TOTP.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("TOTP ChallengeTTL must be > 0"))
	}
	if c.TOTP.ChallengeMaxAttempts <= 0 {
		errs = append(errs, errors.New("TOTP ChallengeMaxAttempts must be > 0"))
	}
	if c.TOTP.BackupCodeCount <= 0 {
		errs = append(errs, errors.New("TOTP BackupCodeCount must be > 0"))
	}
	// Backup codes are entered as XXXX-XXXX groups and must never look like
	// a TOTP code.
	if c.TOTP.BackupCodeLength < 8 || c.TOTP.BackupCodeLength%4 != 0 {
		errs = append(errs, errors.New("TOTP BackupCodeLength must be a multiple of 4 and >= 8"))
	}

	// Store
	if c.Store.WriteTimeout <= 0 {
		errs = append(errs, errors.New("Store WriteTimeout must be > 0"))
	}
	if c.Store.MaxRetries < 0 {
		errs = append(errs, errors.New("Store MaxRetries must be >= 0"))
	}
	if c.Store.RetryBackoff < 0 {
		errs = append(errs, errors.New("Store RetryBackoff must be >= 0"))
	}

	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("Sweeper Interval must be > 0"))
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("Audit BufferSize must be > 0 when enabled"))
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		errs = append(errs, errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled"))
	}

	return errors.Join(errs...)
}
