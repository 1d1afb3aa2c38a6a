// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// Config is the process configuration. It satisfies auth.Config.
type Config struct {
	Port        int    `env:"PORT" envDefault:"3000"`
	APIPrefix   string `env:"API_PREFIX" envDefault:"/api/auth"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"*"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`

	DatabaseURL  string        `env:"DATABASE_URL" envDefault:"file:otp_auth.db?cache=shared"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`

	JWTSecret   string        `env:"JWT_SECRET"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"168h"`
	JWTIssuer   string        `env:"JWT_ISSUER"`
	JWTAudience []string      `env:"JWT_AUDIENCE" envSeparator:","`

	OTPLength          int           `env:"OTP_LENGTH" envDefault:"6"`
	OTPTTL             time.Duration `env:"OTP_TTL" envDefault:"10m"`
	OTPMaxAttempts     int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	OTPDeliveryMode    string        `env:"OTP_DELIVERY_MODE" envDefault:"async"`
	OTPDeliveryTimeout time.Duration `env:"OTP_DELIVERY_TIMEOUT" envDefault:"15s"`
	OTPQueueSize       int           `env:"OTP_QUEUE_SIZE" envDefault:"128"`
	OTPWorkers         int           `env:"OTP_WORKERS" envDefault:"2"`
	OTPSweepInterval   time.Duration `env:"OTP_SWEEP_INTERVAL" envDefault:"1m"`

	SMTPHost  string `env:"SMTP_HOST"`
	SMTPPort  int    `env:"SMTP_PORT" envDefault:"587"`
	EmailUser string `env:"EMAIL_USER"`
	EmailPass string `env:"EMAIL_PASS"`
	EmailFrom string `env:"EMAIL_FROM"`

	DefaultRegion string `env:"DEFAULT_REGION" envDefault:"US"`

	OTelEndpoint    string `env:"OTEL_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"otp-auth"`
}

// Load reads the configuration from the process environment
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFromMap reads the configuration from the given variables only
func LoadFromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate collects every configuration problem
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.JWTSecret) == "" {
		problems = append(problems, "JWT_SECRET is required")
	} else if len(c.JWTSecret) < 16 {
		problems = append(problems, "JWT_SECRET must be at least 16 characters")
	}

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d is out of range", c.Port))
	}

	if c.OTPLength < 4 || c.OTPLength > 12 {
		problems = append(problems, "OTP_LENGTH must be between 4 and 12")
	}

	if c.OTPTTL <= 0 {
		problems = append(problems, "OTP_TTL must be positive")
	}

	if c.OTPMaxAttempts <= 0 {
		problems = append(problems, "OTP_MAX_ATTEMPTS must be positive")
	}

	switch c.OTPDeliveryMode {
	case "async", "inline":
	default:
		problems = append(problems, fmt.Sprintf("OTP_DELIVERY_MODE %q must be async or inline", c.OTPDeliveryMode))
	}

	if c.SMTPHost != "" && c.EmailUser == "" && c.EmailFrom == "" {
		problems = append(problems, "EMAIL_FROM or EMAIL_USER is required when SMTP_HOST is set")
	}

	if len(problems) == 0 {
		return nil
	}

	return goerrors.New("invalid configuration: "+strings.Join(problems, "; "), goerrors.CategoryValidation).
		WithMetadata(map[string]any{"problems": problems})
}

// Address is the listen address of the HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SMTPEnabled reports whether passcodes are sent by email
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func (c *Config) GetSigningKey() string {
	return c.JWTSecret
}

func (c *Config) GetTokenExpiration() time.Duration {
	return c.JWTTTL
}

func (c *Config) GetIssuer() string {
	return c.JWTIssuer
}

func (c *Config) GetAudience() []string {
	return c.JWTAudience
}

func (c *Config) GetPasscodeLength() int {
	return c.OTPLength
}

func (c *Config) GetPasscodeTTL() time.Duration {
	return c.OTPTTL
}

func (c *Config) GetMaxPasscodeAttempts() int {
	return c.OTPMaxAttempts
}

func (c *Config) GetStoreTimeout() time.Duration {
	return c.StoreTimeout
}
