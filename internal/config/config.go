// Package config reads settings from the environment and optional .env
// files. Every setting has a default, so a bare environment starts a
// local in-memory hub.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrInvalid is returned for unreadable or out-of-range settings.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting. Field comments name the variable.
type Config struct {
	// SYNCBOARD_LISTEN
	Listen string `validate:"required"`
	// SYNCBOARD_STORE: memory, badger:<dir>, badger:mem or postgres:<dsn>
	Store string `validate:"required"`
	// SYNCBOARD_BOARDS: comma-separated boards advertised over mDNS
	Boards []string
	// SYNCBOARD_MDNS
	MDNS bool

	// SYNCBOARD_THROTTLE
	ThrottleInterval time.Duration `validate:"gt=0"`
	// SYNCBOARD_PENDING_TTL
	PendingTTL time.Duration `validate:"gt=0"`
	// SYNCBOARD_WRITE_TIMEOUT
	WriteTimeout time.Duration `validate:"gt=0"`
	// SYNCBOARD_RATE_LIMIT and SYNCBOARD_RATE_BURST: inbound frames per
	// second per connection
	RateLimit float64 `validate:"gte=0"`
	RateBurst int     `validate:"gte=1"`

	// SYNCBOARD_LOG_LEVEL and SYNCBOARD_LOG_FORMAT
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	// SYNCBOARD_USER, SYNCBOARD_NAME and SYNCBOARD_COLOR identify
	// client sessions.
	UserID      string
	DisplayName string
	Color       string

	// S3_BUCKET, AWS_REGION, S3_ENDPOINT, S3_PREFIX, AWS_ACCESS_KEY_ID and
	// AWS_SECRET_ACCESS_KEY configure export upload.
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3Prefix     string
	AWSAccessKey string
	AWSSecretKey string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	host, _ := os.Hostname()
	return Config{
		Listen:           ":8080",
		Store:            "memory",
		Boards:           []string{"main"},
		MDNS:             true,
		ThrottleInterval: 50 * time.Millisecond,
		PendingTTL:       5 * time.Second,
		WriteTimeout:     10 * time.Second,
		RateLimit:        200,
		RateBurst:        400,
		LogLevel:         "info",
		LogFormat:        "text",
		UserID:           host,
		DisplayName:      host,
		Color:            "#336699",
		S3Region:         "us-east-1",
	}
}

var validate = validator.New()

// Load reads the given .env files, or ./.env when none are named, into the
// process environment without overriding variables already set, then
// builds the Config. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	r := reader{lookup: lookup}

	r.str("SYNCBOARD_LISTEN", &c.Listen)
	r.str("SYNCBOARD_STORE", &c.Store)
	r.list("SYNCBOARD_BOARDS", &c.Boards)
	r.boolean("SYNCBOARD_MDNS", &c.MDNS)
	r.duration("SYNCBOARD_THROTTLE", &c.ThrottleInterval)
	r.duration("SYNCBOARD_PENDING_TTL", &c.PendingTTL)
	r.duration("SYNCBOARD_WRITE_TIMEOUT", &c.WriteTimeout)
	r.float("SYNCBOARD_RATE_LIMIT", &c.RateLimit)
	r.integer("SYNCBOARD_RATE_BURST", &c.RateBurst)
	r.str("SYNCBOARD_LOG_LEVEL", &c.LogLevel)
	r.str("SYNCBOARD_LOG_FORMAT", &c.LogFormat)
	r.str("SYNCBOARD_USER", &c.UserID)
	r.str("SYNCBOARD_NAME", &c.DisplayName)
	r.str("SYNCBOARD_COLOR", &c.Color)
	r.str("S3_BUCKET", &c.S3Bucket)
	r.str("AWS_REGION", &c.S3Region)
	r.str("S3_ENDPOINT", &c.S3Endpoint)
	r.str("S3_PREFIX", &c.S3Prefix)
	r.str("AWS_ACCESS_KEY_ID", &c.AWSAccessKey)
	r.str("AWS_SECRET_ACCESS_KEY", &c.AWSSecretKey)

	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)
	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) fail(key, val string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%w: %s=%q: %w", ErrInvalid, key, val, err))
}

func (r *reader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *reader) list(key string, dst *[]string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (r *reader) boolean(key string, dst *bool) {
	if v, ok := r.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (r *reader) duration(key string, dst *time.Duration) {
	if v, ok := r.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (r *reader) float(key string, dst *float64) {
	if v, ok := r.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (r *reader) integer(key string, dst *int) {
	if v, ok := r.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = n
	}
}
