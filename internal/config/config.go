package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                     int    `env:"PORT" envDefault:"8080"`
	DatabaseURL              string `env:"DATABASE_URL,required"`
	RedisURL                 string `env:"REDIS_URL,required"`
	BookingAPIURL            string `env:"BOOKING_API_URL,required"`
	BookingAPITimeoutSeconds int    `env:"BOOKING_API_TIMEOUT_SECONDS" envDefault:"10"`
	LogLevel                 string `env:"LOG_LEVEL" envDefault:"info"`

	DBMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`

	SIPBindAddr      string `env:"SIP_BIND_ADDR" envDefault:"0.0.0.0"`
	SIPPort          int    `env:"SIP_PORT" envDefault:"5070"`
	SIPAdvertiseAddr string `env:"SIP_ADVERTISE_ADDR" envDefault:"127.0.0.1"`
	SIPRegistrar     string `env:"SIP_REGISTRAR"`
	SIPDomain        string `env:"SIP_DOMAIN" envDefault:"rooms.local"`
	MediaPortMin     int    `env:"MEDIA_PORT_MIN" envDefault:"20000"`
	MediaPortMax     int    `env:"MEDIA_PORT_MAX" envDefault:"20999"`
	VideoEnabled     bool   `env:"CALL_VIDEO_ENABLED" envDefault:"false"`

	DialTimeoutSeconds     int   `env:"DIAL_TIMEOUT_SECONDS" envDefault:"30"`
	GracePeriodMinutes     int   `env:"GRACE_PERIOD_MINUTES" envDefault:"5"`
	TimerThresholdsMinutes []int `env:"TIMER_THRESHOLDS_MINUTES" envSeparator:"," envDefault:"5,1"`
	RoomIdleTTLMinutes     int   `env:"ROOM_IDLE_TTL_MINUTES" envDefault:"30"`
	EventRetentionDays     int   `env:"EVENT_RETENTION_DAYS" envDefault:"30"`
	RateLimitPerMin        int   `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	MaxRequestBodyBytes    int64 `env:"MAX_REQUEST_BODY_BYTES" envDefault:"16384"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SIPListenAddr() string {
	return fmt.Sprintf("%s:%d", c.SIPBindAddr, c.SIPPort)
}

func (c *Config) BookingAPITimeout() time.Duration {
	return time.Duration(c.BookingAPITimeoutSeconds) * time.Second
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMinutes) * time.Minute
}

func (c *Config) RoomIdleTTL() time.Duration {
	return time.Duration(c.RoomIdleTTLMinutes) * time.Minute
}

func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

// TimerThresholds returns the remaining-time notifications, ignoring non-positive entries.
func (c *Config) TimerThresholds() []time.Duration {
	thresholds := make([]time.Duration, 0, len(c.TimerThresholdsMinutes))
	for _, m := range c.TimerThresholdsMinutes {
		if m > 0 {
			thresholds = append(thresholds, time.Duration(m)*time.Minute)
		}
	}
	return thresholds
}

func (c *Config) Validate(isProduction bool) error {
	parsed, err := url.Parse(c.BookingAPIURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("BOOKING_API_URL must be an absolute URL")
	}
	if c.DialTimeoutSeconds <= 0 {
		return fmt.Errorf("DIAL_TIMEOUT_SECONDS must be positive")
	}
	if c.GracePeriodMinutes < 0 {
		return fmt.Errorf("GRACE_PERIOD_MINUTES must not be negative")
	}
	if c.MediaPortMin <= 0 || c.MediaPortMax < c.MediaPortMin {
		return fmt.Errorf("MEDIA_PORT_MIN/MEDIA_PORT_MAX must describe a valid port range")
	}

	if isProduction {
		if parsed.Scheme != "https" {
			log.Warn().Msg("BOOKING_API_URL is not https in production: credentials travel in clear text")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.SIPRegistrar == "" {
			log.Warn().Msg("SIP_REGISTRAR is empty in production: rooms will dial without registering")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
