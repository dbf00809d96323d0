package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr      string
	DBDSN         string
	JWTIssuer     string
	JWTSecret     string
	JWTTTL        time.Duration
	InternalToken string
	WSOrigin      string
	Mode          string

	ExchangeMode string

	// EventBusMode selects the relay's publish sink. Empty means none
	// configured: the relay binary refuses to start rather than
	// acknowledge events into a vacuum.
	EventBusMode string

	RelayWorkerID     string
	RelayPollInterval time.Duration
	RelayBatchSize    int
	RelayClaimLease   time.Duration
	RelayMaxAttempts  int
	RelayStaleAfter   time.Duration
	RetentionDays     int
	RetentionCron     string
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.WSOrigin = os.Getenv("WS_ORIGIN")
	if c.WSOrigin == "" {
		missing = append(missing, "WS_ORIGIN")
	}
	c.Mode = strings.ToLower(strings.TrimSpace(os.Getenv("APP_MODE")))
	if c.Mode == "" {
		c.Mode = "development"
	}
	if c.Mode != "development" && c.Mode != "production" {
		return c, errors.New("invalid APP_MODE: use development or production")
	}
	c.ExchangeMode = strings.ToLower(strings.TrimSpace(os.Getenv("EXCHANGE_MODE")))
	if c.ExchangeMode == "" {
		c.ExchangeMode = "simulated"
	}
	if c.ExchangeMode != "simulated" && c.ExchangeMode != "disabled" {
		return c, errors.New("invalid EXCHANGE_MODE: use simulated or disabled")
	}
	c.EventBusMode = strings.ToLower(strings.TrimSpace(os.Getenv("EVENT_BUS_MODE")))
	if c.EventBusMode != "" && c.EventBusMode != "memory" {
		return c, errors.New("invalid EVENT_BUS_MODE: use memory")
	}

	c.RelayWorkerID = os.Getenv("RELAY_WORKER_ID")
	if c.RelayWorkerID == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "relay"
		}
		c.RelayWorkerID = host
	}
	var err error
	if c.RelayPollInterval, err = durationEnv("RELAY_POLL_INTERVAL", time.Second); err != nil {
		return c, err
	}
	if c.RelayClaimLease, err = durationEnv("RELAY_CLAIM_LEASE", 30*time.Second); err != nil {
		return c, err
	}
	if c.RelayStaleAfter, err = durationEnv("RELAY_STALE_AFTER", 5*time.Minute); err != nil {
		return c, err
	}
	if c.RelayBatchSize, err = intEnv("RELAY_BATCH_SIZE", 50); err != nil {
		return c, err
	}
	if c.RelayMaxAttempts, err = intEnv("RELAY_MAX_ATTEMPTS", 10); err != nil {
		return c, err
	}
	if c.RetentionDays, err = intEnv("OUTBOX_RETENTION_DAYS", 7); err != nil {
		return c, err
	}
	c.RetentionCron = os.Getenv("OUTBOX_RETENTION_CRON")
	if c.RetentionCron == "" {
		c.RetentionCron = "17 3 * * *"
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
