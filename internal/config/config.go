package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	NATSURL           string `validate:"required"` // comma-separated server list allowed
	NATSStreamName    string `validate:"required"`
	NATSConsumerName  string `validate:"required"`
	NATSSourceSubject string `validate:"required"`
	NATSOutputPrefix  string `validate:"required"`
	NATSOutputStream  string
	OutputMaxAge      time.Duration `validate:"gte=0"`
	LogNATSSubjects   bool
	ConnectMaxElapsed time.Duration `validate:"gte=0"`

	Workers       int           `validate:"gte=1,lte=256"`
	AckWait       time.Duration `validate:"gt=0"`
	MaxAckPending int           `validate:"gte=1"`

	TripStateTTL    time.Duration `validate:"gt=0"`
	TripStateMax    int           `validate:"gte=1"`
	FilterRulesFile string

	// Route catalog; empty DatabaseURL disables it.
	DatabaseURL    string
	City           string
	CatalogRefresh time.Duration `validate:"gt=0"`

	MetricsAddr string
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=json text"`
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSStreamName = getenvDefault("NATS_STREAM_NAME", "PUBTRANS")
	cfg.NATSConsumerName = getenvDefault("NATS_CONSUMER_NAME", "tripupdate-processor")
	cfg.NATSSourceSubject = getenvDefault("NATS_SOURCE_SUBJECT", "pubtrans.>")
	cfg.NATSOutputPrefix = getenvDefault("NATS_OUTPUT_SUBJECT_PREFIX", "gtfsrt.tripupdate")
	// Set but empty: the output stream is managed elsewhere
	cfg.NATSOutputStream = "GTFSRT_TRIPUPDATE"
	if v, ok := os.LookupEnv("NATS_OUTPUT_STREAM_NAME"); ok {
		cfg.NATSOutputStream = strings.TrimSpace(v)
	}
	cfg.LogNATSSubjects = getenvBool("LOG_NATS_SUBJECTS")

	var err error
	maxAgeMin, err := getenvInt("NATS_OUTPUT_MAX_AGE_MIN", 60)
	if err != nil {
		return nil, err
	}
	cfg.OutputMaxAge = time.Duration(maxAgeMin) * time.Minute

	if cfg.Workers, err = getenvInt("WORKERS", 1); err != nil {
		return nil, err
	}
	ackWaitSec, err := getenvInt("ACK_WAIT_SEC", 30)
	if err != nil {
		return nil, err
	}
	cfg.AckWait = time.Duration(ackWaitSec) * time.Second
	if cfg.MaxAckPending, err = getenvInt("MAX_ACK_PENDING", 1000); err != nil {
		return nil, err
	}

	// Trip state lifetime: roughly one service day past the last event
	ttlMin, err := getenvInt("TRIP_STATE_TTL_MIN", 30*60)
	if err != nil {
		return nil, err
	}
	cfg.TripStateTTL = time.Duration(ttlMin) * time.Minute
	if cfg.TripStateMax, err = getenvInt("TRIP_STATE_MAX", 200000); err != nil {
		return nil, err
	}

	cfg.FilterRulesFile = os.Getenv("FILTER_RULES_FILE")

	// Route catalog database: DATABASE_URL / PG_DSN, else PG* vars when PGDATABASE or CITY is set
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" {
		db := os.Getenv("PGDATABASE")
		if db == "" && cfg.City != "" {
			db = "postgres"
		}
		if db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	refreshMin, err := getenvInt("ROUTE_CATALOG_REFRESH_MIN", 60)
	if err != nil {
		return nil, err
	}
	cfg.CatalogRefresh = time.Duration(refreshMin) * time.Minute

	connectSec, err := getenvInt("CONNECT_MAX_ELAPSED_SEC", 120)
	if err != nil {
		return nil, err
	}
	cfg.ConnectMaxElapsed = time.Duration(connectSec) * time.Second

	// Metrics listen address (e.g., ":9102"). Empty disables the ops server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "json"))

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid config %s: failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func getenvBool(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
