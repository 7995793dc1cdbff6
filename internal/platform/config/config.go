package config

import (
	"os"
	"strings"
	"time"

	"bondledger/pkg/domain"
)

// Server captures process-level configuration. Postgres, Redis, and Kafka
// are optional: empty values select the in-memory implementations so the
// binary runs self-contained in development and tests.
type Server struct {
	Addr          string
	JWTSigningKey string
	TokenIssuer   string
	TokenAudience string

	// PostgresDSN selects SQL-backed stores when set.
	PostgresDSN string
	// RedisURL enables the identity-verification cache when set.
	RedisURL string
	// KafkaBrokers enables the Kafka event sink when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// CustodyAddress receives units seized through forced transfers.
	// Defaults to the regulator identity when unset.
	CustodyAddress domain.Address

	// IdentityCacheTTL bounds how long a clearance answer may be reused.
	// Verification revocations must propagate within this window.
	IdentityCacheTTL time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("BONDLEDGER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	topic := os.Getenv("KAFKA_EVENTS_TOPIC")
	if topic == "" {
		topic = "bondledger.events"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	ttl := 5 * time.Minute
	if raw := os.Getenv("IDENTITY_CACHE_TTL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			ttl = parsed
		}
	}

	return Server{
		Addr:             addr,
		JWTSigningKey:    jwtSigningKey,
		TokenIssuer:      envDefault("TOKEN_ISSUER", "bondledger"),
		TokenAudience:    envDefault("TOKEN_AUDIENCE", "bondledger-api"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaBrokers:     brokers,
		KafkaTopic:       topic,
		CustodyAddress:   domain.Address(os.Getenv("CUSTODY_ADDRESS")),
		IdentityCacheTTL: ttl,
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
