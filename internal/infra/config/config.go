package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// Config aggregates chatd configuration loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string

	// StoreMode selects the durable conversation store: "memory" or "scylla".
	StoreMode string

	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaUsername    string
	ScyllaPassword    string
	ScyllaConsistency gocql.Consistency
	ScyllaTimeout     time.Duration
	ScyllaReplication int

	KafkaBrokers      []string
	KafkaTopicPrefix  string
	KafkaGroupID      string

	MongoURI string
	MongoDB  string

	S3Endpoint       string
	S3PublicEndpoint string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3UseSSL         bool

	TypingWindow time.Duration
	AckTimeout   time.Duration
	HistorySize  int
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StoreMode:        strings.ToLower(getEnv("CHAT_STORE", "memory")),
		ScyllaHosts:      splitAndTrim(getEnv("SCYLLA_HOSTS", "localhost")),
		ScyllaKeyspace:   strings.TrimSpace(getEnv("SCYLLA_KEYSPACE", "vendio_chat")),
		ScyllaUsername:   strings.TrimSpace(os.Getenv("SCYLLA_USERNAME")),
		ScyllaPassword:   strings.TrimSpace(os.Getenv("SCYLLA_PASSWORD")),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "vendio.chat"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "chatd"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "vendio"),
		S3Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3PublicEndpoint: getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "vendio-chat-media"),
	}

	switch cfg.StoreMode {
	case "memory", "scylla":
	default:
		return Config{}, fmt.Errorf("unsupported CHAT_STORE: %s", cfg.StoreMode)
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	scyllaTimeout, err := parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaTimeout = scyllaTimeout

	consistency, err := parseConsistency(getEnv("SCYLLA_CONSISTENCY", "quorum"))
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaConsistency = consistency
	cfg.ScyllaReplication = parseIntWithDefault(strings.TrimSpace(os.Getenv("SCYLLA_REPLICATION_FACTOR")), 1)
	if cfg.ScyllaReplication < 1 {
		cfg.ScyllaReplication = 1
	}

	typingWindow, err := parseDurationEnv("TYPING_WINDOW", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.TypingWindow = typingWindow

	ackTimeout, err := parseDurationEnv("SEND_ACK_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.AckTimeout = ackTimeout

	cfg.HistorySize = parseIntWithDefault(strings.TrimSpace(os.Getenv("HISTORY_PAGE_SIZE")), 50)

	useSSL, err := parseBoolEnv("S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg.S3UseSSL = useSSL
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}

	if cfg.StoreMode == "scylla" {
		if cfg.ScyllaKeyspace == "" {
			return Config{}, fmt.Errorf("SCYLLA_KEYSPACE is required")
		}
		if len(cfg.ScyllaHosts) == 0 {
			return Config{}, fmt.Errorf("SCYLLA_HOSTS is required")
		}
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum", "localquorum":
		return gocql.LocalQuorum, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported SCYLLA_CONSISTENCY: %s", raw)
	}
}
