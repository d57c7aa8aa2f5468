package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"vendio/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures the chat schema exists and returns a connected session.
func NewSession(cfg config.Config, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}

	baseCluster := gocql.NewCluster(cfg.ScyllaHosts...)
	baseCluster.Timeout = cfg.ScyllaTimeout
	baseCluster.Consistency = cfg.ScyllaConsistency
	setAuth(baseCluster, cfg)

	baseSession, err := baseCluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := ensureKeyspace(context.Background(), baseSession, cfg); err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.Keyspace = cfg.ScyllaKeyspace
	cluster.Consistency = cfg.ScyllaConsistency
	setAuth(cluster, cfg)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(context.Background(), session, cfg); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, cfg.ScyllaReplication,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

func ensureTables(ctx context.Context, session *gocql.Session, cfg config.Config) error {
	conversations := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.conversations (
	id text PRIMARY KEY,
	listing_id text,
	buyer_id text,
	seller_id text,
	last_message text,
	last_message_at timestamp,
	status text,
	created_at timestamp
);`, cfg.ScyllaKeyspace)
	if err := session.Query(conversations).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}

	// unread lives in a counter table so increments and decrements are atomic
	// server-side instead of read-modify-write from this process
	unread := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.conversation_unread (
	conversation_id text,
	user_id text,
	unread counter,
	PRIMARY KEY (conversation_id, user_id)
);`, cfg.ScyllaKeyspace)
	if err := session.Query(unread).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create conversation_unread table: %w", err)
	}

	// one row per (listing, buyer, seller) triple, claimed with an LWT insert
	triples := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.conversations_by_triple (
	listing_id text,
	buyer_id text,
	seller_id text,
	conversation_id text,
	PRIMARY KEY ((listing_id, buyer_id, seller_id))
);`, cfg.ScyllaKeyspace)
	if err := session.Query(triples).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create conversations_by_triple table: %w", err)
	}

	messages := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.messages (
	conversation_id text,
	created_at timestamp,
	message_id text,
	sender_id text,
	content text,
	attachments_json text,
	audio_url text,
	audio_duration int,
	reply_to_id text,
	is_read boolean,
	PRIMARY KEY (conversation_id, created_at, message_id)
) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC);`, cfg.ScyllaKeyspace)
	if err := session.Query(messages).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

func setAuth(cluster *gocql.ClusterConfig, cfg config.Config) {
	if cfg.ScyllaUsername == "" {
		return
	}
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: cfg.ScyllaUsername,
		Password: cfg.ScyllaPassword,
	}
}
