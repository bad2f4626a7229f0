package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresDB implements the Database interface for PostgreSQL.
type PostgresDB struct {
	db            *sql.DB
	users         UserRepository
	topics        TopicRepository
	sources       SourceRepository
	candidates    CandidateRepository
	digests       DigestRepository
	profiles      ProfileRepository
	feedback      FeedbackRepository
	providerCalls ProviderCallRepository
	abtests       AbtestRepository
}

// NewPostgresDB creates a new PostgreSQL database connection.
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pg := &PostgresDB{db: db}
	pg.users = &postgresUserRepo{db: db}
	pg.topics = &postgresTopicRepo{db: db}
	pg.sources = &postgresSourceRepo{db: db}
	pg.candidates = &postgresCandidateRepo{db: db}
	pg.digests = &postgresDigestRepo{db: db}
	pg.profiles = &postgresProfileRepo{db: db}
	pg.feedback = &postgresFeedbackRepo{db: db}
	pg.providerCalls = &postgresProviderCallRepo{db: db}
	pg.abtests = &postgresAbtestRepo{db: db}

	return pg, nil
}

func (p *PostgresDB) Users() UserRepository                 { return p.users }
func (p *PostgresDB) Topics() TopicRepository               { return p.topics }
func (p *PostgresDB) Sources() SourceRepository             { return p.sources }
func (p *PostgresDB) Candidates() CandidateRepository       { return p.candidates }
func (p *PostgresDB) Digests() DigestRepository             { return p.digests }
func (p *PostgresDB) Profiles() ProfileRepository           { return p.profiles }
func (p *PostgresDB) Feedback() FeedbackRepository          { return p.feedback }
func (p *PostgresDB) ProviderCalls() ProviderCallRepository { return p.providerCalls }
func (p *PostgresDB) Abtests() AbtestRepository             { return p.abtests }

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// DB exposes the raw handle for migrations.
func (p *PostgresDB) DB() *sql.DB { return p.db }
