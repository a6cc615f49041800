package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/agentfabric/gateway/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	display_name TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	roles TEXT[] NOT NULL DEFAULT '{}',
	member_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(kind, fingerprint)
);

CREATE TABLE IF NOT EXISTS bindings (
	id TEXT PRIMARY KEY,
	frontend TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(frontend, channel_id)
);

CREATE TABLE IF NOT EXISTS bearer_tokens (
	token TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS link_codes (
	code TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	device_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	token TEXT NOT NULL DEFAULT '',
	principal_id TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// PostgresConfig tunes the backing connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns conservative pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// OpenPostgres is the optional secondary backend: a Postgres-compatible
// server reached over lib/pq, for operators who outgrow the single-writer
// embedded sqlite default.
func OpenPostgres(dsn string, config *PostgresConfig) (StoreSet, error) {
	if strings.TrimSpace(dsn) == "" {
		return StoreSet{}, fmt.Errorf("storage: dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("storage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("storage: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("storage: migrate postgres schema: %w", err)
	}

	return StoreSet{
		Principals: &postgresPrincipalStore{db: db},
		Bindings:   &postgresBindingStore{db: db},
		Tokens:     &postgresTokenStore{db: db},
		LinkCodes:  &postgresLinkCodeStore{db: db},
		closer:     db.Close,
	}, nil
}

type postgresPrincipalStore struct{ db *sql.DB }

func (s *postgresPrincipalStore) Create(ctx context.Context, p *models.Principal) error {
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (id, kind, display_name, fingerprint, status, roles, member_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Kind, p.DisplayName, p.Fingerprint, p.Status, pq.Array(p.Roles), p.MemberID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: create principal: %w", err)
	}
	return nil
}

func (s *postgresPrincipalStore) Get(ctx context.Context, id string) (*models.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, display_name, fingerprint, status, roles, member_id, created_at, updated_at FROM principals WHERE id = $1`, id)
	var p models.Principal
	if err := row.Scan(&p.ID, &p.Kind, &p.DisplayName, &p.Fingerprint, &p.Status, pq.Array(&p.Roles), &p.MemberID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get principal: %w", err)
	}
	return &p, nil
}

func (s *postgresPrincipalStore) ResolveByFingerprint(ctx context.Context, kind models.PrincipalKind, fingerprint string) (*models.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, display_name, fingerprint, status, roles, member_id, created_at, updated_at
		 FROM principals WHERE kind = $1 AND fingerprint = $2`, kind, fingerprint)
	var p models.Principal
	if err := row.Scan(&p.ID, &p.Kind, &p.DisplayName, &p.Fingerprint, &p.Status, pq.Array(&p.Roles), &p.MemberID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: resolve principal: %w", err)
	}
	return &p, nil
}

func (s *postgresPrincipalStore) Update(ctx context.Context, p *models.Principal) error {
	p.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET kind=$1, display_name=$2, fingerprint=$3, status=$4, roles=$5, member_id=$6, updated_at=$7 WHERE id=$8`,
		p.Kind, p.DisplayName, p.Fingerprint, p.Status, pq.Array(p.Roles), p.MemberID, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update principal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresPrincipalStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete principal: %w", err)
	}
	return nil
}

func (s *postgresPrincipalStore) List(ctx context.Context) ([]*models.Principal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, display_name, fingerprint, status, roles, member_id, created_at, updated_at FROM principals ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list principals: %w", err)
	}
	defer rows.Close()

	var out []*models.Principal
	for rows.Next() {
		var p models.Principal
		if err := rows.Scan(&p.ID, &p.Kind, &p.DisplayName, &p.Fingerprint, &p.Status, pq.Array(&p.Roles), &p.MemberID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan principal: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

type postgresBindingStore struct{ db *sql.DB }

func (s *postgresBindingStore) Create(ctx context.Context, b *models.Binding) error {
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bindings (id, frontend, channel_id, agent_id, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		b.ID, b.Frontend, b.ChannelID, b.AgentID, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: create binding: %w", err)
	}
	return nil
}

func (s *postgresBindingStore) Get(ctx context.Context, id string) (*models.Binding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, frontend, channel_id, agent_id, created_at, updated_at FROM bindings WHERE id = $1`, id)
	var b models.Binding
	if err := row.Scan(&b.ID, &b.Frontend, &b.ChannelID, &b.AgentID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get binding: %w", err)
	}
	return &b, nil
}

func (s *postgresBindingStore) List(ctx context.Context) ([]*models.Binding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, frontend, channel_id, agent_id, created_at, updated_at FROM bindings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list bindings: %w", err)
	}
	defer rows.Close()

	var out []*models.Binding
	for rows.Next() {
		var b models.Binding
		if err := rows.Scan(&b.ID, &b.Frontend, &b.ChannelID, &b.AgentID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan binding: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *postgresBindingStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bindings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete binding: %w", err)
	}
	return nil
}

func (s *postgresBindingStore) ResolveByKey(ctx context.Context, frontend, channelID string) (*models.Binding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, frontend, channel_id, agent_id, created_at, updated_at FROM bindings WHERE frontend = $1 AND channel_id = $2`,
		frontend, channelID)
	var b models.Binding
	if err := row.Scan(&b.ID, &b.Frontend, &b.ChannelID, &b.AgentID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: resolve binding: %w", err)
	}
	return &b, nil
}

func (s *postgresBindingStore) UpdateAgentForChannelPrefix(ctx context.Context, frontend, channelPrefix, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bindings SET agent_id = $1, updated_at = $2 WHERE frontend = $3 AND channel_id LIKE $4`,
		agentID, time.Now(), frontend, channelPrefix+"%",
	)
	if err != nil {
		return 0, fmt.Errorf("storage: update bindings for workspace: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type postgresTokenStore struct{ db *sql.DB }

func (s *postgresTokenStore) Create(ctx context.Context, t *models.BearerToken) error {
	t.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bearer_tokens (token, principal_id, expires_at, revoked, created_at) VALUES ($1,$2,$3,$4,$5)`,
		t.Token, t.PrincipalID, t.ExpiresAt, t.Revoked, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create bearer token: %w", err)
	}
	return nil
}

func (s *postgresTokenStore) Get(ctx context.Context, token string) (*models.BearerToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, principal_id, expires_at, revoked, created_at FROM bearer_tokens WHERE token = $1`, token)
	var t models.BearerToken
	if err := row.Scan(&t.Token, &t.PrincipalID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get bearer token: %w", err)
	}
	return &t, nil
}

func (s *postgresTokenStore) Revoke(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bearer_tokens SET revoked = TRUE WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("storage: revoke bearer token: %w", err)
	}
	return nil
}

type postgresLinkCodeStore struct{ db *sql.DB }

func (s *postgresLinkCodeStore) Create(ctx context.Context, l *models.LinkCode) error {
	l.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO link_codes (code, fingerprint, device_name, kind, status, token, principal_id, expires_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		l.Code, l.Fingerprint, l.DeviceName, l.Kind, l.Status, l.Token, l.PrincipalID, l.ExpiresAt, l.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: create link code: %w", err)
	}
	return nil
}

func (s *postgresLinkCodeStore) Get(ctx context.Context, code string) (*models.LinkCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, fingerprint, device_name, kind, status, token, principal_id, expires_at, created_at FROM link_codes WHERE code = $1`, code)
	var l models.LinkCode
	if err := row.Scan(&l.Code, &l.Fingerprint, &l.DeviceName, &l.Kind, &l.Status, &l.Token, &l.PrincipalID, &l.ExpiresAt, &l.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get link code: %w", err)
	}
	return &l, nil
}

func (s *postgresLinkCodeStore) Update(ctx context.Context, l *models.LinkCode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE link_codes SET status=$1, token=$2, principal_id=$3 WHERE code=$4`,
		l.Status, l.Token, l.PrincipalID, l.Code,
	)
	if err != nil {
		return fmt.Errorf("storage: update link code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresLinkCodeStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM link_codes WHERE status IN ('expired','consumed') AND expires_at < $1`,
		time.Now().Add(-time.Hour))
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired link codes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
