package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentfabric/gateway/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	display_name TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	roles TEXT NOT NULL DEFAULT '',
	member_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(kind, fingerprint)
);

CREATE TABLE IF NOT EXISTS bindings (
	id TEXT PRIMARY KEY,
	frontend TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(frontend, channel_id)
);

CREATE TABLE IF NOT EXISTS bearer_tokens (
	token TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	revoked INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS link_codes (
	code TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	device_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	token TEXT NOT NULL DEFAULT '',
	principal_id TEXT NOT NULL DEFAULT '',
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);
`

// Open opens (creating if necessary) the embedded sqlite store at path.
func Open(path string) (StoreSet, error) {
	if strings.TrimSpace(path) == "" {
		return StoreSet{}, fmt.Errorf("storage: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// Single writer: sqlite's single-connection pool avoids SQLITE_BUSY
	// under concurrent mutation from the admin surface.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("storage: migrate schema: %w", err)
	}

	return StoreSet{
		Principals: &sqlitePrincipalStore{db: db},
		Bindings:   &sqliteBindingStore{db: db},
		Tokens:     &sqliteTokenStore{db: db},
		LinkCodes:  &sqliteLinkCodeStore{db: db},
		closer:     db.Close,
	}, nil
}

type sqlitePrincipalStore struct{ db *sql.DB }

func (s *sqlitePrincipalStore) Create(ctx context.Context, p *models.Principal) error {
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (id, kind, display_name, fingerprint, status, roles, member_id, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Kind, p.DisplayName, p.Fingerprint, p.Status, joinRoles(p.Roles), p.MemberID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: create principal: %w", err)
	}
	return nil
}

func (s *sqlitePrincipalStore) scanPrincipal(row *sql.Row) (*models.Principal, error) {
	var p models.Principal
	var roles string
	if err := row.Scan(&p.ID, &p.Kind, &p.DisplayName, &p.Fingerprint, &p.Status, &roles, &p.MemberID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p.Roles = splitRoles(roles)
	return &p, nil
}

func (s *sqlitePrincipalStore) Get(ctx context.Context, id string) (*models.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, display_name, fingerprint, status, roles, member_id, created_at, updated_at FROM principals WHERE id = ?`, id)
	p, err := s.scanPrincipal(row)
	if err != nil {
		return nil, fmt.Errorf("storage: get principal: %w", err)
	}
	return p, nil
}

func (s *sqlitePrincipalStore) ResolveByFingerprint(ctx context.Context, kind models.PrincipalKind, fingerprint string) (*models.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, display_name, fingerprint, status, roles, member_id, created_at, updated_at
		 FROM principals WHERE kind = ? AND fingerprint = ?`, kind, fingerprint)
	p, err := s.scanPrincipal(row)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve principal by fingerprint: %w", err)
	}
	return p, nil
}

func (s *sqlitePrincipalStore) Update(ctx context.Context, p *models.Principal) error {
	p.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET kind=?, display_name=?, fingerprint=?, status=?, roles=?, member_id=?, updated_at=? WHERE id=?`,
		p.Kind, p.DisplayName, p.Fingerprint, p.Status, joinRoles(p.Roles), p.MemberID, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update principal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlitePrincipalStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete principal: %w", err)
	}
	return nil
}

func (s *sqlitePrincipalStore) List(ctx context.Context) ([]*models.Principal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, display_name, fingerprint, status, roles, member_id, created_at, updated_at FROM principals ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list principals: %w", err)
	}
	defer rows.Close()

	var out []*models.Principal
	for rows.Next() {
		var p models.Principal
		var roles string
		if err := rows.Scan(&p.ID, &p.Kind, &p.DisplayName, &p.Fingerprint, &p.Status, &roles, &p.MemberID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan principal: %w", err)
		}
		p.Roles = splitRoles(roles)
		out = append(out, &p)
	}
	return out, rows.Err()
}

type sqliteBindingStore struct{ db *sql.DB }

func (s *sqliteBindingStore) Create(ctx context.Context, b *models.Binding) error {
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bindings (id, frontend, channel_id, agent_id, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
		b.ID, b.Frontend, b.ChannelID, b.AgentID, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: create binding: %w", err)
	}
	return nil
}

func (s *sqliteBindingStore) Get(ctx context.Context, id string) (*models.Binding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, frontend, channel_id, agent_id, created_at, updated_at FROM bindings WHERE id = ?`, id)
	var b models.Binding
	if err := row.Scan(&b.ID, &b.Frontend, &b.ChannelID, &b.AgentID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get binding: %w", err)
	}
	return &b, nil
}

func (s *sqliteBindingStore) List(ctx context.Context) ([]*models.Binding, error) {
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

func (s *sqliteBindingStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bindings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete binding: %w", err)
	}
	return nil
}

func (s *sqliteBindingStore) ResolveByKey(ctx context.Context, frontend, channelID string) (*models.Binding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, frontend, channel_id, agent_id, created_at, updated_at FROM bindings WHERE frontend = ? AND channel_id = ?`,
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

// UpdateAgentForChannelPrefix repoints every binding whose channel_id has
// channelPrefix to agentID. Used by the binding auto-resolution-on-reconnect
// supplemented feature (see internal/registry).
func (s *sqliteBindingStore) UpdateAgentForChannelPrefix(ctx context.Context, frontend, channelPrefix, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bindings SET agent_id = ?, updated_at = ? WHERE frontend = ? AND channel_id LIKE ?`,
		agentID, time.Now(), frontend, channelPrefix+"%",
	)
	if err != nil {
		return 0, fmt.Errorf("storage: update bindings for workspace: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type sqliteTokenStore struct{ db *sql.DB }

func (s *sqliteTokenStore) Create(ctx context.Context, t *models.BearerToken) error {
	t.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bearer_tokens (token, principal_id, expires_at, revoked, created_at) VALUES (?,?,?,?,?)`,
		t.Token, t.PrincipalID, t.ExpiresAt, t.Revoked, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create bearer token: %w", err)
	}
	return nil
}

func (s *sqliteTokenStore) Get(ctx context.Context, token string) (*models.BearerToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, principal_id, expires_at, revoked, created_at FROM bearer_tokens WHERE token = ?`, token)
	var t models.BearerToken
	if err := row.Scan(&t.Token, &t.PrincipalID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get bearer token: %w", err)
	}
	return &t, nil
}

func (s *sqliteTokenStore) Revoke(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bearer_tokens SET revoked = 1 WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("storage: revoke bearer token: %w", err)
	}
	return nil
}

type sqliteLinkCodeStore struct{ db *sql.DB }

func (s *sqliteLinkCodeStore) Create(ctx context.Context, l *models.LinkCode) error {
	l.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO link_codes (code, fingerprint, device_name, kind, status, token, principal_id, expires_at, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		l.Code, l.Fingerprint, l.DeviceName, l.Kind, l.Status, l.Token, l.PrincipalID, l.ExpiresAt, l.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("storage: create link code: %w", err)
	}
	return nil
}

func (s *sqliteLinkCodeStore) Get(ctx context.Context, code string) (*models.LinkCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, fingerprint, device_name, kind, status, token, principal_id, expires_at, created_at FROM link_codes WHERE code = ?`, code)
	var l models.LinkCode
	if err := row.Scan(&l.Code, &l.Fingerprint, &l.DeviceName, &l.Kind, &l.Status, &l.Token, &l.PrincipalID, &l.ExpiresAt, &l.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get link code: %w", err)
	}
	return &l, nil
}

func (s *sqliteLinkCodeStore) Update(ctx context.Context, l *models.LinkCode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE link_codes SET status=?, token=?, principal_id=? WHERE code=?`,
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

func (s *sqliteLinkCodeStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM link_codes WHERE status IN ('expired','consumed') AND expires_at < ?`,
		time.Now().Add(-time.Hour))
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired link codes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func joinRoles(roles []string) string  { return strings.Join(roles, ",") }
func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "duplicate")
}
