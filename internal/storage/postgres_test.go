package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/agentfabric/gateway/pkg/models"
)

func TestPostgresPrincipalCreate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := &postgresPrincipalStore{db: db}

	mock.ExpectExec(`INSERT INTO principals`).
		WithArgs("p1", "agent", "laptop", "abc123", "approved", sqlmock.AnyArg(), "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := &models.Principal{
		ID: "p1", Kind: models.PrincipalAgent, DisplayName: "laptop",
		Fingerprint: "abc123", Status: models.StatusApproved, Roles: []string{"leader"},
	}
	if err := store.Create(context.Background(), p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresPrincipalCreateDuplicateMapsToAlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := &postgresPrincipalStore{db: db}

	mock.ExpectExec(`INSERT INTO principals`).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "principals_kind_fingerprint_key"`))

	p := &models.Principal{ID: "p1", Kind: models.PrincipalAgent, Fingerprint: "abc123", Status: models.StatusApproved}
	if err := store.Create(context.Background(), p); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPostgresResolveByFingerprint(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := &postgresPrincipalStore{db: db}

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "kind", "display_name", "fingerprint", "status", "roles", "member_id", "created_at", "updated_at"}).
		AddRow("p1", "client", "cli", "abc123", "approved", "{operator,leader}", "", now, now)
	mock.ExpectQuery(`SELECT .+ FROM principals WHERE kind = \$1 AND fingerprint = \$2`).
		WithArgs("client", "abc123").
		WillReturnRows(rows)

	p, err := store.ResolveByFingerprint(context.Background(), models.PrincipalClient, "abc123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p == nil || p.ID != "p1" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if len(p.Roles) != 2 || p.Roles[0] != "operator" || p.Roles[1] != "leader" {
		t.Fatalf("roles array not decoded: %v", p.Roles)
	}
}

func TestPostgresResolveByFingerprintMissingReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := &postgresPrincipalStore{db: db}

	mock.ExpectQuery(`SELECT .+ FROM principals WHERE kind = \$1 AND fingerprint = \$2`).
		WithArgs("client", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	p, err := store.ResolveByFingerprint(context.Background(), models.PrincipalClient, "missing")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil for an unknown fingerprint, got %+v", p)
	}
}

func TestPostgresBindingUpdateForChannelPrefix(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := &postgresBindingStore{db: db}

	mock.ExpectExec(`UPDATE bindings SET agent_id = \$1`).
		WithArgs("agent-new", sqlmock.AnyArg(), "slack", "ws-alpha%").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.UpdateAgentForChannelPrefix(context.Background(), "slack", "ws-alpha", "agent-new")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows repointed, got %d", n)
	}
}
