package utils

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 10}.withDefaults()
	if c.MaxIdleConns != 10 {
		t.Fatalf("expected idle conns to follow max open, got %d", c.MaxIdleConns)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout %s", c.PingTimeout)
	}
}

func TestWithTx_NilDB(t *testing.T) {
	err := WithTx(context.Background(), nil, nil, func(ctx context.Context, _ *sql.Tx) error { return nil })
	if err == nil {
		t.Fatalf("expected error for nil db")
	}
}

type schemaStub struct {
	calls *int
	err   error
}

func (s schemaStub) EnsureSchema(context.Context) error {
	*s.calls++
	return s.err
}

func TestApplySchemas_StopsAtFirstError(t *testing.T) {
	n := 0
	boom := errors.New("boom")
	err := ApplySchemas(context.Background(), schemaStub{calls: &n}, schemaStub{calls: &n, err: boom}, schemaStub{calls: &n})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 schema calls, got %d", n)
	}
}
