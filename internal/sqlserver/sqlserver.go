// Package sqlserver owns the one live wire-protocol dependency: opening a
// connection to SQL Server through go-mssqldb, and the advisory run lock
// built on sp_getapplock/sp_releaseapplock.
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

// ConnectionConfig is the connection half of the runtime configuration
// (re-exported as the alias orchestrator.ConnectionConfig).
type ConnectionConfig struct {
	Server                 string
	Port                   int
	Database               string
	User                   string
	Password               string
	Encrypt                bool
	TrustServerCertificate bool
	RequestTimeoutMS       int
	ConnectionTimeoutMS    int
}

// DSN builds the go-mssqldb connection string for cfg.
func DSN(cfg ConnectionConfig) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	if cfg.Encrypt {
		q.Set("encrypt", "true")
	} else {
		q.Set("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		q.Set("trustservercertificate", "true")
	}
	if cfg.ConnectionTimeoutMS > 0 {
		q.Set("dial timeout", fmt.Sprintf("%d", cfg.ConnectionTimeoutMS/1000))
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open opens a single-connection pool: the executor's transaction
// disciplines require every batch of a run to share one underlying
// connection, so the pool is pinned to size 1.
func Open(cfg ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlserver: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// UnlockFunc releases a lock acquired by Lock.
type UnlockFunc func(ctx context.Context) error

// Lock acquires a session-scoped exclusive application lock named name on
// conn, blocking up to timeout. It mirrors the teacher's MySQL
// GET_LOCK/RELEASE_LOCK driver lock: acquire on a dedicated connection,
// return a closure that releases it, so migrate runs across a fleet never
// race on the same history table.
func Lock(ctx context.Context, conn *sql.Conn, name string, timeout time.Duration) (UnlockFunc, error) {
	var result int
	row := conn.QueryRowContext(ctx, `
		DECLARE @res INT;
		EXEC @res = sp_getapplock @resource = @p1, @lockmode = 'Exclusive', @lockowner = 'Session', @locktimeout = @p2;
		SELECT @res`,
		name, int(timeout.Milliseconds()))
	if err := row.Scan(&result); err != nil {
		return nil, fmt.Errorf("sqlserver: acquire lock %q: %w", name, err)
	}
	// sp_getapplock returns 0 or 1 on success, a negative value on failure/timeout.
	if result < 0 {
		return nil, fmt.Errorf("sqlserver: acquire lock %q: sp_getapplock returned %d", name, result)
	}
	return func(ctx context.Context) error {
		var released int
		row := conn.QueryRowContext(ctx, `DECLARE @res INT; EXEC @res = sp_releaseapplock @resource = @p1, @lockowner = 'Session'; SELECT @res`, name)
		if err := row.Scan(&released); err != nil {
			return fmt.Errorf("sqlserver: release lock %q: %w", name, err)
		}
		if released < 0 {
			return fmt.Errorf("sqlserver: release lock %q: sp_releaseapplock returned %d", name, released)
		}
		return nil
	}, nil
}
