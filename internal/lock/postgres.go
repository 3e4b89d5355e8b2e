package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// PostgresLocker uses session level advisory locks. Each lease pins its own
// connection because the lock belongs to the session that took it.
type PostgresLocker struct {
	DB *sql.DB
}

type postgresLease struct {
	conn *sql.Conn
	name string
	once sync.Once
}

func (l *PostgresLocker) TryAcquire(ctx context.Context, name string, force bool) (Lease, bool, error) {
	conn, err := l.DB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", name, err)
	}

	if force {
		// Advisory locks die with their session, so evicting a holder means
		// ending the backend that holds it.
		_, err := conn.ExecContext(ctx, `
			SELECT pg_terminate_backend(l.pid)
			FROM pg_locks l
			WHERE l.locktype = 'advisory'
			  AND l.objid = hashtext($1)::oid
			  AND l.pid <> pg_backend_pid()`, name)
		if err != nil {
			conn.Close()
			return nil, false, fmt.Errorf("clear lock %s: %w", name, err)
		}
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	return &postgresLease{conn: conn, name: name}, true, nil
}

func (p *postgresLease) Release(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		defer p.conn.Close()
		if _, e := p.conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, p.name); e != nil {
			err = fmt.Errorf("release lock %s: %w", p.name, e)
		}
	})
	return err
}
