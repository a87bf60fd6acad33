package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/reelhub/internal/paginate"
)

type PostgresDB struct {
	*sqlDB
	dsn string
}

func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{sqlDB: newSQLDB(d, paginate.Postgres), dsn: dsn}
	if err := p.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init(ctx context.Context) error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.PingContext(ctx)
}
