// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package sqllog stores a table's transaction log in a SQL database.
// Each action of a commit is one row of dv_txn_log and a commit is a
// single database transaction.
package sqllog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lakehouse-go/dv"
	"github.com/lakehouse-go/dv/table"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mssqldialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/oracledialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

type SupportedDialect string

const (
	Postgres SupportedDialect = "postgres"
	MySQL    SupportedDialect = "mysql"
	SQLite   SupportedDialect = "sqlite"
	MSSQL    SupportedDialect = "mssql"
	Oracle   SupportedDialect = "oracle"
)

const (
	DialectKey       = "sql.dialect"
	DriverKey        = "sql.driver"
	URIKey           = "uri"
	initLogTablesKey = "init_log_tables"
)

var ErrUnsupportedDialect = errors.New("unsupported sql dialect")

var (
	dialects  = map[SupportedDialect]schema.Dialect{}
	dialectMx sync.Mutex
)

func createDialect(d SupportedDialect) (schema.Dialect, error) {
	switch d {
	case Postgres:
		return pgdialect.New(), nil
	case MySQL:
		return mysqldialect.New(), nil
	case SQLite:
		return sqlitedialect.New(), nil
	case MSSQL:
		return mssqldialect.New(), nil
	case Oracle:
		return oracledialect.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, d)
	}
}

func getDialect(d SupportedDialect) (schema.Dialect, error) {
	dialectMx.Lock()
	defer dialectMx.Unlock()

	ret, ok := dialects[d]
	if !ok {
		var err error
		if ret, err = createDialect(d); err != nil {
			return nil, err
		}
		dialects[d] = ret
	}

	return ret, nil
}

type logEntry struct {
	bun.BaseModel `bun:"table:dv_txn_log"`

	TableID string `bun:",pk"`
	Version int64  `bun:",pk"`
	Seq     int    `bun:",pk"`
	Action  string `bun:",notnull"`
}

func withReadTx[R any](ctx context.Context, db *bun.DB, fn func(context.Context, bun.Tx) (R, error)) (result R, err error) {
	txErr := db.RunInTx(ctx, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx bun.Tx) error {
		result, err = fn(ctx, tx)

		return err
	})
	if err == nil {
		err = txErr
	}

	return
}

func withWriteTx(ctx context.Context, db *bun.DB, fn func(context.Context, bun.Tx) error) error {
	return db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

var _ table.Log = (*Log)(nil)

// Log is a table.Log for one table id.
type Log struct {
	db      *bun.DB
	tableID string
}

// Open connects with the sql.driver, sql.dialect and uri properties.
func Open(tableID string, props dv.Properties) (*Log, error) {
	driver, ok := props[DriverKey]
	if !ok {
		return nil, errors.New("must provide driver to pass to sql.Open")
	}

	dialect := strings.ToLower(props[DialectKey])
	if dialect == "" {
		return nil, errors.New("must provide sql dialect to use")
	}

	sqldb, err := sql.Open(driver, strings.TrimPrefix(props.Get(URIKey, ""), "sql://"))
	if err != nil {
		return nil, err
	}

	return New(sqldb, SupportedDialect(dialect), tableID, props)
}

// New wraps db. Unless init_log_tables is false, the dv_txn_log table is
// created when missing.
//
// The environment variable DV_SQL_DEBUG logs queries to the terminal:
// - DV_SQL_DEBUG=1 logs only failed queries
// - DV_SQL_DEBUG=2 logs all queries
func New(db *sql.DB, dialect SupportedDialect, tableID string, props dv.Properties) (*Log, error) {
	if tableID == "" {
		return nil, fmt.Errorf("%w: empty table id", dv.ErrInvalidArgument)
	}

	d, err := getDialect(dialect)
	if err != nil {
		return nil, err
	}

	l := &Log{db: bun.NewDB(db, d), tableID: tableID}
	l.db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv("DV_SQL_DEBUG")))

	if props.GetBool(initLogTablesKey, true) {
		return l, l.CreateSQLTables(context.Background())
	}

	return l, nil
}

func (l *Log) TableID() string { return l.tableID }

func (l *Log) Close() error { return l.db.Close() }

func (l *Log) CreateSQLTables(ctx context.Context) error {
	_, err := l.db.NewCreateTable().Model((*logEntry)(nil)).
		IfNotExists().Exec(ctx)

	return err
}

func (l *Log) DropSQLTables(ctx context.Context) error {
	_, err := l.db.NewDropTable().Model((*logEntry)(nil)).
		IfExists().Exec(ctx)

	return err
}

func (l *Log) LatestVersion(ctx context.Context) (int64, error) {
	latest, err := withReadTx(ctx, l.db, func(ctx context.Context, tx bun.Tx) (sql.NullInt64, error) {
		var v sql.NullInt64
		err := tx.NewSelect().Model((*logEntry)(nil)).
			ColumnExpr("MAX(version)").
			Where("table_id = ?", l.tableID).
			Scan(ctx, &v)

		return v, err
	})
	if err != nil {
		return -1, err
	}
	if !latest.Valid {
		return -1, fmt.Errorf("%w: no commits for %s", table.ErrNoSuchTable, l.tableID)
	}

	return latest.Int64, nil
}

func (l *Log) ReadVersion(ctx context.Context, version int64) ([]dv.Action, error) {
	rows, err := withReadTx(ctx, l.db, func(ctx context.Context, tx bun.Tx) ([]logEntry, error) {
		var rows []logEntry
		err := tx.NewSelect().Model(&rows).
			Where("table_id = ?", l.tableID).
			Where("version = ?", version).
			OrderExpr("seq ASC").
			Scan(ctx)

		return rows, err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %d", table.ErrNoSuchVersion, version)
	}

	out := make([]dv.Action, len(rows))
	for i, r := range rows {
		if err := json.Unmarshal([]byte(r.Action), &out[i]); err != nil {
			return nil, fmt.Errorf("decode action %d of version %d: %w", r.Seq, version, err)
		}
	}

	return out, nil
}

func (l *Log) versionExists(ctx context.Context, tx bun.IDB, version int64) (bool, error) {
	return tx.NewSelect().Model((*logEntry)(nil)).
		Where("table_id = ?", l.tableID).
		Where("version = ?", version).
		Limit(1).Exists(ctx)
}

func (l *Log) Commit(ctx context.Context, version int64, actions []dv.Action) error {
	if version < 0 {
		return fmt.Errorf("%w: negative version %d", dv.ErrInvalidArgument, version)
	}
	if len(actions) == 0 {
		return fmt.Errorf("%w: commit %d has no actions", dv.ErrInvalidArgument, version)
	}

	rows := make([]logEntry, len(actions))
	for i, a := range actions {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode %s: %w", a, err)
		}
		rows[i] = logEntry{TableID: l.tableID, Version: version, Seq: i, Action: string(data)}
	}

	err := withWriteTx(ctx, l.db, func(ctx context.Context, tx bun.Tx) error {
		exists, err := l.versionExists(ctx, tx, version)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: version %d already exists", table.ErrCommitConflict, version)
		}

		if version > 0 {
			prev, err := l.versionExists(ctx, tx, version-1)
			if err != nil {
				return err
			}
			if !prev {
				return fmt.Errorf("%w: cannot commit %d before %d", table.ErrNoSuchVersion, version, version-1)
			}
		}

		_, err = tx.NewInsert().Model(&rows).Exec(ctx)

		return err
	})
	if err == nil || errors.Is(err, table.ErrCommitConflict) || errors.Is(err, table.ErrNoSuchVersion) {
		return err
	}

	// a concurrent writer may have won the primary key race
	if exists, existsErr := l.versionExists(ctx, l.db, version); existsErr == nil && exists {
		return fmt.Errorf("%w: version %d: %v", table.ErrCommitConflict, version, err)
	}

	return fmt.Errorf("failed to commit version %d: %w", version, err)
}
