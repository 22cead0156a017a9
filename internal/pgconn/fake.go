// SPDX-License-Identifier: Apache-2.0

package pgconn

import (
	"context"
	"database/sql"
)

// FakeExecutor is a no-op Executor for unit tests that exercise SQL synthesis
// without a live database.
type FakeExecutor struct {
	Committed   bool
	RolledBack  bool
	ExecQueries []string
}

func (f *FakeExecutor) Exec(ctx context.Context, query string) (sql.Result, error) {
	f.ExecQueries = append(f.ExecQueries, query)
	return driverResult{}, nil
}

func (f *FakeExecutor) ExecParams(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.ExecQueries = append(f.ExecQueries, query)
	return driverResult{}, nil
}

func (f *FakeExecutor) Query(ctx context.Context, query string) (*sql.Rows, error) {
	return nil, nil
}

func (f *FakeExecutor) QueryScalar(ctx context.Context, query string, dest any) error {
	return nil
}

func (f *FakeExecutor) Commit() error {
	f.Committed = true
	return nil
}

func (f *FakeExecutor) Rollback() error {
	f.RolledBack = true
	return nil
}

func (f *FakeExecutor) Close() error { return nil }

type driverResult struct{}

func (driverResult) LastInsertId() (int64, error) { return 0, nil }
func (driverResult) RowsAffected() (int64, error) { return 0, nil }
