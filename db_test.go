/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		dsn     string
		ping    bool
		wantErr string
	}{
		{
			name:    "successful open with ping",
			dialect: DialectSQLite,
			dsn:     ":memory:",
			ping:    true,
		},
		{
			name:    "unknown dialect",
			dialect: Dialect("unknown"),
			dsn:     ":memory:",
			wantErr: "unsupported dialect: unknown",
		},
		{
			name:    "invalid mysql dsn",
			dialect: DialectMySQL,
			dsn:     "mysql-host:3306/app",
			wantErr: "parse mysql dsn",
		},
		{
			name:    "error on ping",
			dialect: DialectSQLite,
			dsn:     "internal", // directory is not a valid path
			ping:    true,
			wantErr: "ping database",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbConn, err := Open(tt.dialect, tt.dsn, "", "", tt.ping)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, dbConn)
			require.NoError(t, dbConn.Close())
		})
	}
}

func TestDoInTx(t *testing.T) {
	tests := []struct {
		name         string
		initMock     func(m sqlmock.Sqlmock)
		fn           func(tx *sql.Tx) error
		wantErr      error
		wantPanicErr error
	}{
		{
			name: "success",
			initMock: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectCommit()
			},
			fn: func(tx *sql.Tx) error {
				return nil
			},
		},
		{
			name: "error on begin",
			initMock: func(m sqlmock.Sqlmock) {
				m.ExpectBegin().WillReturnError(fmt.Errorf("begin error"))
			},
			fn: func(tx *sql.Tx) error {
				return nil
			},
			wantErr: fmt.Errorf("begin tx: begin error"),
		},
		{
			name: "error on commit",
			initMock: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectCommit().WillReturnError(fmt.Errorf("commit error"))
			},
			fn: func(tx *sql.Tx) error {
				return nil
			},
			wantErr: fmt.Errorf("commit tx: commit error"),
		},
		{
			name: "error in func",
			initMock: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectRollback()
			},
			fn: func(tx *sql.Tx) error {
				return fmt.Errorf("fn error")
			},
			wantErr: fmt.Errorf("fn error"),
		},
		{
			name: "panic in func",
			initMock: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectRollback()
			},
			fn: func(tx *sql.Tx) error {
				panic(fmt.Errorf("panic"))
			},
			wantPanicErr: fmt.Errorf("panic"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() {
				require.NoError(t, mock.ExpectationsWereMet())
			}()

			tt.initMock(mock)

			if tt.wantPanicErr != nil {
				require.PanicsWithError(t, tt.wantPanicErr.Error(), func() {
					_ = DoInTx(context.Background(), db, tt.fn)
				})
				return
			}
			err = DoInTx(context.Background(), db, tt.fn)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tt.wantErr.Error())
		})
	}
}
