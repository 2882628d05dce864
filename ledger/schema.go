/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ledger

import (
	"fmt"
	"strings"

	"github.com/acronis/go-dbpatch"
)

// createTableSQL returns the dialect-specific DDL of the ledger table.
func createTableSQL(dialect dbpatch.Dialect, table string) (string, error) {
	switch dialect {
	case dbpatch.DialectMySQL:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			source_version VARCHAR(255) NULL,
			target_version VARCHAR(255) NOT NULL,
			patch_kind VARCHAR(16) NOT NULL,
			statement_count INT NOT NULL,
			applied_at DATETIME(6) NOT NULL,
			run_id VARCHAR(36) NOT NULL
		)`, table), nil

	case dbpatch.DialectPostgres, dbpatch.DialectPgx:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			source_version VARCHAR(255) NULL,
			target_version VARCHAR(255) NOT NULL,
			patch_kind VARCHAR(16) NOT NULL,
			statement_count INTEGER NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			run_id VARCHAR(36) NOT NULL
		)`, table), nil

	case dbpatch.DialectSQLite:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_version VARCHAR(255) NULL,
			target_version VARCHAR(255) NOT NULL,
			patch_kind VARCHAR(16) NOT NULL,
			statement_count INTEGER NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			run_id VARCHAR(36) NOT NULL
		)`, table), nil

	case dbpatch.DialectMSSQL:
		// MSSQL doesn't support CREATE TABLE IF NOT EXISTS.
		return fmt.Sprintf(`IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = '%s')
			CREATE TABLE %s (
				id BIGINT IDENTITY(1,1) PRIMARY KEY,
				source_version VARCHAR(255) NULL,
				target_version VARCHAR(255) NOT NULL,
				patch_kind VARCHAR(16) NOT NULL,
				statement_count INT NOT NULL,
				applied_at DATETIME2 NOT NULL,
				run_id VARCHAR(36) NOT NULL
			)`, table, table), nil

	default:
		return "", fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// tableExistsSQL returns a query counting tables with the name given as the only argument.
func tableExistsSQL(dialect dbpatch.Dialect) (string, error) {
	switch dialect {
	case dbpatch.DialectMySQL:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", nil
	case dbpatch.DialectPostgres, dbpatch.DialectPgx:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?", nil
	case dbpatch.DialectSQLite:
		return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", nil
	case dbpatch.DialectMSSQL:
		return "SELECT COUNT(*) FROM sys.tables WHERE name = ?", nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// catalogName is the table name as stored in the system catalog of the dialect.
func catalogName(dialect dbpatch.Dialect, table string) string {
	if dialect == dbpatch.DialectPostgres || dialect == dbpatch.DialectPgx {
		return strings.ToLower(table)
	}
	return table
}

func validTableName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
