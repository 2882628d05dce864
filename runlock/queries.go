/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package runlock

import (
	"fmt"
	"strconv"
	"time"

	"github.com/acronis/go-dbpatch"
)

type lockQueries struct {
	createTable   string
	initLock      string
	acquireLock   string
	releaseLock   string
	extendLock    string
	intervalMaker func(interval time.Duration) string
}

func newLockQueries(dialect dbpatch.Dialect, tableName string) (lockQueries, error) {
	switch dialect {
	case dbpatch.DialectPostgres, dbpatch.DialectPgx:
		return lockQueries{
			createTable:   fmt.Sprintf(postgresCreateTableQuery, tableName),
			initLock:      fmt.Sprintf(postgresInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(postgresAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(postgresReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(postgresExtendLockQuery, tableName),
			intervalMaker: postgresMakeInterval,
		}, nil
	case dbpatch.DialectMySQL:
		return lockQueries{
			createTable:   fmt.Sprintf(mySQLCreateTableQuery, tableName),
			initLock:      fmt.Sprintf(mySQLInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(mySQLAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(mySQLReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(mySQLExtendLockQuery, tableName),
			intervalMaker: microseconds,
		}, nil
	case dbpatch.DialectSQLite:
		return lockQueries{
			createTable:   fmt.Sprintf(sqliteCreateTableQuery, tableName),
			initLock:      fmt.Sprintf(sqliteInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(sqliteAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(sqliteReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(sqliteExtendLockQuery, tableName),
			intervalMaker: microseconds,
		}, nil
	default:
		return lockQueries{}, fmt.Errorf("run lock is not supported for sql dialect %q", dialect)
	}
}

//nolint:lll
const (
	postgresCreateTableQuery = `CREATE TABLE IF NOT EXISTS "%s" (lock_key varchar(40) PRIMARY KEY, token uuid, expire_at timestamp);`
	postgresInitLockQuery    = `INSERT INTO "%s" (lock_key) VALUES ($1) ON CONFLICT (lock_key) DO NOTHING;`
	postgresAcquireLockQuery = `UPDATE "%s" SET expire_at = NOW() + $1::interval, token = $2 WHERE lock_key = $3 AND (expire_at IS NULL OR expire_at < NOW());`
	postgresReleaseLockQuery = `UPDATE "%s" SET expire_at = NULL WHERE lock_key = $1 AND token = $2 AND expire_at >= NOW();`
	postgresExtendLockQuery  = `UPDATE "%s" SET expire_at = NOW() + $1::interval WHERE lock_key = $2 AND token = $3 AND expire_at >= NOW();`
)

func postgresMakeInterval(interval time.Duration) string {
	return strconv.FormatInt(interval.Microseconds(), 10) + " microseconds"
}

//nolint:lll
const (
	mySQLCreateTableQuery = "CREATE TABLE IF NOT EXISTS `%s` (lock_key VARCHAR(40) PRIMARY KEY, token VARCHAR(36), expire_at BIGINT);"
	mySQLInitLockQuery    = "INSERT IGNORE `%s` (lock_key) VALUES (?);"
	mySQLAcquireLockQuery = "UPDATE `%s` SET expire_at = UNIX_TIMESTAMP(DATE_ADD(CURTIME(4), INTERVAL ? MICROSECOND))*10000, token = ? WHERE lock_key = ? AND (expire_at IS NULL OR expire_at < UNIX_TIMESTAMP(CURTIME(4))*10000);"
	mySQLReleaseLockQuery = "UPDATE `%s` SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(CURTIME(4))*10000;"
	mySQLExtendLockQuery  = "UPDATE `%s` SET expire_at = UNIX_TIMESTAMP(DATE_ADD(CURTIME(4), INTERVAL ? MICROSECOND))*10000 WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(CURTIME(4))*10000;"
)

// SQLite keeps expiration in unix microseconds derived from julianday.
//
//nolint:lll
const (
	sqliteNow              = `CAST((julianday('now') - 2440587.5) * 86400000000 AS INTEGER)`
	sqliteCreateTableQuery = `CREATE TABLE IF NOT EXISTS "%s" (lock_key VARCHAR(40) PRIMARY KEY, token VARCHAR(36), expire_at INTEGER);`
	sqliteInitLockQuery    = `INSERT OR IGNORE INTO "%s" (lock_key) VALUES (?);`
	sqliteAcquireLockQuery = `UPDATE "%s" SET expire_at = ` + sqliteNow + ` + CAST(? AS INTEGER), token = ? WHERE lock_key = ? AND (expire_at IS NULL OR expire_at < ` + sqliteNow + `);`
	sqliteReleaseLockQuery = `UPDATE "%s" SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= ` + sqliteNow + `;`
	sqliteExtendLockQuery  = `UPDATE "%s" SET expire_at = ` + sqliteNow + ` + CAST(? AS INTEGER) WHERE lock_key = ? AND token = ? AND expire_at >= ` + sqliteNow + `;`
)

func microseconds(interval time.Duration) string {
	return strconv.FormatInt(interval.Microseconds(), 10)
}
