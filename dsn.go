/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MakeDSN returns the DSN for opening a connection of the given dialect with the credentials injected.
// Credentials are configured separately from the connection URL, so the URL may be shared between
// connections that log in as different users. Empty username keeps the credentials of the URL untouched.
func MakeDSN(dialect Dialect, dsn, username, password string) (string, error) {
	switch dialect {
	case DialectMySQL:
		return makeMySQLDSN(dsn, username, password)
	case DialectPostgres, DialectPgx:
		return makePostgresDSN(dsn, username, password)
	case DialectMSSQL:
		return makeMSSQLDSN(dsn, username, password)
	case DialectSQLite:
		return dsn, nil
	}
	return "", fmt.Errorf("unsupported dialect: %s", dialect)
}

func makeMySQLDSN(dsn, username, password string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	if username != "" {
		c.User = username
		c.Passwd = password
	}
	c.ParseTime = true
	return c.FormatDSN(), nil
}

func makePostgresDSN(dsn, username, password string) (string, error) {
	if username == "" {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return urlWithUser(dsn, username, password)
	}
	// Keyword/value connection string.
	return fmt.Sprintf("%s user=%s password=%s", dsn, quotePgValue(username), quotePgValue(password)), nil
}

func makeMSSQLDSN(dsn, username, password string) (string, error) {
	if username == "" {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "sqlserver://") {
		return urlWithUser(dsn, username, password)
	}
	// ADO connection string.
	return fmt.Sprintf("%s;user id=%s;password=%s", strings.TrimSuffix(dsn, ";"), username, password), nil
}

func urlWithUser(dsn, username, password string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn url: %w", err)
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}

func quotePgValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
