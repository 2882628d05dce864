/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package conn manages the named database connections of an upgrade run.
// The "default" connection is mandatory and carries the version ledger;
// secondary connections inherit its dialect and URL unless they override them.
// Connections are opened lazily, on the first command directed at them, and stay open until the run ends.
package conn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/gocraft/dbr/v2"

	"github.com/acronis/go-dbpatch"
)

// Attributes describe a named connection.
type Attributes struct {
	Name string
	// Dialect and URL are inherited from the default connection when empty.
	Dialect  dbpatch.Dialect
	URL      string
	Username string
	// Password is requested through PasswordRequester when nil.
	Password *string
	TxLevel  sql.IsolationLevel
}

// PasswordRequester provides withheld passwords, usually by asking the user.
type PasswordRequester interface {
	RequestPassword(username string) (string, error)
}

// OpenFunc opens a database handle. It is replaceable for tests.
type OpenFunc func(dialect dbpatch.Dialect, dsn, username, password string) (*sql.DB, error)

func openDB(dialect dbpatch.Dialect, dsn, username, password string) (*sql.DB, error) {
	return dbpatch.Open(dialect, dsn, username, password, false)
}

// Conn is an opened named connection.
type Conn struct {
	*dbr.Connection
	Name    string
	Dialect dbpatch.Dialect
	TxLevel sql.IsolationLevel
}

// TxOptions returns the options transactions on the connection are started with.
func (c *Conn) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: c.TxLevel}
}

// Option is a functional option for the Set.
type Option func(*setOptions)

type setOptions struct {
	requester      PasswordRequester
	eventReceiver  dbr.EventReceiver
	connectRetries int
	retryInterval  time.Duration
	open           OpenFunc
	logger         log.FieldLogger
}

// WithPasswordRequester sets the provider of withheld passwords.
func WithPasswordRequester(r PasswordRequester) Option {
	return func(o *setOptions) {
		o.requester = r
	}
}

// WithEventReceiver sets the dbr event receiver of opened connections.
func WithEventReceiver(er dbr.EventReceiver) Option {
	return func(o *setOptions) {
		o.eventReceiver = er
	}
}

// WithConnectRetries sets how many times a failed ping of a new connection is retried.
func WithConnectRetries(retries int, initialInterval time.Duration) Option {
	return func(o *setOptions) {
		o.connectRetries = retries
		o.retryInterval = initialInterval
	}
}

// WithOpenFunc replaces the function opening database handles.
func WithOpenFunc(open OpenFunc) Option {
	return func(o *setOptions) {
		o.open = open
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *setOptions) {
		o.logger = logger
	}
}

// Set is the set of named connections of one upgrade run. It is not safe for concurrent use.
type Set struct {
	opts   setOptions
	attrs  map[string]Attributes
	names  []string
	opened map[string]*Conn
}

// NewSet creates an empty connection set.
func NewSet(options ...Option) *Set {
	opts := setOptions{
		eventReceiver: &dbr.NullEventReceiver{},
		retryInterval: 500 * time.Millisecond,
		open:          openDB,
		logger:        log.NewDisabledLogger(),
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &Set{opts: opts, attrs: make(map[string]Attributes), opened: make(map[string]*Conn)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Add adds a connection. The default connection must be added first and needs a dialect and a URL.
func (s *Set) Add(a Attributes) error {
	name := normalizeName(a.Name)
	switch {
	case name == "":
		return &dbpatch.ConfigError{Msg: "connection name is empty"}
	case len(s.names) == 0 && name != dbpatch.DefaultConnectionName:
		return &dbpatch.ConfigError{Connection: name, Msg: fmt.Sprintf("connection %q must be added first", dbpatch.DefaultConnectionName)}
	case name == dbpatch.DefaultConnectionName && len(s.names) != 0:
		return &dbpatch.ConfigError{Connection: name, Msg: "name is reserved for the first connection"}
	}
	if _, dup := s.attrs[name]; dup {
		return &dbpatch.ConfigError{Connection: name, Msg: "duplicate connection"}
	}
	if name == dbpatch.DefaultConnectionName {
		if a.Dialect == "" {
			return &dbpatch.ConfigError{Connection: name, Msg: "missing dialect"}
		}
		if a.URL == "" {
			return &dbpatch.ConfigError{Connection: name, Msg: "missing url"}
		}
	}
	if a.Dialect != "" {
		if _, err := dbpatch.ParseDialect(string(a.Dialect)); err != nil {
			return &dbpatch.ConfigError{Connection: name, Msg: err.Error()}
		}
	}
	if a.Password == nil && a.Username == "" {
		return &dbpatch.ConfigError{Connection: name, Msg: "username is required to request a password"}
	}
	a.Name = name
	s.attrs[name] = a
	s.names = append(s.names, name)
	return nil
}

// Names returns the connection names in the order they were added.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Has reports whether the connection is configured.
func (s *Set) Has(name string) bool {
	_, ok := s.attrs[normalizeName(name)]
	return ok
}

// Effective returns the dialect and URL the connection is opened with: its own values if set,
// otherwise the ones of the default connection.
func (s *Set) Effective(name string) (dbpatch.Dialect, string, error) {
	name = normalizeName(name)
	a, ok := s.attrs[name]
	if !ok {
		return "", "", &dbpatch.ConfigError{Connection: name, Msg: "unknown connection"}
	}
	def := s.attrs[dbpatch.DefaultConnectionName]
	dialect, url := a.Dialect, a.URL
	if dialect == "" {
		dialect = def.Dialect
	}
	if url == "" {
		url = def.URL
	}
	if dialect == "" {
		return "", "", &dbpatch.ConfigError{Connection: name, Msg: "dialect cannot be resolved"}
	}
	if url == "" {
		return "", "", &dbpatch.ConfigError{Connection: name, Msg: "url cannot be resolved"}
	}
	return dialect, url, nil
}

// Get returns the opened connection, opening it on first use.
func (s *Set) Get(ctx context.Context, name string) (*Conn, error) {
	name = normalizeName(name)
	if c, ok := s.opened[name]; ok {
		return c, nil
	}
	a, ok := s.attrs[name]
	if !ok {
		return nil, &dbpatch.ConfigError{Connection: name, Msg: "unknown connection"}
	}
	dialect, url, err := s.Effective(name)
	if err != nil {
		return nil, err
	}
	dbrDialect, err := dialect.DBRDialect()
	if err != nil {
		return nil, &dbpatch.ConfigError{Connection: name, Msg: err.Error()}
	}

	password, err := s.password(a)
	if err != nil {
		return nil, err
	}

	db, err := s.opts.open(dialect, url, a.Username, password)
	if err != nil {
		return nil, fmt.Errorf("open connection %q: %w", name, err)
	}
	if dialect == dbpatch.DialectSQLite {
		// One writer at a time, and ":memory:" databases are per connection.
		db.SetMaxOpenConns(1)
	}
	if err = s.ping(ctx, name, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %q: %w", name, err)
	}

	c := &Conn{
		Connection: &dbr.Connection{DB: db, Dialect: dbrDialect, EventReceiver: s.opts.eventReceiver},
		Name:       name,
		Dialect:    dialect,
		TxLevel:    a.TxLevel,
	}
	s.opened[name] = c
	s.opts.logger.Debugf("connection %q opened (%s)", name, dialect)
	return c, nil
}

func (s *Set) password(a Attributes) (string, error) {
	if a.Password != nil {
		return *a.Password, nil
	}
	if s.opts.requester == nil {
		return "", &dbpatch.UnsupportedOperationError{
			Op: fmt.Sprintf("request password for user %q of connection %q", a.Username, a.Name)}
	}
	password, err := s.opts.requester.RequestPassword(a.Username)
	if err != nil {
		return "", fmt.Errorf("request password of connection %q: %w", a.Name, err)
	}
	return password, nil
}

func (s *Set) ping(ctx context.Context, name string, db *sql.DB) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.retryInterval
	var policy backoff.BackOff = backoff.WithMaxRetries(b, uint64(max(s.opts.connectRetries, 0)))
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := db.PingContext(ctx)
		if err != nil && attempt <= s.opts.connectRetries {
			s.opts.logger.Warnf("ping of connection %q failed (attempt %d), retrying: %v", name, attempt, err)
		}
		return err
	}, policy)
}

// Opened returns the names of the connections opened so far, in the order they were added.
func (s *Set) Opened() []string {
	var names []string
	for _, name := range s.names {
		if _, ok := s.opened[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Close closes every opened connection. The set can be used again afterwards.
func (s *Set) Close() error {
	var errs []error
	for _, name := range s.Opened() {
		if err := s.opened[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection %q: %w", name, err))
		}
		delete(s.opened, name)
	}
	return errors.Join(errs...)
}

// FromConfig builds a connection set from the configuration. Connections with PromptPassword
// have their password requested when they are opened.
func FromConfig(cfg *dbpatch.Config, options ...Option) (*Set, error) {
	s := NewSet(options...)
	for _, name := range cfg.ConnectionNames() {
		cc := cfg.Connections[name]
		a := Attributes{
			Name:     name,
			Dialect:  cc.Dialect,
			URL:      cc.URL,
			Username: cc.Username,
			TxLevel:  sql.IsolationLevel(cc.TxLevel),
		}
		if !cc.PromptPassword {
			password := cc.Password
			a.Password = &password
		}
		if err := s.Add(a); err != nil {
			return nil, err
		}
	}
	if len(s.names) == 0 {
		return nil, &dbpatch.ConfigError{Connection: dbpatch.DefaultConnectionName, Msg: "missing mandatory connection"}
	}
	return s, nil
}
