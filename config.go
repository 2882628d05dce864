/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/acronis/go-appkit/config"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

const cfgDefaultKeyPrefix = "dbpatch"

// DefaultConnectionName is the reserved name of the mandatory connection.
// The version ledger always lives behind this connection.
const DefaultConnectionName = "default"

// DefaultLedgerTable is the default name of the table holding the version history.
const DefaultLedgerTable = "dbpatch_version_log"

const (
	cfgKeyUpgradeFile      = "upgradeFile"
	cfgKeyTarget           = "target"
	cfgKeyDowngradeAllowed = "downgradeAllowed"
	cfgKeyLedgerTable      = "ledgerTable"
	cfgKeyConnectRetries   = "connectRetries"
	cfgKeyConnections      = "connections"
)

// Config represents a set of configuration parameters for an upgrade run.
type Config struct {
	UpgradeFile      string                      `mapstructure:"upgradeFile" yaml:"upgradeFile" json:"upgradeFile"`
	Target           string                      `mapstructure:"target" yaml:"target" json:"target"`
	DowngradeAllowed bool                        `mapstructure:"downgradeAllowed" yaml:"downgradeAllowed" json:"downgradeAllowed"`
	LedgerTable      string                      `mapstructure:"ledgerTable" yaml:"ledgerTable" json:"ledgerTable"`
	ConnectRetries   int                         `mapstructure:"connectRetries" yaml:"connectRetries" json:"connectRetries"`
	Connections      map[string]ConnectionConfig `mapstructure:"connections" yaml:"connections" json:"connections"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConnectionConfig describes one named database connection.
// Secondary connections that leave Dialect or URL empty inherit them from the default connection.
type ConnectionConfig struct {
	Dialect        Dialect        `mapstructure:"dialect" yaml:"dialect" json:"dialect"`
	URL            string         `mapstructure:"url" yaml:"url" json:"url"`
	Username       string         `mapstructure:"username" yaml:"username" json:"username"`
	Password       string         `mapstructure:"password" yaml:"password" json:"password"`
	PromptPassword bool           `mapstructure:"promptPassword" yaml:"promptPassword" json:"promptPassword"`
	TxLevel        IsolationLevel `mapstructure:"txLevel" yaml:"txLevel" json:"txLevel"`
}

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts = configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.LedgerTable = DefaultLedgerTable
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyLedgerTable, DefaultLedgerTable)
	dp.SetDefault(cfgKeyDowngradeAllowed, false)
	dp.SetDefault(cfgKeyConnectRetries, 0)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.UpgradeFile, err = dp.GetString(cfgKeyUpgradeFile); err != nil {
		return err
	}
	if c.Target, err = dp.GetString(cfgKeyTarget); err != nil {
		return err
	}
	if c.DowngradeAllowed, err = dp.GetBool(cfgKeyDowngradeAllowed); err != nil {
		return err
	}
	if c.LedgerTable, err = dp.GetString(cfgKeyLedgerTable); err != nil {
		return err
	}
	if c.ConnectRetries, err = dp.GetInt(cfgKeyConnectRetries); err != nil {
		return err
	}
	if c.ConnectRetries < 0 {
		return dp.WrapKeyErr(cfgKeyConnectRetries, fmt.Errorf("must be positive"))
	}

	var conns map[string]ConnectionConfig
	if err = decodeConnections(dp.Get(cfgKeyConnections), &conns); err != nil {
		return dp.WrapKeyErr(cfgKeyConnections, err)
	}
	c.Connections = conns
	if err = c.Validate(); err != nil {
		return dp.WrapKeyErr(cfgKeyConnections, err)
	}

	return nil
}

func decodeConnections(raw interface{}, conns *map[string]ConnectionConfig) error {
	if raw == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
		ErrorUnused:      true,
		Result:           conns,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// Validate checks that the connection set is usable: the default connection must be present
// and fully specified, every dialect must be known.
func (c *Config) Validate() error {
	def, ok := c.Connections[DefaultConnectionName]
	if !ok {
		return &ConfigError{Connection: DefaultConnectionName, Msg: "missing mandatory connection"}
	}
	if def.Dialect == "" {
		return &ConfigError{Connection: DefaultConnectionName, Msg: "missing dialect"}
	}
	if def.URL == "" {
		return &ConfigError{Connection: DefaultConnectionName, Msg: "missing url"}
	}
	for _, name := range c.ConnectionNames() {
		conn := c.Connections[name]
		if conn.Dialect == "" {
			continue
		}
		if _, err := ParseDialect(string(conn.Dialect)); err != nil {
			return &ConfigError{Connection: name, Msg: err.Error()}
		}
	}
	return nil
}

// ConnectionNames returns connection names with the default connection first and the rest sorted.
func (c *Config) ConnectionNames() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		if name != DefaultConnectionName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := c.Connections[DefaultConnectionName]; ok {
		names = append([]string{DefaultConnectionName}, names...)
	}
	return names
}

// IsolationLevel is a transaction isolation level that can be set in configuration files by its name.
type IsolationLevel sql.IsolationLevel

// UnmarshalJSON allows decoding string representation of isolation level from JSON.
// Implements json.Unmarshaler interface.
func (il *IsolationLevel) UnmarshalJSON(data []byte) error {
	level, err := getTxIsolationLevelFromString(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*il = level
	return nil
}

// UnmarshalYAML allows decoding from YAML.
// Implements yaml.Unmarshaler interface.
func (il *IsolationLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid isolation level: %w", err)
	}
	level, err := getTxIsolationLevelFromString(s)
	if err != nil {
		return err
	}
	*il = level
	return nil
}

// UnmarshalText allows decoding from text.
// Implements encoding.TextUnmarshaler interface, which is used by mapstructure.TextUnmarshallerHookFunc.
func (il *IsolationLevel) UnmarshalText(text []byte) error {
	return il.UnmarshalJSON(text)
}

// String returns the human-readable string representation.
func (il IsolationLevel) String() string {
	return sql.IsolationLevel(il).String()
}

// MarshalJSON encodes as a human-readable string in JSON.
func (il IsolationLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(il.String())
}

// MarshalYAML encodes as a human-readable string in YAML.
func (il IsolationLevel) MarshalYAML() (interface{}, error) {
	return il.String(), nil
}

var availableTxIsolationLevelsMap = prepareAvailableTxIsolationLevelsStr()

func prepareAvailableTxIsolationLevelsStr() map[string]IsolationLevel {
	availableLevels := []sql.IsolationLevel{
		sql.LevelDefault,
		sql.LevelReadUncommitted,
		sql.LevelReadCommitted,
		sql.LevelRepeatableRead,
		sql.LevelSerializable,
	}
	m := make(map[string]IsolationLevel, len(availableLevels))
	for _, level := range availableLevels {
		m[level.String()] = IsolationLevel(level)
	}
	m[""] = IsolationLevel(sql.LevelDefault)
	return m
}

func getTxIsolationLevelFromString(s string) (IsolationLevel, error) {
	level, ok := availableTxIsolationLevelsMap[s]
	if !ok {
		return IsolationLevel(sql.LevelDefault), fmt.Errorf("invalid isolation level: %s", s)
	}
	return level, nil
}
