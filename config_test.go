/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/acronis/go-appkit/config"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	DB *Config `mapstructure:"dbpatch" json:"dbpatch" yaml:"dbpatch"`
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfgData     string
		expectedCfg func() *Config
	}{
		{
			name: "several connections",
			cfgData: `
dbpatch:
  upgradeFile: db/upgrade.sql
  target: "1.2"
  downgradeAllowed: true
  ledgerTable: schema_versions
  connectRetries: 3
  connections:
    default:
      dialect: mysql
      url: tcp(mysql-host:3306)/app
      username: app
      password: app-password
      txLevel: "Repeatable Read"
    audit:
      url: tcp(mysql-host:3306)/audit
      username: auditor
      promptPassword: true
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.UpgradeFile = "db/upgrade.sql"
				cfg.Target = "1.2"
				cfg.DowngradeAllowed = true
				cfg.LedgerTable = "schema_versions"
				cfg.ConnectRetries = 3
				cfg.Connections = map[string]ConnectionConfig{
					"default": {
						Dialect:  DialectMySQL,
						URL:      "tcp(mysql-host:3306)/app",
						Username: "app",
						Password: "app-password",
						TxLevel:  IsolationLevel(sql.LevelRepeatableRead),
					},
					"audit": {
						URL:            "tcp(mysql-host:3306)/audit",
						Username:       "auditor",
						PromptPassword: true,
					},
				}
				return cfg
			},
		},
		{
			name: "sqlite, defaults",
			cfgData: `
dbpatch:
  connections:
    default:
      dialect: sqlite3
      url: ":memory:"
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Connections = map[string]ConnectionConfig{
					"default": {Dialect: DialectSQLite, URL: ":memory:"},
				}
				return cfg
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, dataType := range []config.DataType{config.DataTypeYAML, config.DataTypeJSON} {
				cfgData := tt.cfgData
				if dataType == config.DataTypeJSON {
					cfgData = string(mustYAMLToJSON([]byte(cfgData)))
				}

				// Load config using config.Loader.
				appCfg := AppConfig{DB: NewDefaultConfig()}
				expectedAppCfg := AppConfig{DB: tt.expectedCfg()}
				cfgLoader := config.NewLoader(config.NewViperAdapter())
				err := cfgLoader.LoadFromReader(bytes.NewBuffer([]byte(cfgData)), dataType, appCfg.DB)
				require.NoError(t, err)
				require.Equal(t, expectedAppCfg, appCfg)

				// Load config using viper unmarshal.
				appCfg = AppConfig{DB: NewDefaultConfig()}
				expectedAppCfg = AppConfig{DB: tt.expectedCfg()}
				vpr := viper.New()
				vpr.SetConfigType(string(dataType))
				require.NoError(t, vpr.ReadConfig(bytes.NewBuffer([]byte(cfgData))))
				require.NoError(t, vpr.Unmarshal(&appCfg, func(c *mapstructure.DecoderConfig) {
					c.DecodeHook = mapstructure.TextUnmarshallerHookFunc()
				}))
				require.Equal(t, expectedAppCfg, appCfg)

				// Load config using yaml/json unmarshal.
				appCfg = AppConfig{DB: NewDefaultConfig()}
				expectedAppCfg = AppConfig{DB: tt.expectedCfg()}
				switch dataType {
				case config.DataTypeYAML:
					require.NoError(t, yaml.Unmarshal([]byte(cfgData), &appCfg))
					require.Equal(t, expectedAppCfg, appCfg)
				case config.DataTypeJSON:
					require.NoError(t, json.Unmarshal([]byte(cfgData), &appCfg))
					require.Equal(t, expectedAppCfg, appCfg)
				}
			}
		})
	}
}

func TestConfigWithKeyPrefix(t *testing.T) {
	t.Run("custom key prefix", func(t *testing.T) {
		cfgData := `
schema:
  target: "2.0"
  connections:
    default:
      dialect: postgres
      url: postgres://pg-host:5432/app
`
		cfg := NewConfig(WithKeyPrefix("schema"))
		err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, "2.0", cfg.Target)
		require.Equal(t, DefaultLedgerTable, cfg.LedgerTable)
		require.Equal(t, DialectPostgres, cfg.Connections[DefaultConnectionName].Dialect)
	})

	t.Run("default key prefix, empty struct initialization", func(t *testing.T) {
		cfgData := `
dbpatch:
  connections:
    default:
      dialect: pgx
      url: postgres://pg-host:5432/app
`
		cfg := &Config{}
		err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, DialectPgx, cfg.Connections[DefaultConnectionName].Dialect)
		require.Equal(t, "postgres://pg-host:5432/app", cfg.Connections[DefaultConnectionName].URL)
	})
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name           string
		yamlData       string
		expectedErrMsg string
	}{
		{
			name: "no connections",
			yamlData: `
dbpatch:
  target: "1.0"
`,
			expectedErrMsg: `dbpatch.connections: config: connection "default": missing mandatory connection`,
		},
		{
			name: "default connection without dialect",
			yamlData: `
dbpatch:
  connections:
    default:
      url: app.db
`,
			expectedErrMsg: `dbpatch.connections: config: connection "default": missing dialect`,
		},
		{
			name: "default connection without url",
			yamlData: `
dbpatch:
  connections:
    default:
      dialect: sqlite3
`,
			expectedErrMsg: `dbpatch.connections: config: connection "default": missing url`,
		},
		{
			name: "unknown dialect",
			yamlData: `
dbpatch:
  connections:
    default:
      dialect: sqlite3
      url: app.db
    audit:
      dialect: fake-dialect
`,
			expectedErrMsg: `dbpatch.connections: config: connection "audit": unknown dialect "fake-dialect"`,
		},
		{
			name: "negative connect retries",
			yamlData: `
dbpatch:
  connectRetries: -1
`,
			expectedErrMsg: `dbpatch.connectRetries: must be positive`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer([]byte(tt.yamlData)), config.DataTypeYAML, cfg)
			require.EqualError(t, err, tt.expectedErrMsg)
		})
	}

	t.Run("unknown connection field", func(t *testing.T) {
		cfgData := `
dbpatch:
  connections:
    default:
      dialect: sqlite3
      url: app.db
      pasword: secret
`
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
		require.ErrorContains(t, err, "pasword")
	})

	t.Run("invalid isolation level", func(t *testing.T) {
		cfgData := `
dbpatch:
  connections:
    default:
      dialect: sqlite3
      url: app.db
      txLevel: Snapshot
`
		cfg := NewConfig()
		err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
		require.ErrorContains(t, err, "invalid isolation level: Snapshot")
	})
}

func TestConfigConnectionNames(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Connections = map[string]ConnectionConfig{
		"reports":             {},
		DefaultConnectionName: {Dialect: DialectSQLite, URL: "app.db"},
		"audit":               {},
	}
	require.Equal(t, []string{"default", "audit", "reports"}, cfg.ConnectionNames())
}

func mustYAMLToJSON(yamlData []byte) []byte {
	var yamlMap map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &yamlMap); err != nil {
		panic(err)
	}
	jsonData, err := json.MarshalIndent(yamlMap, "", "  ")
	if err != nil {
		panic(err)
	}
	return jsonData
}
