/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/acronis/go-dbpatch"
)

const envVarsPrefix = "DBPATCH"

// Version is set by the build.
var Version = "dev"

type globalFlags struct {
	configPath string
	envFile    string
	verbose    bool
	noColor    bool
}

// app holds what every command needs; it is filled in before a command runs.
type app struct {
	flags  globalFlags
	fs     afero.Fs
	out    io.Writer
	cfg    *dbpatch.Config
	logger log.FieldLogger
	close  func()
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{fs: afero.NewOsFs(), out: out, close: func() {}}

	root := &cobra.Command{
		Use:           "dbpatch",
		Short:         "Versioned database schema upgrades",
		Long:          "dbpatch brings databases to a requested version by applying the patches of an upgrade file.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "dbpatch.yml", "Path to the configuration file (YAML or JSON)")
	pf.StringVar(&a.flags.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "Print debug output")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newUpgradeCommand(a),
		newStatusCommand(a),
		newTargetsCommand(a),
		newExecCommand(a),
	)
	return root
}

func (a *app) init() error {
	if a.flags.noColor {
		color.NoColor = true
	}
	if err := loadEnvFile(a.fs, a.flags.envFile); err != nil {
		return err
	}

	// Progress goes to the console; the engine log is only shown in verbose mode.
	a.logger = log.NewDisabledLogger()
	if a.flags.verbose {
		logger, closeLogger := log.NewLogger(&log.Config{Output: log.OutputStderr, Level: log.LevelDebug})
		a.logger = logger
		a.close = closeLogger
	}

	cfg, err := loadConfig(a.fs, a.flags.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// loadEnvFile loads variables of the env file unless they are already set. A missing file is ignored.
func loadEnvFile(fs afero.Fs, path string) error {
	if path == "" {
		return nil
	}
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open env file: %w", err)
	}
	defer func() { _ = f.Close() }()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("parse env file %s: %w", path, err)
	}
	for k, v := range vars {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err = os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig reads the configuration file. ${VAR} references in connection URLs and credentials
// are expanded from the environment.
func loadConfig(fs afero.Fs, path string) (*dbpatch.Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dataType := config.DataTypeYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dataType = config.DataTypeJSON
	}

	cfg := dbpatch.NewDefaultConfig()
	if err = config.NewDefaultLoader(envVarsPrefix).LoadFromReader(strings.NewReader(string(data)), dataType, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	for name, c := range cfg.Connections {
		c.URL = os.ExpandEnv(c.URL)
		c.Username = os.ExpandEnv(c.Username)
		c.Password = os.ExpandEnv(c.Password)
		cfg.Connections[name] = c
	}
	if cfg.UpgradeFile != "" && !filepath.IsAbs(cfg.UpgradeFile) {
		cfg.UpgradeFile = filepath.Join(filepath.Dir(path), cfg.UpgradeFile)
	}
	return cfg, nil
}
