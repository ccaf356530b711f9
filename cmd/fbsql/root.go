package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/fbdriver/config"
	"github.com/tomyedwab/fbdriver/dbapi"
	"github.com/tomyedwab/fbdriver/loopback"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string
	User       string
	Password   string
	Charset    string
	LogLevel   string

	// engine serves every attachment of the process. resolve creates and
	// owns one unless it was supplied.
	engine     *loopback.Engine
	ownsEngine bool
	logger     *slog.Logger
	file       *config.File
}

// NewRootCommand creates the root command for the fbsql CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(nil)
}

func newRootCommand(engine *loopback.Engine) *cobra.Command {
	opts := &RootOptions{engine: engine}

	cmd := &cobra.Command{
		Use:   "fbsql",
		Short: "fbsql - command-line client for the fbdriver engine",
		Long:  "Run statements, inspect databases and listen for events through the fbdriver client stack.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML or TOML config file")
	cmd.PersistentFlags().StringVarP(&opts.Database, "database", "d", "", "database file (overrides the config)")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "", "user name (overrides the config)")
	cmd.PersistentFlags().StringVarP(&opts.Password, "password", "p", "", "password (overrides the config)")
	cmd.PersistentFlags().StringVar(&opts.Charset, "charset", "", "connection character set (overrides the config)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	// Add subcommands
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newExecCommand(opts))
	cmd.AddCommand(newInfoCommand(opts))
	cmd.AddCommand(newListenCommand(opts))
	cmd.AddCommand(newPostCommand(opts))

	return cmd
}

// resolve merges the config file with the flags and sets up logging.
func (o *RootOptions) resolve(stderr io.Writer) error {
	f := &config.File{}
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return err
		}
		f = loaded
	}
	if o.Database != "" {
		f.Database.Path = o.Database
	}
	if o.User != "" {
		f.Database.User = o.User
	}
	if o.Password != "" {
		f.Database.Password = o.Password
	}
	if o.Charset != "" {
		f.Database.Charset = o.Charset
	}
	if o.LogLevel != "" {
		f.Log.Level = o.LogLevel
	} else if f.Log.Level == "" {
		f.Log.Level = "warn"
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	logger, err := f.Logger(stderr)
	if err != nil {
		return err
	}
	o.file, o.logger = f, logger
	if o.engine == nil {
		o.engine = loopback.New(loopback.Options{Logger: logger})
		o.ownsEngine = true
	}
	return nil
}

func (o *RootOptions) close() error {
	if !o.ownsEngine {
		return nil
	}
	o.ownsEngine = false
	return o.engine.Close()
}

func (o *RootOptions) dbConfig() (dbapi.Config, error) {
	return o.file.DBConfig(o.logger)
}

// connect attaches to the configured database.
func (o *RootOptions) connect() (*dbapi.Connection, error) {
	cfg, err := o.dbConfig()
	if err != nil {
		return nil, err
	}
	conn, err := dbapi.Connect(o.engine, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to attach %s: %w", cfg.Database, err)
	}
	return conn, nil
}
