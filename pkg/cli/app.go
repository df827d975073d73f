package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mchmarny/txrisk/pkg/config"
	"github.com/mchmarny/txrisk/pkg/data"
	"github.com/mchmarny/txrisk/pkg/logging"
	urfave "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName = "txrisk"

	debugFlag  = "debug"
	configFlag = "config"
	dbFlag     = "db"
	formatFlag = "format"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	out io.Writer = os.Stdout
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		stop()
		os.Exit(1)
	}
}

type appConfigKey struct{}

type appConfig struct {
	Path   string
	Format string
	Debug  bool
	Config *config.Config
}

func getConfig(ctx context.Context) *appConfig {
	cfg, ok := ctx.Value(appConfigKey{}).(*appConfig)
	if !ok {
		return &appConfig{Format: formatJSON, Config: config.Default(".")}
	}
	return cfg
}

// openStore opens the run history database named in the config.
func (c *appConfig) openStore(ctx context.Context) (*data.Store, error) {
	if c.Config.DB == "" {
		return nil, errors.New("database not configured")
	}
	s, err := data.Open(ctx, c.Config.DB)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func newApp() *urfave.Command {
	return &urfave.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Rank blockchain transactions by anomaly risk",
		Flags: []urfave.Flag{
			&urfave.BoolFlag{
				Name:  debugFlag,
				Usage: "Prints verbose logs (optional, default: false)",
			},
			&urfave.StringFlag{
				Name:    configFlag,
				Usage:   fmt.Sprintf("Path to the config file (optional, defaults to $HOME/.%s/%s)", appName, config.FileName),
				Sources: urfave.EnvVars("TXRISK_CONFIG"),
			},
			&urfave.StringFlag{
				Name:    dbFlag,
				Usage:   "Run history database: SQLite file path or postgres:// DSN (optional, overrides config)",
				Sources: urfave.EnvVars("TXRISK_DB"),
			},
			&urfave.StringFlag{
				Name:  formatFlag,
				Usage: "Output format [json, yaml]",
				Value: formatJSON,
			},
		},
		Commands: []*urfave.Command{
			trainCommand(),
			detectCommand(),
			runsCommand(),
		},
		Before: func(ctx context.Context, cmd *urfave.Command) (context.Context, error) {
			debug := cmd.Bool(debugFlag)
			if debug {
				logging.SetDefaultCLILogger("debug")
			}

			format := formatJSON
			switch f := cmd.String(formatFlag); f {
			case formatJSON:
			case formatYAML, "yml":
				format = formatYAML
			default:
				return ctx, fmt.Errorf("unsupported output format: %s", f)
			}

			path := cmd.String(configFlag)
			if path == "" {
				dir, _, err := config.GetOrCreateHomeDir(appName)
				if err != nil {
					return ctx, fmt.Errorf("resolving home dir: %w", err)
				}
				path = filepath.Join(dir, config.FileName)
			}

			c, err := config.ReadOrCreate(path)
			if err != nil {
				return ctx, fmt.Errorf("loading config: %w", err)
			}
			if db := cmd.String(dbFlag); db != "" {
				c.DB = db
			}

			slog.Debug("config loaded", "path", path, "model_dir", c.ModelDir, "db", data.Driver(c.DB))

			return context.WithValue(ctx, appConfigKey{}, &appConfig{
				Path:   path,
				Format: format,
				Debug:  debug,
				Config: c,
			}), nil
		},
	}
}

func encode(ctx context.Context, v any) error {
	if getConfig(ctx).Format == formatYAML {
		e := yaml.NewEncoder(out)
		defer e.Close()
		return e.Encode(v)
	}
	e := json.NewEncoder(out)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
