package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/cek/rclonebb/internal/config"
	"github.com/cek/rclonebb/internal/logging"
	"github.com/cek/rclonebb/internal/orchestrator"
	"github.com/cek/rclonebb/internal/types"
	"github.com/cek/rclonebb/internal/version"
	"github.com/urfave/cli/v2"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(types.ExitExecutionError.Int())
		}
	}()

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		// cli.Exit errors already carried their code through OsExiter.
		fmt.Fprintf(os.Stderr, "rclonebb: %v\n", err)
		os.Exit(types.ExitConfigError.Int())
	}
}

func newApp() *cli.App {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	return &cli.App{
		Name:    "rclonebb",
		Usage:   "scheduled rclone backup runner with log rotation and email summaries",
		Version: version.Full(),
		Commands: []*cli.Command{
			modeCommand(types.ModeSync, "Synchronize a local directory to the remote bucket"),
			modeCommand(types.ModeCheck, "Compare the local directory against the remote bucket"),
			modeCommand(types.ModeCryptCheck, "Verify an encrypted remote against the local directory"),
		},
	}
}

func modeCommand(mode types.Mode, usage string) *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "settings",
			Usage: "Path to the settings file",
			Value: config.DefaultSettingsPath,
		},
		&cli.StringFlag{
			Name:  "local-dir",
			Usage: "Local directory to back up",
		},
		&cli.StringFlag{
			Name:  "remote-bucket",
			Usage: "rclone remote target, e.g. b2:bucket/path",
		},
		&cli.IntFlag{
			Name:  "transfers",
			Usage: "Number of parallel file transfers (sync only)",
		},
		&cli.StringFlag{
			Name:  "exclude-from",
			Usage: "Path to an rclone exclude-from file",
		},
		&cli.StringFlag{
			Name:  "min-age",
			Usage: "Only transfer files older than this, e.g. 15m (sync only)",
		},
		&cli.StringFlag{
			Name:  "email",
			Usage: "Send the run summary to this address (empty disables email)",
		},
		&cli.StringFlag{
			Name:  "rclone-config",
			Usage: "Path to the rclone configuration file",
		},
		&cli.StringFlag{
			Name:  "rclone-path",
			Usage: "rclone binary to execute",
		},
		&cli.StringFlag{
			Name:  "log-dir",
			Usage: "Directory for run logs",
		},
		&cli.IntFlag{
			Name:  "max-log-files",
			Usage: "Number of run logs to retain",
		},
		&cli.BoolFlag{
			Name:  "compress-log",
			Usage: "Compress the run log after the run",
		},
		&cli.BoolFlag{
			Name:  "encrypt-log",
			Usage: "Encrypt the retained log to the configured age recipients",
		},
		&cli.BoolFlag{
			Name:  "attach-log",
			Usage: "Attach the run log to the summary email",
		},
		&cli.StringFlag{
			Name:  "cleanup-path",
			Usage: "Remote path passed to rclone cleanup after a successful sync",
		},
		&cli.StringFlag{
			Name:  "metrics-dir",
			Usage: "node_exporter textfile directory for Prometheus metrics",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logging",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "Disable colored console output",
		},
	}

	if mode == types.ModeSync {
		flags = append(flags, &cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Pass --dry-run to rclone, no files are modified",
		})
	}

	return &cli.Command{
		Name:  mode.String(),
		Usage: usage,
		Flags: flags,
		Action: func(c *cli.Context) error {
			return runMode(c, mode)
		},
	}
}

func runMode(c *cli.Context, mode types.Mode) error {
	bootstrap := logging.NewBootstrapLogger()

	settingsPath := ""
	if c.IsSet("settings") {
		settingsPath = c.String("settings")
	}
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		bootstrap.Error("Failed to load settings: %v", err)
		return cli.Exit(fmt.Sprintf("rclonebb: %v", err), types.ExitConfigError.Int())
	}
	if settings.Path != "" {
		bootstrap.Debug("Settings loaded from %s", settings.Path)
	}

	cfg := config.NewRunConfiguration(settings)
	cfg.Mode = mode
	applyFlags(c, cfg)

	if err := cfg.Validate(); err != nil {
		bootstrap.Error("Invalid configuration: %v", err)
		return cli.Exit(fmt.Sprintf("rclonebb: %v", err), types.ExitConfigError.Int())
	}

	level := cfg.DebugLevel
	if c.Bool("debug") {
		level = types.LogLevelDebug
	}
	useColor := cfg.UseColor && !c.Bool("no-color")

	logger := logging.New(level, useColor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(cfg, logger)
	orch.SetVersion(version.String())
	orch.SetBootstrap(bootstrap)

	code := orch.Run(ctx)
	if code != types.ExitSuccess {
		return cli.Exit("", code.Int())
	}
	return nil
}

// applyFlags overlays explicitly set CLI flags onto the configuration
// assembled from the settings file. Flags always win.
func applyFlags(c *cli.Context, cfg *config.RunConfiguration) {
	if c.IsSet("local-dir") {
		cfg.LocalDir = c.String("local-dir")
	}
	if c.IsSet("remote-bucket") {
		cfg.RemoteBucket = c.String("remote-bucket")
	}
	if c.IsSet("transfers") {
		cfg.Transfers = c.Int("transfers")
	}
	if c.IsSet("exclude-from") {
		cfg.ExcludeFile = c.String("exclude-from")
	}
	if c.IsSet("min-age") {
		cfg.MinAge = c.String("min-age")
	}
	if c.IsSet("email") {
		recipient := c.String("email")
		cfg.EmailRecipient = recipient
		cfg.EmailEnabled = recipient != ""
	}
	if c.IsSet("rclone-config") {
		cfg.RcloneConfig = c.String("rclone-config")
	}
	if c.IsSet("rclone-path") {
		cfg.RclonePath = c.String("rclone-path")
	}
	if c.IsSet("log-dir") {
		cfg.LogDir = c.String("log-dir")
	}
	if c.IsSet("max-log-files") {
		cfg.MaxLogFiles = c.Int("max-log-files")
	}
	if c.IsSet("compress-log") {
		cfg.CompressLog = c.Bool("compress-log")
	}
	if c.IsSet("encrypt-log") {
		cfg.EncryptLog = c.Bool("encrypt-log")
	}
	if c.IsSet("attach-log") {
		cfg.AttachLog = c.Bool("attach-log")
	}
	if c.IsSet("cleanup-path") {
		cfg.CleanupPath = c.String("cleanup-path")
	}
	if c.IsSet("metrics-dir") {
		cfg.MetricsPath = c.String("metrics-dir")
	}
	if c.IsSet("dry-run") {
		cfg.DryRun = c.Bool("dry-run")
	}
}
