package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/schaermu/vpsdeploy/internal/build"
	"github.com/schaermu/vpsdeploy/internal/config"
	"github.com/schaermu/vpsdeploy/internal/deploy"
	"github.com/schaermu/vpsdeploy/internal/procmgr"
	"github.com/schaermu/vpsdeploy/internal/remote"
	"github.com/schaermu/vpsdeploy/internal/tree"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
	skipBuild bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vpsdeploy",
	Short: "Build a Node.js project and deploy it to a VPS over SSH",
	Long: `vpsdeploy builds a project locally, mirrors the build tree to a remote
directory over SFTP and restarts the application with pm2.

The remote secrets file (.env) survives every deploy. When it does not exist
yet, the local fallback (.env.local) is uploaded in its place.`,
	SilenceUsage: true,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Build, upload and restart the application",
	Long: `Deploy runs the local build, connects to the target host, makes sure the
secrets file is in place, empties the remote directory (keeping the secrets
file), uploads every non-excluded file and finally installs dependencies and
restarts the pm2 process.`,
	RunE: runDeploy,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "List the files a deploy would upload",
	Args:  cobra.NoArgs,
	RunE:  runPlan,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pm2 status of the deployed application",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vpsdeploy %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./deploy.yaml, then $HOME/.config/vpsdeploy/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format (text, json, auto)")

	// Deploy command flags
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without building or connecting")
	deployCmd.Flags().BoolVar(&skipBuild, "skip-build", false, "upload the existing build output without rebuilding")

	// Add commands
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create dependencies
	builder := build.NewShellBuilder(cfg.Build.Command, logger)
	manager := newManager(cfg)

	// Create deploy engine
	engine := deploy.NewEngine(cfg, builder, newDialer(cfg, logger), manager, logger,
		deploy.Options{DryRun: dryRun, SkipBuild: skipBuild})

	// Run deploy
	report, err := engine.Run(ctx)
	if err != nil {
		attrs := []any{"error", err}
		if step, ok := deploy.FailedStep(err); ok {
			attrs = append(attrs, "step", step)
		}
		if errors.Is(err, deploy.ErrMissingSecret) {
			attrs = append(attrs, "hint", fmt.Sprintf("create %s or place %s on the server", cfg.LocalFallbackPath(), cfg.RemoteSecretsPath()))
		}
		logger.Error("deploy failed", attrs...)
		return err
	}

	if report.Activation != nil && !report.Activation.Success() {
		logger.Warn("activation command exited non-zero, check the application on the server",
			"exit_code", report.Activation.ExitCode)
	}

	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := deploy.NewEngine(cfg, nil, nil, newManager(cfg), logger, deploy.Options{DryRun: true})
	entries, err := engine.Plan()
	if err != nil {
		return fmt.Errorf("failed to plan deploy: %w", err)
	}

	return printPlan(cmd.OutOrStdout(), entries)
}

func printPlan(w io.Writer, entries []tree.Entry) error {
	for _, entry := range entries {
		if _, err := fmt.Fprintf(w, "%-4s %s\n", entry.Kind, entry.RemotePath); err != nil {
			return err
		}
	}
	summary := tree.Summarize(entries)
	_, err := fmt.Fprintf(w, "%d files, %d directories, %d bytes\n", summary.Files, summary.Dirs, summary.Bytes)
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	session, err := newDialer(cfg, logger)(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		_ = session.Close()
	}()

	out, err := session.Run(ctx, newManager(cfg).StatusCommand())
	if err != nil {
		return fmt.Errorf("failed to query process status: %w", err)
	}

	_, _ = io.WriteString(cmd.OutOrStdout(), out.Stdout)
	if !out.Success() {
		return fmt.Errorf("process %q not found (exit code %d)", cfg.Activate.ProcessName, out.ExitCode)
	}
	return nil
}

func newManager(cfg *config.Config) procmgr.Manager {
	return procmgr.NewPM2(cfg.Activate.PM2Command, cfg.Activate.ProcessName,
		cfg.Activate.StartCommand, cfg.Activate.InstallCommand)
}

// newDialer returns a deploy.Dialer connecting with the configured target
func newDialer(cfg *config.Config, logger *slog.Logger) deploy.Dialer {
	opts := remote.Options{
		Address:        cfg.Address(),
		User:           cfg.Target.User,
		Password:       cfg.Target.Password,
		PasswordFile:   cfg.Target.PasswordFile,
		KeyFile:        cfg.Target.SSHKeyFile,
		KeyPassphrase:  cfg.Target.SSHKeyPassphrase,
		KnownHostsFile: cfg.Target.KnownHostsFile,
		Timeout:        cfg.Target.DialTimeout,
		Prompt:         remote.TerminalPrompt,
	}

	return func(ctx context.Context) (remote.Session, error) {
		client, err := remote.Dial(ctx, opts, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if resolveLogFormat(logFormat, term.IsTerminal(int(os.Stdout.Fd()))) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// resolveLogFormat maps "auto" to text on a terminal and json elsewhere
func resolveLogFormat(format string, isTerminal bool) string {
	switch format {
	case "json":
		return "json"
	case "auto":
		if isTerminal {
			return "text"
		}
		return "json"
	default:
		return "text"
	}
}

// defaultConfigPath prefers deploy.yaml in the working directory
func defaultConfigPath() (string, error) {
	if _, err := os.Stat(config.DefaultFileName); err == nil {
		return filepath.Abs(config.DefaultFileName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vpsdeploy", "config.yaml"), nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		var err error
		if configPath, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"host", cfg.Target.Host,
		"user", cfg.Target.User,
		"remote_dir", cfg.Target.RemoteDir,
		"project_dir", cfg.Build.Dir,
		"process", cfg.Activate.ProcessName,
		"auth", cfg.AuthMethod())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
