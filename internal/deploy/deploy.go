package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/schaermu/vpsdeploy/internal/build"
	"github.com/schaermu/vpsdeploy/internal/config"
	"github.com/schaermu/vpsdeploy/internal/filter"
	"github.com/schaermu/vpsdeploy/internal/procmgr"
	"github.com/schaermu/vpsdeploy/internal/remote"
	"github.com/schaermu/vpsdeploy/internal/tree"
)

// Dialer opens the remote session for one run
type Dialer func(ctx context.Context) (remote.Session, error)

// Engine orchestrates the deploy pipeline
type Engine struct {
	cfg     *config.Config
	builder build.Builder
	dial    Dialer
	manager procmgr.Manager
	local   billy.Filesystem
	filter  *filter.Filter
	logger  *slog.Logger
	opts    Options
}

// NewEngine creates a deploy engine reading the project from cfg.Build.Dir
func NewEngine(cfg *config.Config, builder build.Builder, dial Dialer, manager procmgr.Manager, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:     cfg,
		builder: builder,
		dial:    dial,
		manager: manager,
		local:   osfs.New(cfg.Build.Dir),
		filter:  filter.New(cfg.ExcludedNames()...),
		logger:  logger,
		opts:    opts,
	}
}

// Plan lazily lists every local path that would be uploaded
func (e *Engine) Plan() ([]tree.Entry, error) {
	return tree.Collect(tree.Walk(e.local, e.filter, e.cfg.Target.RemoteDir))
}

// Run executes the complete deploy: build, plan, connect, secure the
// secret, clean, sync and activate. The remote session is always closed.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	e.logger.Info("starting deploy",
		"host", e.cfg.Target.Host,
		"remote_dir", e.cfg.Target.RemoteDir,
		"project_dir", e.cfg.Build.Dir,
		"dry_run", e.opts.DryRun)

	// check for dry-run mode
	if e.opts.DryRun {
		if err := e.logPlanDetails(report); err != nil {
			return report, &StepError{Step: StepSync, Err: err}
		}
		e.logger.Info("dry-run complete, nothing built or uploaded")
		return report, nil
	}

	// Build locally before touching the network
	if e.opts.SkipBuild {
		e.logger.Info("skipping local build")
	} else {
		if err := e.builder.Build(ctx, e.cfg.Build.Dir); err != nil {
			return report, &StepError{Step: StepBuild, Err: err}
		}
		report.Built = true
	}

	// Walk the local tree before any remote change
	planned, err := e.Plan()
	if err != nil {
		return report, &StepError{Step: StepPlan, Err: err}
	}
	summary := tree.Summarize(planned)
	e.logger.Info("local tree planned",
		"files", summary.Files,
		"dirs", summary.Dirs,
		"bytes", summary.Bytes)

	// Connect
	e.logger.Info("connecting to remote host", "address", e.cfg.Address(), "user", e.cfg.Target.User)
	session, err := e.dial(ctx)
	if err != nil {
		return report, &StepError{Step: StepConnect, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			e.logger.Warn("failed to close remote session", "error", err)
			return
		}
		e.logger.Debug("remote session closed")
	}()
	e.logger.Info("connected", "auth", e.cfg.AuthMethod())

	if err := e.prepare(ctx, session); err != nil {
		return report, &StepError{Step: StepPrepare, Err: err}
	}

	uploaded, err := e.ensureSecret(ctx, session)
	if err != nil {
		return report, &StepError{Step: StepSecret, Err: err}
	}
	report.SecretUploaded = uploaded

	if err := e.clean(ctx, session); err != nil {
		return report, &StepError{Step: StepClean, Err: err}
	}

	if err := e.syncTree(ctx, session, report); err != nil {
		return report, &StepError{Step: StepSync, Err: err}
	}
	e.logger.Info("sync finished",
		"files", report.Uploaded,
		"bytes", report.Bytes,
		"dirs_created", report.DirsCreated)

	if err := e.activate(ctx, session, report); err != nil {
		return report, &StepError{Step: StepActivate, Err: err}
	}

	e.logger.Info("deploy completed successfully")
	return report, nil
}

// prepare makes sure the deploy directory exists
func (e *Engine) prepare(ctx context.Context, session remote.Session) error {
	out, err := session.Run(ctx, mkdirScript(e.cfg.Target.RemoteDir))
	if err != nil {
		return err
	}
	if !out.Success() {
		return fmt.Errorf("failed to create %s: %s", e.cfg.Target.RemoteDir, strings.TrimSpace(out.Stderr))
	}
	return nil
}

// ensureSecret uploads the local fallback when the remote secrets file is
// missing. It reports whether an upload happened.
func (e *Engine) ensureSecret(ctx context.Context, session remote.Session) (bool, error) {
	secretPath := e.cfg.RemoteSecretsPath()

	out, err := session.Run(ctx, secretExistsScript(secretPath))
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", secretPath, err)
	}
	if strings.TrimSpace(out.Stdout) == "exists" {
		e.logger.Info("remote secrets file present, preserving it", "path", secretPath)
		return false, nil
	}

	e.logger.Warn("remote secrets file missing, uploading local fallback",
		"path", secretPath,
		"fallback", e.cfg.LocalFallbackPath())

	f, err := e.local.Open(e.cfg.Sync.SecretsFallback)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("local secrets fallback not found, aborting before any remote change",
				"fallback", e.cfg.LocalFallbackPath())
			return false, fmt.Errorf("%w: %s missing and %s not found", ErrMissingSecret, secretPath, e.cfg.LocalFallbackPath())
		}
		return false, fmt.Errorf("failed to open %s: %w", e.cfg.LocalFallbackPath(), err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := session.Put(ctx, f, secretPath, 0o600); err != nil {
		return false, fmt.Errorf("failed to upload secrets file: %w", err)
	}

	e.logger.Info("secrets file uploaded", "path", secretPath)
	return true, nil
}

// clean empties the deploy directory except for the secrets file
func (e *Engine) clean(ctx context.Context, session remote.Session) error {
	e.logger.Info("cleaning remote directory", "dir", e.cfg.Target.RemoteDir, "keep", e.cfg.Sync.SecretsFile)

	script := cleanScript(e.cfg.Target.RemoteDir, e.cfg.RemoteSecretsPath(), e.cfg.Sync.BackupPath)
	out, err := session.Run(ctx, script)
	if err != nil {
		return err
	}

	if out.ExitCode == backupFailedExit {
		return fmt.Errorf("%w: %s", ErrBackupFailed, strings.TrimSpace(out.Stderr))
	}
	if msg := significantStderr(out.Stderr); msg != "" {
		e.logger.Warn("remote clean reported problems", "stderr", msg, "exit_code", out.ExitCode)
	} else if !out.Success() {
		e.logger.Warn("remote clean exited non-zero", "exit_code", out.ExitCode)
	}

	e.logger.Info("remote directory cleaned")
	return nil
}

// syncTree mirrors every included local path, strictly sequentially
func (e *Engine) syncTree(ctx context.Context, session remote.Session, report *Report) error {
	e.logger.Info("syncing files", "from", e.cfg.Build.Dir, "to", e.cfg.Target.RemoteDir)

	for entry, err := range tree.Walk(e.local, e.filter, e.cfg.Target.RemoteDir) {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		switch entry.Kind {
		case tree.KindDir:
			created, err := remote.EnsureDir(session, entry.RemotePath)
			if err != nil {
				return fmt.Errorf("failed to create directory %s: %w", entry.RemotePath, err)
			}
			if created {
				e.logger.Info("created directory", "dest", entry.RemotePath)
				report.DirsCreated++
			}

		case tree.KindFile:
			e.logger.Info("uploading file", "path", entry.Rel)
			if err := e.upload(ctx, session, entry); err != nil {
				return fmt.Errorf("failed to upload %s: %w", entry.Rel, err)
			}
			report.Uploaded++
			report.Bytes += entry.Size
		}
	}

	return nil
}

func (e *Engine) upload(ctx context.Context, session remote.Session, entry tree.Entry) error {
	f, err := e.local.Open(entry.Rel)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	return session.Put(ctx, f, entry.RemotePath, entry.Mode)
}

// activate installs dependencies and restarts the application. The
// command's exit status is surfaced but never fails the deploy.
func (e *Engine) activate(ctx context.Context, session remote.Session, report *Report) error {
	cmd := e.manager.ActivateCommand(e.cfg.Target.RemoteDir)
	e.logger.Info("installing dependencies and restarting application",
		"process", e.cfg.Activate.ProcessName)
	e.logger.Debug("activation command", "command", cmd)

	out, err := session.Run(ctx, cmd)
	if err != nil {
		return err
	}
	report.Activation = out

	if stdout := strings.TrimSpace(out.Stdout); stdout != "" {
		e.logger.Info("activation output", "stdout", stdout)
	}
	if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
		e.logger.Warn("activation stderr", "stderr", stderr)
	}
	e.logger.Info("activation command finished", "exit_code", out.ExitCode)

	return nil
}

// logPlanDetails logs what a real run would do
func (e *Engine) logPlanDetails(report *Report) error {
	entries, err := e.Plan()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Kind == tree.KindDir {
			e.logger.Info("[dry-run] would ensure directory", "dest", entry.RemotePath)
			continue
		}
		e.logger.Info("[dry-run] would upload", "path", entry.Rel, "dest", entry.RemotePath, "size", entry.Size)
	}

	summary := tree.Summarize(entries)
	report.Uploaded = summary.Files
	report.Bytes = summary.Bytes

	e.logger.Info("[dry-run] would run", "step", StepClean, "command", cleanScript(e.cfg.Target.RemoteDir, e.cfg.RemoteSecretsPath(), e.cfg.Sync.BackupPath))
	e.logger.Info("[dry-run] would run", "step", StepActivate, "command", e.manager.ActivateCommand(e.cfg.Target.RemoteDir))
	e.logger.Info("[dry-run] plan",
		"files", summary.Files,
		"dirs", summary.Dirs,
		"bytes", summary.Bytes,
		"excluded", e.filter.Names())
	return nil
}
