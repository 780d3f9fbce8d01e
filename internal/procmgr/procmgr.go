package procmgr

import (
	"fmt"

	"github.com/schaermu/vpsdeploy/internal/remote"
)

// Manager renders the remote commands that drive a process manager
type Manager interface {
	// ActivateCommand installs dependencies in dir, then restarts the
	// application or starts it for the first time
	ActivateCommand(dir string) string
	// StatusCommand describes the managed application
	StatusCommand() string
}

// PM2 implements Manager for the pm2 process manager
type PM2 struct {
	bin            string
	process        string
	startCommand   string
	installCommand string
}

// NewPM2 creates a pm2 manager for the named process.
// bin may be a multi-word command such as "npx pm2".
func NewPM2(bin, process, startCommand, installCommand string) *PM2 {
	if bin == "" {
		bin = "pm2"
	}
	return &PM2{
		bin:            bin,
		process:        process,
		startCommand:   startCommand,
		installCommand: installCommand,
	}
}

// ActivateCommand returns
//
//	cd DIR && INSTALL && { pm2 restart NAME || pm2 start 'START' --name NAME; }
//
// The fallback start only runs when the restart fails, i.e. when the
// process is not registered yet. A failed install skips both.
func (p *PM2) ActivateCommand(dir string) string {
	restart := fmt.Sprintf("%s restart %s", p.bin, remote.ShellQuote(p.process))
	start := fmt.Sprintf("%s start %s --name %s", p.bin, remote.ShellQuote(p.startCommand), remote.ShellQuote(p.process))

	cmd := "cd " + remote.ShellQuote(dir)
	if p.installCommand != "" {
		cmd += " && " + p.installCommand
	}
	return fmt.Sprintf("%s && { %s || %s; }", cmd, restart, start)
}

// StatusCommand returns the pm2 describe invocation for the process
func (p *PM2) StatusCommand() string {
	return fmt.Sprintf("%s describe %s", p.bin, remote.ShellQuote(p.process))
}
