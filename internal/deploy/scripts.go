package deploy

import (
	"fmt"
	"strings"

	"github.com/schaermu/vpsdeploy/internal/remote"
)

// backupFailedExit is the clean script's exit status when the secret
// could not be copied aside; nothing has been removed at that point.
const backupFailedExit = 97

// mkdirScript creates the deploy directory
func mkdirScript(dir string) string {
	return "mkdir -p " + remote.ShellQuote(dir)
}

// secretExistsScript prints "exists" when the secrets file is present
func secretExistsScript(secretPath string) string {
	return fmt.Sprintf("test -f %s && echo exists", remote.ShellQuote(secretPath))
}

// cleanScript empties dir, including dotfiles, while carrying the secrets
// file across through backupPath.
func cleanScript(dir, secretPath, backupPath string) string {
	d := remote.ShellQuote(dir)
	s := remote.ShellQuote(secretPath)
	b := remote.ShellQuote(backupPath)

	return strings.Join([]string{
		fmt.Sprintf("if [ -f %s ]; then cp -p %s %s || exit %d; fi", s, s, b, backupFailedExit),
		fmt.Sprintf("rm -rf %s/* %s/.[!.]*", d, d),
		fmt.Sprintf("mkdir -p %s", d),
		fmt.Sprintf("if [ -f %s ]; then mv %s %s; fi", b, b, s),
	}, "\n")
}

// significantStderr drops the benign "No such file" noise of globs that
// matched nothing
func significantStderr(stderr string) string {
	var kept []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "No such file") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
