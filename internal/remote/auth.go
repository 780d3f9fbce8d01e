package remote

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// PasswordPrompt asks the operator for a secret
type PasswordPrompt func(prompt string) (string, error)

// TerminalPrompt reads a password from the controlling terminal with echo disabled
func TerminalPrompt(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for password prompt (set target.password or target.password_file)")
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// authMethods builds the SSH auth chain: public key first, then password
// (also offered through keyboard-interactive).
func authMethods(opts Options) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if opts.KeyFile != "" {
		signer, err := loadSigner(opts.KeyFile, opts.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	password, err := passwordSource(opts)
	if err != nil {
		return nil, err
	}
	if password != nil {
		methods = append(methods,
			ssh.PasswordCallback(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				if len(questions) == 0 {
					return answers, nil
				}
				p, err := password()
				if err != nil {
					return nil, err
				}
				for i := range answers {
					answers[i] = p
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, errors.New("no ssh authentication method configured")
	}
	return methods, nil
}

// passwordSource returns a memoized password getter, or nil when no
// password-based authentication is available.
func passwordSource(opts Options) (func() (string, error), error) {
	switch {
	case opts.Password != "":
		p := opts.Password
		return func() (string, error) { return p, nil }, nil

	case opts.PasswordFile != "":
		p, err := readSecretFile(opts.PasswordFile)
		if err != nil {
			return nil, err
		}
		return func() (string, error) { return p, nil }, nil

	case opts.Prompt != nil && opts.KeyFile == "":
		var (
			once     sync.Once
			password string
			err      error
		)
		prompt := fmt.Sprintf("%s@%s's password: ", opts.User, opts.Address)
		return func() (string, error) {
			once.Do(func() { password, err = opts.Prompt(prompt) })
			return password, err
		}, nil
	}
	return nil, nil
}

// readSecretFile reads a secret and strips trailing newlines
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read password file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("ssh key %s is encrypted, set target.ssh_key_passphrase", path)
		}
		return nil, fmt.Errorf("failed to parse ssh key %s: %w", path, err)
	}
	return signer, nil
}
