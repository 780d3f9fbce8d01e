package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the project-local configuration file name
const DefaultFileName = "deploy.yaml"

// Default exclusion set applied when sync.exclude is empty
var DefaultExcludes = []string{
	"node_modules",
	".git",
	".open-next",
	"__pycache__",
	".cache",
}

// Config represents the complete vpsdeploy configuration
type Config struct {
	Target   TargetConfig   `yaml:"target"`
	Build    BuildConfig    `yaml:"build"`
	Sync     SyncConfig     `yaml:"sync"`
	Activate ActivateConfig `yaml:"activate"`

	// path the configuration was loaded from, excluded from sync
	source string
}

// TargetConfig configures how to reach and authenticate to the deploy host
type TargetConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	User             string        `yaml:"user"`
	Password         string        `yaml:"password"`
	PasswordFile     string        `yaml:"password_file"`
	SSHKeyFile       string        `yaml:"ssh_key_file"`
	SSHKeyPassphrase string        `yaml:"ssh_key_passphrase"`
	KnownHostsFile   string        `yaml:"known_hosts_file"`
	RemoteDir        string        `yaml:"remote_dir"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
}

// BuildConfig configures the local build step
type BuildConfig struct {
	Command []string `yaml:"command"`
	Dir     string   `yaml:"dir"`
}

// SyncConfig configures tree mirroring and secret preservation
type SyncConfig struct {
	Exclude         []string `yaml:"exclude"`
	SecretsFile     string   `yaml:"secrets_file"`
	SecretsFallback string   `yaml:"secrets_fallback"`
	BackupPath      string   `yaml:"backup_path"`
}

// ActivateConfig configures the remote install and process manager restart
type ActivateConfig struct {
	InstallCommand string `yaml:"install_command"`
	ProcessName    string `yaml:"process_name"`
	StartCommand   string `yaml:"start_command"`
	PM2Command     string `yaml:"pm2_command"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		cfg.source = abs
	} else {
		cfg.source = path
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Relative build dirs are resolved against the config file location
	if cfg.Build.Dir != "" && !filepath.IsAbs(cfg.Build.Dir) {
		cfg.Build.Dir = filepath.Join(filepath.Dir(cfg.source), cfg.Build.Dir)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Target.Host = os.ExpandEnv(c.Target.Host)
	c.Target.User = os.ExpandEnv(c.Target.User)
	c.Target.Password = os.ExpandEnv(c.Target.Password)
	c.Target.PasswordFile = os.ExpandEnv(c.Target.PasswordFile)
	c.Target.SSHKeyFile = os.ExpandEnv(c.Target.SSHKeyFile)
	c.Target.SSHKeyPassphrase = os.ExpandEnv(c.Target.SSHKeyPassphrase)
	c.Target.KnownHostsFile = os.ExpandEnv(c.Target.KnownHostsFile)
	c.Target.RemoteDir = os.ExpandEnv(c.Target.RemoteDir)
	c.Build.Dir = os.ExpandEnv(c.Build.Dir)
	for i, arg := range c.Build.Command {
		c.Build.Command[i] = os.ExpandEnv(arg)
	}
	c.Sync.SecretsFile = os.ExpandEnv(c.Sync.SecretsFile)
	c.Sync.SecretsFallback = os.ExpandEnv(c.Sync.SecretsFallback)
	c.Sync.BackupPath = os.ExpandEnv(c.Sync.BackupPath)
	c.Activate.ProcessName = os.ExpandEnv(c.Activate.ProcessName)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Target.Port == 0 {
		c.Target.Port = 22
	}
	if c.Target.DialTimeout == 0 {
		c.Target.DialTimeout = 30 * time.Second
	}
	c.Target.RemoteDir = strings.TrimRight(c.Target.RemoteDir, "/")

	if len(c.Build.Command) == 0 {
		c.Build.Command = []string{"pnpm", "build"}
	}
	// A project-local deploy.yaml marks the project root, any other
	// config file applies to the directory vpsdeploy is run from
	if c.Build.Dir == "" {
		if c.source != "" && filepath.Base(c.source) == DefaultFileName {
			c.Build.Dir = filepath.Dir(c.source)
		} else if wd, err := os.Getwd(); err == nil {
			c.Build.Dir = wd
		}
	}

	if len(c.Sync.Exclude) == 0 {
		c.Sync.Exclude = append([]string(nil), DefaultExcludes...)
	}
	if c.Sync.SecretsFile == "" {
		c.Sync.SecretsFile = ".env"
	}
	if c.Sync.SecretsFallback == "" {
		c.Sync.SecretsFallback = c.Sync.SecretsFile + ".local"
	}
	if c.Sync.BackupPath == "" {
		c.Sync.BackupPath = "/tmp/" + c.Sync.SecretsFile + ".backup"
	}

	if c.Activate.InstallCommand == "" {
		c.Activate.InstallCommand = "pnpm install --frozen-lockfile"
	}
	if c.Activate.StartCommand == "" {
		c.Activate.StartCommand = "pnpm start"
	}
	if c.Activate.PM2Command == "" {
		c.Activate.PM2Command = "pm2"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate target
	if c.Target.Host == "" {
		return fmt.Errorf("target.host is required")
	}
	if c.Target.User == "" {
		return fmt.Errorf("target.user is required")
	}
	if c.Target.Port < 1 || c.Target.Port > 65535 {
		return fmt.Errorf("target.port out of range: %d", c.Target.Port)
	}
	if c.Target.RemoteDir == "" {
		return fmt.Errorf("target.remote_dir is required")
	}
	if !path.IsAbs(c.Target.RemoteDir) {
		return fmt.Errorf("target.remote_dir must be an absolute path: %s", c.Target.RemoteDir)
	}
	if c.Target.RemoteDir == "/" || strings.ContainsAny(c.Target.RemoteDir, "*?[") {
		return fmt.Errorf("target.remote_dir is not a safe deploy directory: %s", c.Target.RemoteDir)
	}

	// Validate auth: password sources are mutually exclusive
	if c.Target.Password != "" && c.Target.PasswordFile != "" {
		return fmt.Errorf("target: only one of password or password_file may be set")
	}

	// Validate build
	if len(c.Build.Command) == 0 || c.Build.Command[0] == "" {
		return fmt.Errorf("build.command must name a program")
	}

	// Validate sync
	for _, name := range c.Sync.Exclude {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("sync.exclude entries must be plain names: %q", name)
		}
	}
	if strings.Contains(c.Sync.SecretsFile, "/") {
		return fmt.Errorf("sync.secrets_file must be a plain file name: %s", c.Sync.SecretsFile)
	}
	if !path.IsAbs(c.Sync.BackupPath) {
		return fmt.Errorf("sync.backup_path must be an absolute path: %s", c.Sync.BackupPath)
	}
	if path.Dir(c.Sync.BackupPath) == c.Target.RemoteDir || strings.HasPrefix(c.Sync.BackupPath, c.Target.RemoteDir+"/") {
		return fmt.Errorf("sync.backup_path must be outside target.remote_dir: %s", c.Sync.BackupPath)
	}

	// Validate activation
	if c.Activate.ProcessName == "" {
		return fmt.Errorf("activate.process_name is required")
	}

	return nil
}

// Address returns the host:port pair to dial
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Target.Host, c.Target.Port)
}

// Source returns the absolute path of the loaded configuration file, if any
func (c *Config) Source() string {
	return c.source
}

// RemoteSecretsPath returns the absolute remote path of the secrets file
func (c *Config) RemoteSecretsPath() string {
	return c.Target.RemoteDir + "/" + c.Sync.SecretsFile
}

// LocalFallbackPath returns the local path of the fallback secrets file
func (c *Config) LocalFallbackPath() string {
	return filepath.Join(c.Build.Dir, c.Sync.SecretsFallback)
}

// ExcludedNames returns the full exclusion set: the configured names, the
// secrets file pair and the configuration file itself when it lives in the
// project root.
func (c *Config) ExcludedNames() []string {
	names := append([]string(nil), c.Sync.Exclude...)
	names = append(names, c.Sync.SecretsFile, c.Sync.SecretsFallback)
	if c.source != "" && filepath.Dir(c.source) == filepath.Clean(c.Build.Dir) {
		names = append(names, filepath.Base(c.source))
	}
	return names
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	var methods []string
	if c.Target.SSHKeyFile != "" {
		methods = append(methods, "publickey")
	}
	if c.Target.Password != "" || c.Target.PasswordFile != "" {
		methods = append(methods, "password")
	}
	if len(methods) == 0 {
		return "interactive"
	}
	return strings.Join(methods, "+")
}
