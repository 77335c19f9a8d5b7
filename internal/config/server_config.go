package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppVersion is the application version, can be set at build time or runtime
var AppVersion = "dev"

// ServerConfig holds all configuration for the fixdeploy server
type ServerConfig struct {
	// Server settings
	Port  int  `json:"port" env:"FIXDEPLOY_PORT" flag:"port" default:"8080" desc:"Server port"`
	Debug bool `json:"debug" env:"FIXDEPLOY_DEBUG" flag:"debug" default:"false" desc:"Enable debug mode"`

	// Content paths
	TemplateDir     string `json:"template_dir" env:"FIXDEPLOY_TEMPLATE_DIR" flag:"template-dir" default:"~/.fixdeploy/templates" desc:"Deployment template directory"`
	FixFilesDir     string `json:"fix_files_dir" env:"FIXDEPLOY_FIX_FILES_DIR" flag:"fix-files-dir" default:"~/.fixdeploy/fix_files" desc:"Fix files root directory"`
	InventoryFile   string `json:"inventory_file" env:"FIXDEPLOY_INVENTORY_FILE" flag:"inventory-file" default:"~/.fixdeploy/inventory.json" desc:"Host inventory file"`
	DBInventoryFile string `json:"db_inventory_file" env:"FIXDEPLOY_DB_INVENTORY_FILE" flag:"db-inventory-file" default:"~/.fixdeploy/db_inventory.json" desc:"Database inventory file"`
	HistoryFile     string `json:"history_file" env:"FIXDEPLOY_HISTORY_FILE" flag:"history-file" default:"~/.fixdeploy/deployment_history.json" desc:"Deployment history file"`
	LogFile         string `json:"log_file" env:"FIXDEPLOY_LOG_FILE" flag:"log-file" default:"" desc:"Log file path"` // empty = stdout

	// Ansible settings
	AnsibleInventoryPath string `json:"ansible_inventory_path" env:"FIXDEPLOY_ANSIBLE_INVENTORY" flag:"ansible-inventory" default:"/etc/ansible/hosts" desc:"Ansible inventory path for playbook runs"`
	VaultPasswordFile    string `json:"vault_password_file" env:"FIXDEPLOY_VAULT_PASSWORD_FILE" flag:"vault-password-file" default:"" desc:"Ansible vault password file"`
	ExtraVarsFile        string `json:"extra_vars_file" env:"FIXDEPLOY_EXTRA_VARS_FILE" flag:"extra-vars-file" default:"" desc:"Ansible extra vars file"`
	TargetGroup          string `json:"target_group" env:"FIXDEPLOY_TARGET_GROUP" flag:"target-group" default:"batch1" desc:"Inventory group playbook and helm steps run against"`
	RunUser              string `json:"run_user" env:"FIXDEPLOY_RUN_USER" flag:"run-user" default:"infadm" desc:"Remote user for ansible runs"`
	Forks                int    `json:"forks" env:"FIXDEPLOY_FORKS" flag:"forks" default:"5" desc:"Ansible parallelism"`

	// Execution settings
	Execution ExecutionConfig `json:"execution"`

	// Queue configuration
	Queue QueueConfig `json:"queue"`

	// Daemon settings
	DaemonMode bool   `json:"daemon_mode" flag:"daemon" default:"false" desc:"Run in daemon mode"`
	PIDFile    string `json:"pid_file" env:"FIXDEPLOY_PID_FILE" flag:"pid-file" default:"" desc:"PID file path"`
}

// ExecutionConfig holds step execution configuration
type ExecutionConfig struct {
	StepTimeout     time.Duration `json:"step_timeout" env:"FIXDEPLOY_STEP_TIMEOUT" default:"5m" desc:"Timeout for file, SQL, and service steps"`
	PlaybookTimeout time.Duration `json:"playbook_timeout" env:"FIXDEPLOY_PLAYBOOK_TIMEOUT" default:"10m" desc:"Timeout for playbook and helm steps"`
	VerifyChecksums bool          `json:"verify_checksums" env:"FIXDEPLOY_VERIFY_CHECKSUMS" default:"true" desc:"Verify file checksums after copy"`
}

// QueueConfig holds queue system configuration
type QueueConfig struct {
	Capacity int `json:"capacity" env:"FIXDEPLOY_QUEUE_CAPACITY" flag:"queue-capacity" default:"100" desc:"Deployment queue capacity"`
	Workers  int `json:"workers" env:"FIXDEPLOY_QUEUE_WORKERS" flag:"queue-workers" default:"1" desc:"Number of deployment workers"`
}

// NewServerConfig creates a new server configuration with defaults
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:                 8080,
		Debug:                false,
		TemplateDir:          "~/.fixdeploy/templates",
		FixFilesDir:          "~/.fixdeploy/fix_files",
		InventoryFile:        "~/.fixdeploy/inventory.json",
		DBInventoryFile:      "~/.fixdeploy/db_inventory.json",
		HistoryFile:          "~/.fixdeploy/deployment_history.json",
		LogFile:              "",
		AnsibleInventoryPath: "/etc/ansible/hosts",
		TargetGroup:          "batch1",
		RunUser:              "infadm",
		Forks:                5,
		Execution: ExecutionConfig{
			StepTimeout:     5 * time.Minute,
			PlaybookTimeout: 10 * time.Minute,
			VerifyChecksums: true,
		},
		Queue: QueueConfig{
			Capacity: 100,
			Workers:  1,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *ServerConfig) LoadFromEnv() error { //nolint:funlen,gocognit,gocyclo // Configuration loading function with many environment variables
	// Port
	if port := os.Getenv("FIXDEPLOY_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
			return fmt.Errorf("invalid FIXDEPLOY_PORT value: %s", port)
		}
		c.Port = p
	}

	// Debug
	if debug := os.Getenv("FIXDEPLOY_DEBUG"); debug != "" {
		switch strings.ToLower(debug) {
		case "true", "1", "yes", "on":
			c.Debug = true
		case "false", "0", "no", "off":
			c.Debug = false
		default:
			return fmt.Errorf("invalid FIXDEPLOY_DEBUG value: %s", debug)
		}
	}

	// Paths
	if templateDir := os.Getenv("FIXDEPLOY_TEMPLATE_DIR"); templateDir != "" {
		c.TemplateDir = templateDir
	}
	if fixFilesDir := os.Getenv("FIXDEPLOY_FIX_FILES_DIR"); fixFilesDir != "" {
		c.FixFilesDir = fixFilesDir
	}
	if inventoryFile := os.Getenv("FIXDEPLOY_INVENTORY_FILE"); inventoryFile != "" {
		c.InventoryFile = inventoryFile
	}
	if dbInventoryFile := os.Getenv("FIXDEPLOY_DB_INVENTORY_FILE"); dbInventoryFile != "" {
		c.DBInventoryFile = dbInventoryFile
	}
	if historyFile := os.Getenv("FIXDEPLOY_HISTORY_FILE"); historyFile != "" {
		c.HistoryFile = historyFile
	}
	if logFile := os.Getenv("FIXDEPLOY_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}

	// Ansible
	if inv := os.Getenv("FIXDEPLOY_ANSIBLE_INVENTORY"); inv != "" {
		c.AnsibleInventoryPath = inv
	}
	if vault := os.Getenv("FIXDEPLOY_VAULT_PASSWORD_FILE"); vault != "" {
		c.VaultPasswordFile = vault
	}
	if extraVars := os.Getenv("FIXDEPLOY_EXTRA_VARS_FILE"); extraVars != "" {
		c.ExtraVarsFile = extraVars
	}
	if group := os.Getenv("FIXDEPLOY_TARGET_GROUP"); group != "" {
		c.TargetGroup = group
	}
	if user := os.Getenv("FIXDEPLOY_RUN_USER"); user != "" {
		c.RunUser = user
	}
	if forks := os.Getenv("FIXDEPLOY_FORKS"); forks != "" {
		if f, err := strconv.Atoi(forks); err == nil {
			c.Forks = f
		}
	}

	// Execution
	if timeout := os.Getenv("FIXDEPLOY_STEP_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid FIXDEPLOY_STEP_TIMEOUT value: %s", timeout)
		}
		c.Execution.StepTimeout = d
	}
	if timeout := os.Getenv("FIXDEPLOY_PLAYBOOK_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid FIXDEPLOY_PLAYBOOK_TIMEOUT value: %s", timeout)
		}
		c.Execution.PlaybookTimeout = d
	}
	if verify := os.Getenv("FIXDEPLOY_VERIFY_CHECKSUMS"); verify != "" {
		c.Execution.VerifyChecksums = parseBool(verify)
	}

	// Queue
	if capacity := os.Getenv("FIXDEPLOY_QUEUE_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			c.Queue.Capacity = n
		}
	}
	if workers := os.Getenv("FIXDEPLOY_QUEUE_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			c.Queue.Workers = n
		}
	}

	// PID file
	if pidFile := os.Getenv("FIXDEPLOY_PID_FILE"); pidFile != "" {
		c.PIDFile = pidFile
	}

	return nil
}

// ExpandPaths expands all paths in the configuration (~ to home directory)
func (c *ServerConfig) ExpandPaths() error {
	var err error

	c.TemplateDir, err = expandPath(c.TemplateDir)
	if err != nil {
		return fmt.Errorf("failed to expand template_dir: %w", err)
	}

	c.FixFilesDir, err = expandPath(c.FixFilesDir)
	if err != nil {
		return fmt.Errorf("failed to expand fix_files_dir: %w", err)
	}

	c.InventoryFile, err = expandPath(c.InventoryFile)
	if err != nil {
		return fmt.Errorf("failed to expand inventory_file: %w", err)
	}

	c.DBInventoryFile, err = expandPath(c.DBInventoryFile)
	if err != nil {
		return fmt.Errorf("failed to expand db_inventory_file: %w", err)
	}

	c.HistoryFile, err = expandPath(c.HistoryFile)
	if err != nil {
		return fmt.Errorf("failed to expand history_file: %w", err)
	}

	if c.LogFile != "" {
		c.LogFile, err = expandPath(c.LogFile)
		if err != nil {
			return fmt.Errorf("failed to expand log_file: %w", err)
		}
	}

	if c.PIDFile == "" {
		// Default PID file location
		c.PIDFile = filepath.Join(os.TempDir(), "fixdeploy-server.pid")
	} else {
		c.PIDFile, err = expandPath(c.PIDFile)
		if err != nil {
			return fmt.Errorf("failed to expand pid_file: %w", err)
		}
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.TemplateDir == "" {
		return fmt.Errorf("template directory cannot be empty")
	}
	if c.FixFilesDir == "" {
		return fmt.Errorf("fix files directory cannot be empty")
	}
	if c.InventoryFile == "" {
		return fmt.Errorf("inventory file cannot be empty")
	}
	if c.HistoryFile == "" {
		return fmt.Errorf("history file cannot be empty")
	}
	if c.TargetGroup == "" {
		return fmt.Errorf("target group cannot be empty")
	}
	if c.RunUser == "" {
		return fmt.Errorf("run user cannot be empty")
	}
	if c.Forks < 1 {
		return fmt.Errorf("forks must be positive: %d", c.Forks)
	}

	if c.Execution.StepTimeout <= 0 {
		return fmt.Errorf("step timeout must be positive")
	}
	if c.Execution.PlaybookTimeout <= 0 {
		return fmt.Errorf("playbook timeout must be positive")
	}

	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue capacity must be positive: %d", c.Queue.Capacity)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be positive: %d", c.Queue.Workers)
	}

	return nil
}

// GetLogPath returns the full path for the log file, handling defaults
func (c *ServerConfig) GetLogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	if c.DaemonMode {
		// Default log file for daemon mode
		return filepath.Join(os.TempDir(), "fixdeploy-server.log")
	}
	return "" // stdout
}

// ToJSON returns the configuration as a JSON string
func (c *ServerConfig) ToJSON() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// GetSanitized returns a sanitized version of the config safe for logging
func (c *ServerConfig) GetSanitized() map[string]interface{} {
	// Only return non-sensitive configuration
	sanitized := map[string]interface{}{
		"port":         c.Port,
		"debug":        c.Debug,
		"daemon_mode":  c.DaemonMode,
		"target_group": c.TargetGroup,
		"workers":      c.Queue.Workers,
	}

	// In debug mode, include configuration status without path values
	if c.Debug {
		sanitized["templates_configured"] = c.TemplateDir != ""
		sanitized["inventory_configured"] = c.InventoryFile != ""
		sanitized["db_inventory_configured"] = c.DBInventoryFile != ""
		sanitized["history_configured"] = c.HistoryFile != ""
		sanitized["log_configured"] = c.GetLogPath() != ""
		sanitized["vault_configured"] = c.VaultPasswordFile != ""
		sanitized["extra_vars_configured"] = c.ExtraVarsFile != ""
		sanitized["verify_checksums"] = c.Execution.VerifyChecksums
		sanitized["step_timeout"] = c.Execution.StepTimeout.String()
		sanitized["playbook_timeout"] = c.Execution.PlaybookTimeout.String()
	}

	return sanitized
}

// expandPath expands ~ to the home directory
func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	return filepath.Clean(path), nil
}

// WriteConfigInfo writes configuration info to a well-known location for debugging
func (c *ServerConfig) WriteConfigInfo() error {
	info := struct {
		StartedAt string                 `json:"started_at"`
		PID       int                    `json:"pid"`
		Version   string                 `json:"version"`
		Config    map[string]interface{} `json:"config"`
	}{
		StartedAt: time.Now().Format(time.RFC3339),
		PID:       os.Getpid(),
		Version:   AppVersion,
		Config:    c.GetSanitized(),
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config info: %w", err)
	}

	// Check for custom path from environment
	infoPath := os.Getenv("FIXDEPLOY_INFO_FILE")
	if infoPath == "" {
		// Fall back to temp directory
		infoPath = filepath.Join(os.TempDir(), "fixdeploy.info")
	}

	// Expand ~ if present
	expanded, err := expandPath(infoPath)
	if err == nil {
		infoPath = expanded
	}

	if err := os.WriteFile(infoPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write server info: %w", err)
	}
	return nil
}

// GetPIDPath returns just the PID file path from environment
// This is a lightweight alternative to loading the full config
func GetPIDPath() string {
	pidFile := os.Getenv("FIXDEPLOY_PID_FILE")
	if pidFile != "" {
		expanded, err := expandPath(pidFile)
		if err == nil {
			return expanded
		}
		// Fall through to default on error
	}

	// Default PID file location
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/fixdeploy.pid"
	}
	return filepath.Join(home, ".fixdeploy", "fixdeploy.pid")
}

// GetPort returns just the port from environment
// This is a lightweight alternative to loading the full config
func GetPort() int {
	portStr := os.Getenv("FIXDEPLOY_PORT")
	if portStr == "" {
		return 8080 // default
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 8080 // default on error
	}

	return port
}

// parseBool parses a string to bool with more lenient handling
func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on", "enabled":
		return true
	case "false", "0", "no", "off", "disabled", "":
		return false
	default:
		return false
	}
}
