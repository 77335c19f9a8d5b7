package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fixdeploy/fixdeploy/internal/apiserver"
	"github.com/fixdeploy/fixdeploy/internal/config"
	"github.com/fixdeploy/fixdeploy/internal/deployment"
	"github.com/fixdeploy/fixdeploy/internal/executor"
	"github.com/fixdeploy/fixdeploy/internal/history"
	"github.com/fixdeploy/fixdeploy/internal/infra/embedded"
	"github.com/fixdeploy/fixdeploy/internal/inventory"
	"github.com/fixdeploy/fixdeploy/internal/logging"
	"github.com/fixdeploy/fixdeploy/internal/steps"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// Version can be set at build time with:
// go build -ldflags "-X main.Version=1.0.0"
var Version = "dev"

// Static errors for err113 compliance
var (
	ErrServerFailedToStart = errors.New("server failed to start, check logs")
	ErrServerNotRunning    = errors.New("server is not running")
)

func runServerForeground(port int, debug bool) error { //nolint:funlen // Server initialization function with comprehensive setup
	config.AppVersion = Version

	logger := logging.NewLogger("server")

	cfg := config.NewServerConfig()
	cfg.Port = port
	cfg.Debug = debug

	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return fmt.Errorf("failed to expand paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Log configuration on startup (without sensitive paths)
	logger.Infof("Starting fixdeploy server v%s", Version)
	logger.Infof("Configuration:")
	logger.Infof("  Port: %d", cfg.Port)
	logger.Infof("  Debug: %t", cfg.Debug)
	logger.Infof("  Workers: %d", cfg.Queue.Workers)
	logger.Infof("  Target Group: %s", cfg.TargetGroup)

	// Only log detailed paths in debug mode
	if cfg.Debug {
		logger.Debugf("Template Directory: %s", cfg.TemplateDir)
		logger.Debugf("Fix Files Directory: %s", cfg.FixFilesDir)
		logger.Debugf("Inventory File: %s", cfg.InventoryFile)
		logger.Debugf("History File: %s", cfg.HistoryFile)
		logger.Debugf("Log File: %s", cfg.GetLogPath())
	}

	// Write config info file for debugging
	if err := cfg.WriteConfigInfo(); err != nil {
		logger.Warnf("Failed to write config info: %v", err)
	}

	components, err := buildComponents(cfg)
	if err != nil {
		return err
	}

	// Reload inventory files on change until shutdown
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	go func() {
		if err := components.inventory.Watch(watchCtx); err != nil {
			logger.Warnf("Inventory watch unavailable: %v", err)
		}
	}()

	components.workerPool.Start()

	server, err := apiserver.NewAPIServer(cfg, apiserver.Components{
		Queue:             components.queue,
		Tracker:           components.tracker,
		WorkerPool:        components.workerPool,
		DeploymentService: components.deploymentService,
		Templates:         components.templates,
		Inventory:         components.inventory,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		components.queue.Close()
		return nil
	case err := <-errChan:
		return err
	}
}

// serverComponents bundles the wired background system
type serverComponents struct {
	queue             *embedded.Queue
	tracker           *embedded.Tracker
	workerPool        *embedded.WorkerPool
	deploymentService *deployment.Service
	templates         *template.FileStore
	inventory         *inventory.Service
}

// buildComponents wires the deployment pipeline from configuration
func buildComponents(cfg *config.ServerConfig) (*serverComponents, error) {
	historySink, err := history.NewFileSink(cfg.HistoryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open deployment history: %w", err)
	}

	tracker := embedded.NewTracker()
	if err := tracker.Load(historySink); err != nil {
		return nil, fmt.Errorf("failed to restore deployment history: %w", err)
	}

	inv, err := inventory.NewService(cfg.InventoryFile, cfg.DBInventoryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}

	templates := template.NewFileStore(cfg.TemplateDir)
	queue := embedded.NewQueue(cfg.Queue.Capacity)

	registry := steps.DefaultRegistry(steps.Deps{
		Inventory: inv,
		Tracker:   tracker,
		Runner:    steps.NewExecRunner(),
		Config: steps.Config{
			FixFilesDir:          cfg.FixFilesDir,
			TargetGroup:          cfg.TargetGroup,
			RunUser:              cfg.RunUser,
			Forks:                cfg.Forks,
			StepTimeout:          cfg.Execution.StepTimeout,
			PlaybookTimeout:      cfg.Execution.PlaybookTimeout,
			VerifyChecksums:      cfg.Execution.VerifyChecksums,
			AnsibleInventoryPath: cfg.AnsibleInventoryPath,
			VaultPasswordFile:    cfg.VaultPasswordFile,
			ExtraVarsFile:        cfg.ExtraVarsFile,
		},
	})

	sequencer := executor.NewSequencer(tracker, registry)

	workerPool, err := embedded.NewWorkerPool(embedded.WorkerPoolConfig{
		Workers:  cfg.Queue.Workers,
		Queue:    queue,
		Tracker:  tracker,
		Executor: sequencer.Execute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &serverComponents{
		queue:             queue,
		tracker:           tracker,
		workerPool:        workerPool,
		deploymentService: deployment.NewService(templates, tracker, queue),
		templates:         templates,
		inventory:         inv,
	}, nil
}

func runServerDaemon(port int, debug bool) error { //nolint:funlen // Daemon setup function with comprehensive initialization
	logger := logging.NewLogger("server-daemon")

	cfg := config.NewServerConfig()
	cfg.Port = port
	cfg.Debug = debug
	cfg.DaemonMode = true
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Note: We don't pre-check if server is running here to avoid TOCTOU race.
	// The savePID function will atomically check and create the PID file.

	if err := cfg.ExpandPaths(); err != nil {
		return fmt.Errorf("failed to expand paths: %w", err)
	}

	// Create log directory if specified with secure permissions
	logPath := cfg.GetLogPath()
	if logPath != "" {
		logDir := filepath.Dir(logPath)
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 - logPath is from config
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	// Fork a child process to run the server
	executable, err := os.Executable()
	if err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"server", "start", "--port", strconv.Itoa(port)}
	if debug {
		args = append(args, "--debug")
	}
	cmd := exec.Command(executable, args...) // #nosec G204 - executable is self (os.Executable), args are controlled
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setupServerProcess(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}
	if err := logFile.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	if err := savePID(cmd.Process.Pid, cfg.PIDFile); err != nil {
		if err := cmd.Process.Kill(); err != nil {
			// Process kill failed, but continuing - ignore error
			_ = err
		}
		return fmt.Errorf("failed to save PID: %w", err)
	}

	// Wait a moment to check if server started successfully
	time.Sleep(2 * time.Second)

	if !isServerRunning(cfg.PIDFile) {
		return fmt.Errorf("%w at: %s", ErrServerFailedToStart, logPath)
	}

	logger.Infof("Server started successfully in background")
	logger.Infof("Log file: %s", logPath)
	logger.Infof("PID file: %s", cfg.PIDFile)

	return nil
}

func stopServer(pidFile string) error {
	pid, err := readPIDFromFile(pidFile)
	if err != nil {
		return ErrServerNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	// Send SIGTERM for graceful shutdown
	if err := process.Signal(syscall.SIGTERM); err != nil {
		// Process might already be dead
		removePIDFile(pidFile)
		return ErrServerNotRunning
	}

	// Wait for process to exit
	for i := 0; i < 10; i++ {
		if !isProcessRunning(pid) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	// Force kill if still running
	if isProcessRunning(pid) {
		if err := process.Kill(); err != nil {
			// Force kill failed, but continuing - ignore error
			_ = err
		}
	}

	removePIDFile(pidFile)
	return nil
}

func checkServerStatus(pidFile string, port int) error {
	if !isServerRunning(pidFile) {
		return nil
	}

	// Try to check health endpoint
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d/api/v1/system/health", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }() // Ignore error - response cleanup

	return nil
}

func isServerRunning(pidFile string) bool {
	pid, err := readPIDFromFile(pidFile)
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

func savePID(pid int, pidFile string) error {
	// Ensure parent directory exists with secure permissions
	pidDir := filepath.Dir(pidFile)
	if err := os.MkdirAll(pidDir, 0o700); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	// Use O_EXCL to atomically check and create - fails if file exists
	file, err := os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 - pidFile path is from config
	if err != nil {
		if os.IsExist(err) {
			// File already exists, check if process is still running
			existingPID, readErr := readPIDFromFile(pidFile)
			if readErr == nil && isProcessRunning(existingPID) {
				return fmt.Errorf("server already running with PID %d (pid file: %s)", existingPID, pidFile)
			}
			// Stale PID file, remove and retry once
			_ = os.Remove(pidFile)                                                     // Ignore error - cleanup operation
			file, err = os.OpenFile(pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 - pidFile path is from config
			if err != nil {
				return fmt.Errorf("failed to create PID file %s after removing stale file: %w", pidFile, err)
			}
		} else {
			return fmt.Errorf("failed to create PID file %s: %w", pidFile, err)
		}
	}
	defer func() { _ = file.Close() }() // Ignore error - file cleanup in defer

	_, err = fmt.Fprintf(file, "%d\n", pid)
	if err != nil {
		// Clean up file on write error (defer will handle close)
		_ = os.Remove(pidFile) // Ignore error - cleanup on failure
		return fmt.Errorf("failed to write PID: %w", err)
	}

	return nil
}

func readPIDFromFile(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile) // #nosec G304 - pidFile path is from config
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file %s: %w", pidFile, err)
	}
	// Trim whitespace including newlines
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("failed to parse PID from file %s (content: %q): %w", pidFile, pidStr, err)
	}
	return pid, nil
}

func removePIDFile(pidFile string) {
	_ = os.Remove(pidFile) // Ignore error - cleanup operation
}
