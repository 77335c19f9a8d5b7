package steps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixdeploy/fixdeploy/internal/infra/embedded"
	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// fakeRunner records every command and plays back scripted results
type fakeRunner struct {
	mu       sync.Mutex
	commands []Command
	// script is consulted per call in order; when exhausted, calls succeed
	script []fakeResult
}

type fakeResult struct {
	lines []string
	err   error
}

func (r *fakeRunner) Run(_ context.Context, cmd Command, sink interfaces.LogSink) error {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	var result fakeResult
	if len(r.script) > 0 {
		result = r.script[0]
		r.script = r.script[1:]
	}
	r.mu.Unlock()

	for _, line := range result.lines {
		sink.Append(cmd.Prefix + line)
	}
	return result.err
}

func (r *fakeRunner) commandAt(t *testing.T, i int) Command {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Greater(t, len(r.commands), i, "expected at least %d commands", i+1)
	return r.commands[i]
}

// fakeInventory serves fixed entries
type fakeInventory struct {
	vms       map[string]interfaces.VMEntry
	dbs       map[string]interfaces.DBConnection
	playbooks map[string]interfaces.PlaybookEntry
	helm      map[string]interfaces.HelmCommand
}

func (f *fakeInventory) ResolveVM(name string) (interfaces.VMEntry, bool) {
	vm, ok := f.vms[name]
	return vm, ok
}

func (f *fakeInventory) ResolveDBConnection(name string) (interfaces.DBConnection, bool) {
	db, ok := f.dbs[name]
	return db, ok
}

func (f *fakeInventory) ResolvePlaybook(name string) (interfaces.PlaybookEntry, bool) {
	pb, ok := f.playbooks[name]
	return pb, ok
}

func (f *fakeInventory) ResolveHelmCommand(deploymentType string) (interfaces.HelmCommand, bool) {
	cmd, ok := f.helm[deploymentType]
	return cmd, ok
}

func (f *fakeInventory) ListPlaybooks() []interfaces.PlaybookEntry { return nil }
func (f *fakeInventory) ListHelmTypes() []interfaces.HelmCommand   { return nil }

type fixture struct {
	tracker   *embedded.Tracker
	runner    *fakeRunner
	inventory *fakeInventory
	deps      Deps
	decoder   *template.SpecDecoder
	sub       *SubRecords
	run       interfaces.StepRun
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	tracker := embedded.NewTracker()
	require.NoError(t, tracker.Create(&interfaces.DeploymentRecord{
		ID:        "parent-1",
		Kind:      interfaces.RecordKindTemplate,
		Status:    interfaces.DeploymentStatusRunning,
		CreatedAt: time.Now(),
	}))

	runner := &fakeRunner{}
	inventory := &fakeInventory{
		vms: map[string]interfaces.VMEntry{
			"vm1": {Name: "vm1", IP: "10.0.0.11"},
		},
		dbs: map[string]interfaces.DBConnection{
			"orders-db": {Name: "orders-db", Hostname: "db1.internal", Port: "5432", DBName: "orders"},
		},
		playbooks: map[string]interfaces.PlaybookEntry{
			"patch-os": {
				Name:      "patch-os",
				Path:      "/app/playbooks/patch.yml",
				Inventory: "/app/inventory/hosts",
				Forks:     10,
				ExtraVars: []string{"@/app/vars/patch.json"},
			},
		},
		helm: map[string]interfaces.HelmCommand{
			"orders-api": {DeploymentType: "orders-api", Command: "helm upgrade orders ./charts/orders"},
		},
	}

	if cfg.TargetGroup == "" {
		cfg.TargetGroup = "batch1"
	}
	if cfg.RunUser == "" {
		cfg.RunUser = "infadm"
	}
	if cfg.Forks == 0 {
		cfg.Forks = 5
	}
	if cfg.AnsibleInventoryPath == "" {
		cfg.AnsibleInventoryPath = "/etc/ansible/hosts"
	}

	deps := Deps{
		Inventory: inventory,
		Tracker:   tracker,
		Runner:    runner,
		Config:    cfg,
	}

	return &fixture{
		tracker:   tracker,
		runner:    runner,
		inventory: inventory,
		deps:      deps,
		decoder:   template.NewSpecDecoder(),
		sub:       NewSubRecords(tracker),
		run: interfaces.StepRun{
			DeploymentID: "parent-1",
			FTNumber:     "FT-2024-001",
			Sink:         NewTrackerSink(tracker, "parent-1"),
		},
	}
}

func (f *fixture) parentLogs(t *testing.T) []string {
	t.Helper()
	record, err := f.tracker.GetByID("parent-1")
	require.NoError(t, err)
	lines := make([]string, len(record.Logs))
	for i, l := range record.Logs {
		lines[i] = l.Message
	}
	return lines
}

func hasLineContaining(lines []string, substr string) bool {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func writeFixFile(t *testing.T, dir, ftNumber, name, content string) {
	t.Helper()
	sub := filepath.Join(dir, ftNumber)
	require.NoError(t, os.MkdirAll(sub, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(sub, name), []byte(content), 0o600))
}

func TestFileHandler_Execute(t *testing.T) {
	t.Parallel()

	fixDir := t.TempDir()
	writeFixFile(t, fixDir, "FT-2024-001", "app.conf", "key=value\n")

	f := newFixture(t, Config{FixFilesDir: fixDir})
	handler := NewFileHandler(f.deps, f.decoder, f.sub)

	f.runner.script = []fakeResult{
		{lines: []string{"10.0.0.11 | CHANGED => copied"}},
	}

	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindFileDeployment,
		Spec: map[string]interface{}{
			"files":      []interface{}{"app.conf"},
			"targetVMs":  []interface{}{"vm1"},
			"targetPath": "/opt/app/conf",
			"targetUser": "appadm",
			"ftNumber":   "FT-2024-001",
		},
	}

	require.NoError(t, handler.Execute(context.Background(), f.run))

	cmd := f.runner.commandAt(t, 0)
	assert.Equal(t, "ansible", cmd.Name)
	assert.Contains(t, cmd.Args, "10.0.0.11")
	assert.Contains(t, cmd.Args, "copy")
	assert.Contains(t, cmd.Args, "appadm")
	assert.Contains(t, cmd.Args, "--become")
	joined := strings.Join(cmd.Args, " ")
	assert.Contains(t, joined, "backup=yes")
	assert.Contains(t, joined, filepath.Join(fixDir, "FT-2024-001", "app.conf"))

	logs := f.parentLogs(t)
	assert.True(t, hasLineContaining(logs, "[FILE] 10.0.0.11 | CHANGED"), "absorbed sub log should carry the [FILE] prefix")
	assert.True(t, hasLineContaining(logs, "File app.conf deployed to 10.0.0.11:/opt/app/conf"))

	// The sub-record was absorbed and removed
	records, err := f.tracker.List(interfaces.DeploymentFilter{
		Kind: []interfaces.RecordKind{interfaces.RecordKindFile},
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileHandler_ChecksumVerification(t *testing.T) {
	t.Parallel()

	fixDir := t.TempDir()
	writeFixFile(t, fixDir, "FT-2024-001", "app.conf", "key=value\n")
	localSum, err := sha256File(filepath.Join(fixDir, "FT-2024-001", "app.conf"))
	require.NoError(t, err)

	t.Run("match", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{FixFilesDir: fixDir, VerifyChecksums: true})
		handler := NewFileHandler(f.deps, f.decoder, f.sub)
		f.runner.script = []fakeResult{
			{lines: []string{"copied"}},
			{lines: []string{localSum + "  /opt/app/conf/app.conf"}},
		}
		f.run.Step = fileStep()

		require.NoError(t, handler.Execute(context.Background(), f.run))
		assert.True(t, hasLineContaining(f.parentLogs(t), "Checksum verified for app.conf on 10.0.0.11"))
	})

	t.Run("mismatch", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{FixFilesDir: fixDir, VerifyChecksums: true})
		handler := NewFileHandler(f.deps, f.decoder, f.sub)
		f.runner.script = []fakeResult{
			{lines: []string{"copied"}},
			{lines: []string{"deadbeef  /opt/app/conf/app.conf"}},
		}
		f.run.Step = fileStep()

		err := handler.Execute(context.Background(), f.run)
		require.ErrorIs(t, err, ErrChecksumMismatch)
		assert.True(t, hasLineContaining(f.parentLogs(t), "Checksum mismatch for app.conf on 10.0.0.11"))
	})
}

func fileStep() interfaces.Step {
	return interfaces.Step{
		Type: interfaces.StepKindFileDeployment,
		Spec: map[string]interface{}{
			"files":      []interface{}{"app.conf"},
			"targetVMs":  []interface{}{"vm1"},
			"targetPath": "/opt/app/conf",
			"ftNumber":   "FT-2024-001",
		},
	}
}

func TestFileHandler_Failures(t *testing.T) {
	t.Parallel()

	fixDir := t.TempDir()
	writeFixFile(t, fixDir, "FT-2024-001", "app.conf", "key=value\n")

	t.Run("vm not in inventory", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{FixFilesDir: fixDir})
		handler := NewFileHandler(f.deps, f.decoder, f.sub)
		f.run.Step = interfaces.Step{
			Type: interfaces.StepKindFileDeployment,
			Spec: map[string]interface{}{
				"files":      []interface{}{"app.conf"},
				"targetVMs":  []interface{}{"vm-unknown"},
				"targetPath": "/opt/app/conf",
				"ftNumber":   "FT-2024-001",
			},
		}

		err := handler.Execute(context.Background(), f.run)
		require.ErrorIs(t, err, ErrLookupMiss)
		assert.True(t, hasLineContaining(f.parentLogs(t), "VM vm-unknown not found in inventory"))
	})

	t.Run("source file missing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{FixFilesDir: fixDir})
		handler := NewFileHandler(f.deps, f.decoder, f.sub)
		f.run.Step = interfaces.Step{
			Type: interfaces.StepKindFileDeployment,
			Spec: map[string]interface{}{
				"files":      []interface{}{"nope.conf"},
				"targetVMs":  []interface{}{"vm1"},
				"targetPath": "/opt/app/conf",
				"ftNumber":   "FT-2024-001",
			},
		}

		err := handler.Execute(context.Background(), f.run)
		require.ErrorIs(t, err, ErrSourceMissing)
		assert.True(t, hasLineContaining(f.parentLogs(t), "not found"))
	})

	t.Run("copy command fails", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{FixFilesDir: fixDir})
		handler := NewFileHandler(f.deps, f.decoder, f.sub)
		f.runner.script = []fakeResult{
			{lines: []string{"UNREACHABLE"}, err: ExitError(4)},
		}
		f.run.Step = fileStep()

		err := handler.Execute(context.Background(), f.run)
		require.ErrorIs(t, err, ErrNonZeroExit)

		// Failed command output is still absorbed into the parent
		assert.True(t, hasLineContaining(f.parentLogs(t), "[FILE] UNREACHABLE"))
	})

	t.Run("absorb failure keeps the command error", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{FixFilesDir: fixDir})
		handler := NewFileHandler(f.deps, f.decoder, f.sub)
		f.runner.script = []fakeResult{
			{lines: []string{"UNREACHABLE"}, err: ExitError(4)},
		}
		f.run.Step = fileStep()

		// Parent record gone mid-step, so the absorb cannot land
		require.NoError(t, f.tracker.Remove("parent-1"))

		err := handler.Execute(context.Background(), f.run)
		require.ErrorIs(t, err, ErrNonZeroExit, "command failure must be the recorded cause")
	})
}

func TestSQLHandler_Execute(t *testing.T) {
	t.Parallel()

	fixDir := t.TempDir()
	writeFixFile(t, fixDir, "FT-2024-001", "migrate.sql", "SELECT 1;\n")

	f := newFixture(t, Config{FixFilesDir: fixDir})
	handler := NewSQLHandler(f.deps, f.decoder, f.sub)
	f.runner.script = []fakeResult{
		{lines: []string{"INSERT 0 1"}},
	}

	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindSQLDeployment,
		Spec: map[string]interface{}{
			"files":        []interface{}{"migrate.sql"},
			"dbConnection": "orders-db",
			"dbUser":       "app",
			"dbPassword":   "c2VjcmV0", // base64 "secret"
			"ftNumber":     "FT-2024-001",
		},
	}

	require.NoError(t, handler.Execute(context.Background(), f.run))

	cmd := f.runner.commandAt(t, 0)
	assert.Equal(t, "psql", cmd.Name)
	assert.Contains(t, cmd.Args, "db1.internal")
	assert.Contains(t, cmd.Args, "orders")
	assert.Contains(t, cmd.Args, "ON_ERROR_STOP=1")
	assert.Contains(t, cmd.Env, "PGPASSWORD=secret")
	// The password never appears on the command line
	assert.NotContains(t, strings.Join(cmd.Args, " "), "secret")

	logs := f.parentLogs(t)
	assert.True(t, hasLineContaining(logs, "[SQL] INSERT 0 1"))
	assert.True(t, hasLineContaining(logs, "SQL file migrate.sql executed successfully"))
}

func TestSQLHandler_PasswordNotBase64(t *testing.T) {
	t.Parallel()

	fixDir := t.TempDir()
	writeFixFile(t, fixDir, "FT-2024-001", "migrate.sql", "SELECT 1;\n")

	f := newFixture(t, Config{FixFilesDir: fixDir})
	handler := NewSQLHandler(f.deps, f.decoder, f.sub)

	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindSQLDeployment,
		Spec: map[string]interface{}{
			"files":        []interface{}{"migrate.sql"},
			"dbConnection": "orders-db",
			"dbUser":       "app",
			"dbPassword":   "not base64!!",
			"ftNumber":     "FT-2024-001",
		},
	}

	require.NoError(t, handler.Execute(context.Background(), f.run))

	cmd := f.runner.commandAt(t, 0)
	assert.Contains(t, cmd.Env, "PGPASSWORD=not base64!!")
	assert.True(t, hasLineContaining(f.parentLogs(t), "not base64 encoded"))
}

func TestSQLHandler_AbsorbFailureKeepsCommandError(t *testing.T) {
	t.Parallel()

	fixDir := t.TempDir()
	writeFixFile(t, fixDir, "FT-2024-001", "migrate.sql", "SELECT 1;\n")

	f := newFixture(t, Config{FixFilesDir: fixDir})
	handler := NewSQLHandler(f.deps, f.decoder, f.sub)
	f.runner.script = []fakeResult{
		{lines: []string{"ERROR: relation does not exist"}, err: ExitError(3)},
	}

	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindSQLDeployment,
		Spec: map[string]interface{}{
			"files":        []interface{}{"migrate.sql"},
			"dbConnection": "orders-db",
			"dbUser":       "app",
			"ftNumber":     "FT-2024-001",
		},
	}

	// Parent record gone mid-step, so the absorb cannot land
	require.NoError(t, f.tracker.Remove("parent-1"))

	err := handler.Execute(context.Background(), f.run)
	require.ErrorIs(t, err, ErrNonZeroExit, "command failure must be the recorded cause")
}

func TestSQLHandler_ConnectionMiss(t *testing.T) {
	t.Parallel()

	fixDir := t.TempDir()
	f := newFixture(t, Config{FixFilesDir: fixDir})
	handler := NewSQLHandler(f.deps, f.decoder, f.sub)

	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindSQLDeployment,
		Spec: map[string]interface{}{
			"files":        []interface{}{"migrate.sql"},
			"dbConnection": "unknown-db",
			"dbUser":       "app",
		},
	}

	err := handler.Execute(context.Background(), f.run)
	require.ErrorIs(t, err, ErrLookupMiss)
	assert.True(t, hasLineContaining(f.parentLogs(t), "Database connection unknown-db not found"))
}

func TestServiceHandler_Execute(t *testing.T) {
	t.Parallel()

	t.Run("restart", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{})
		handler := NewServiceHandler(f.deps, f.decoder)
		f.run.Step = serviceStep("restart")

		require.NoError(t, handler.Execute(context.Background(), f.run))

		cmd := f.runner.commandAt(t, 0)
		assert.Equal(t, "ansible", cmd.Name)
		assert.Contains(t, strings.Join(cmd.Args, " "), "systemctl restart app")
		assert.True(t, hasLineContaining(f.parentLogs(t), "Systemctl restart app executed on 10.0.0.11"))
	})

	t.Run("restart failure fails the step", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{})
		handler := NewServiceHandler(f.deps, f.decoder)
		f.runner.script = []fakeResult{{err: ExitError(2)}}
		f.run.Step = serviceStep("restart")

		err := handler.Execute(context.Background(), f.run)
		require.ErrorIs(t, err, ErrNonZeroExit)
	})

	t.Run("status failure never fails the step", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{})
		handler := NewServiceHandler(f.deps, f.decoder)
		f.runner.script = []fakeResult{{lines: []string{"inactive (dead)"}, err: ExitError(3)}}
		f.run.Step = serviceStep("status")

		require.NoError(t, handler.Execute(context.Background(), f.run))
		assert.True(t, hasLineContaining(f.parentLogs(t), "status check reported an error"))
	})
}

func serviceStep(operation string) interfaces.Step {
	return interfaces.Step{
		Type: interfaces.StepKindServiceRestart,
		Spec: map[string]interface{}{
			"service":   "app",
			"operation": operation,
			"targetVMs": []interface{}{"vm1"},
		},
	}
}

func TestPlaybookHandler_Execute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	handler := NewPlaybookHandler(f.deps, f.decoder)
	f.runner.script = []fakeResult{
		{lines: []string{"PLAY [all]", "TASK [patch]", "PLAY RECAP"}},
	}

	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindAnsiblePlaybook,
		Spec: map[string]interface{}{"playbook": "patch-os"},
	}

	require.NoError(t, handler.Execute(context.Background(), f.run))

	cmd := f.runner.commandAt(t, 0)
	assert.Equal(t, "ansible-playbook", cmd.Name)
	joined := strings.Join(cmd.Args, " ")
	assert.Contains(t, joined, "-i /app/inventory/hosts")
	assert.Contains(t, joined, "/app/playbooks/patch.yml")
	assert.Contains(t, joined, "--limit batch1")
	assert.Contains(t, joined, "--user infadm")
	assert.Contains(t, joined, "--forks 10")
	assert.Contains(t, joined, "-e @/app/vars/patch.json")

	logs := f.parentLogs(t)
	assert.True(t, hasLineContaining(logs, "Running Ansible playbook: patch-os on batch1 with infadm user"))
	assert.True(t, hasLineContaining(logs, "PLAY RECAP"))
	assert.True(t, hasLineContaining(logs, "Playbook patch-os completed successfully"))
}

func TestPlaybookHandler_Miss(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	handler := NewPlaybookHandler(f.deps, f.decoder)
	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindAnsiblePlaybook,
		Spec: map[string]interface{}{"playbook": "unknown"},
	}

	err := handler.Execute(context.Background(), f.run)
	require.ErrorIs(t, err, ErrLookupMiss)
	assert.True(t, hasLineContaining(f.parentLogs(t), "Playbook unknown not found in inventory"))
}

func TestHelmHandler_Execute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	handler := NewHelmHandler(f.deps, f.decoder)
	f.runner.script = []fakeResult{
		{lines: []string{"Release \"orders\" has been upgraded"}},
	}

	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindHelmUpgrade,
		Spec: map[string]interface{}{"helmDeploymentType": "orders-api"},
	}

	require.NoError(t, handler.Execute(context.Background(), f.run))

	cmd := f.runner.commandAt(t, 0)
	assert.Equal(t, "ansible", cmd.Name)
	assert.Equal(t, "batch1", cmd.Args[0])
	assert.Contains(t, cmd.Args, "shell")
	assert.Contains(t, cmd.Args, "helm upgrade orders ./charts/orders")
	assert.Equal(t, helmLinePrefix, cmd.Prefix)

	logs := f.parentLogs(t)
	assert.True(t, hasLineContaining(logs, "Running Helm upgrade"))
	assert.True(t, hasLineContaining(logs, "HELM: Release"))
	assert.True(t, hasLineContaining(logs, "completed successfully"))
}

func TestHelmHandler_Miss(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	handler := NewHelmHandler(f.deps, f.decoder)
	f.run.Step = interfaces.Step{
		Type: interfaces.StepKindHelmUpgrade,
		Spec: map[string]interface{}{"helmDeploymentType": "unknown-api"},
	}

	err := handler.Execute(context.Background(), f.run)
	require.ErrorIs(t, err, ErrLookupMiss)
	assert.True(t, hasLineContaining(f.parentLogs(t), "Helm deployment type unknown-api not found"))
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	registry := DefaultRegistry(f.deps)

	for _, kind := range interfaces.KnownStepKinds {
		handler, ok := registry.Get(kind)
		require.True(t, ok, "missing handler for %s", kind)
		assert.Equal(t, kind, handler.Kind())
	}

	_, ok := registry.Get(interfaces.StepKind("unknown"))
	assert.False(t, ok)
	assert.Len(t, registry.Kinds(), len(interfaces.KnownStepKinds))
}
