package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostInventoryJSON = `{
  "vms": [
    {"name": "vm1", "ip": "10.0.0.11", "user": "infadm"},
    {"name": "vm2", "ip": "10.0.0.12"}
  ],
  "playbooks": [
    {
      "name": "patch-os",
      "path": "/app/playbooks/patch.yml",
      "inventory": "/etc/ansible/hosts",
      "forks": 10,
      "extra_vars": ["@/app/vars/patch.json"],
      "vault_password_file": "/app/secrets/vault_pass"
    }
  ],
  "helm_upgrades": [
    {"pod_name": "orders-api", "command": "helm upgrade orders ./charts/orders"}
  ]
}`

const dbInventoryJSON = `{
  "db_connections": [
    {"db_connection": "orders-db", "hostname": "db1.internal", "port": "5432", "db_name": "orders"}
  ]
}`

func writeInventory(t *testing.T, dir string) (string, string) {
	t.Helper()
	hostFile := filepath.Join(dir, "inventory.json")
	dbFile := filepath.Join(dir, "db_inventory.json")
	require.NoError(t, os.WriteFile(hostFile, []byte(hostInventoryJSON), 0o600))
	require.NoError(t, os.WriteFile(dbFile, []byte(dbInventoryJSON), 0o600))
	return hostFile, dbFile
}

func TestServiceResolve(t *testing.T) {
	t.Parallel()

	hostFile, dbFile := writeInventory(t, t.TempDir())
	svc, err := NewService(hostFile, dbFile)
	require.NoError(t, err)

	t.Run("resolve vm", func(t *testing.T) {
		t.Parallel()
		vm, ok := svc.ResolveVM("vm1")
		require.True(t, ok)
		assert.Equal(t, "10.0.0.11", vm.IP)
		assert.Equal(t, "infadm", vm.User)
	})

	t.Run("vm miss", func(t *testing.T) {
		t.Parallel()
		_, ok := svc.ResolveVM("vm99")
		assert.False(t, ok)
	})

	t.Run("resolve db connection", func(t *testing.T) {
		t.Parallel()
		db, ok := svc.ResolveDBConnection("orders-db")
		require.True(t, ok)
		assert.Equal(t, "db1.internal", db.Hostname)
		assert.Equal(t, "5432", db.Port)
		assert.Equal(t, "orders", db.DBName)
	})

	t.Run("resolve playbook", func(t *testing.T) {
		t.Parallel()
		pb, ok := svc.ResolvePlaybook("patch-os")
		require.True(t, ok)
		assert.Equal(t, "/app/playbooks/patch.yml", pb.Path)
		assert.Equal(t, 10, pb.Forks)
		assert.Equal(t, []string{"@/app/vars/patch.json"}, pb.ExtraVars)
	})

	t.Run("resolve helm command", func(t *testing.T) {
		t.Parallel()
		cmd, ok := svc.ResolveHelmCommand("orders-api")
		require.True(t, ok)
		assert.Equal(t, "helm upgrade orders ./charts/orders", cmd.Command)
	})

	t.Run("helm miss", func(t *testing.T) {
		t.Parallel()
		_, ok := svc.ResolveHelmCommand("missing-api")
		assert.False(t, ok)
	})
}

func TestServiceListings(t *testing.T) {
	t.Parallel()

	hostFile, dbFile := writeInventory(t, t.TempDir())
	svc, err := NewService(hostFile, dbFile)
	require.NoError(t, err)

	playbooks := svc.ListPlaybooks()
	require.Len(t, playbooks, 1)
	assert.Equal(t, "patch-os", playbooks[0].Name)

	helmTypes := svc.ListHelmTypes()
	require.Len(t, helmTypes, 1)
	assert.Equal(t, "orders-api", helmTypes[0].DeploymentType)
}

func TestServiceMissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc, err := NewService(filepath.Join(dir, "none.json"), filepath.Join(dir, "none_db.json"))
	require.NoError(t, err)

	_, ok := svc.ResolveVM("vm1")
	assert.False(t, ok)
	assert.Empty(t, svc.ListPlaybooks())
}

func TestServiceMalformedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	hostFile := filepath.Join(dir, "inventory.json")
	require.NoError(t, os.WriteFile(hostFile, []byte("{broken"), 0o600))

	_, err := NewService(hostFile, filepath.Join(dir, "none_db.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse inventory")
}

func TestServiceWatchReload(t *testing.T) {
	t.Parallel()

	hostFile, dbFile := writeInventory(t, t.TempDir())
	svc, err := NewService(hostFile, dbFile)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() { watchDone <- svc.Watch(ctx) }()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)

	updated := `{"vms": [{"name": "vm3", "ip": "10.0.0.13"}]}`
	require.NoError(t, os.WriteFile(hostFile, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		_, ok := svc.ResolveVM("vm3")
		return ok
	}, 5*time.Second, 50*time.Millisecond, "expected reload to pick up vm3")

	// Old entries replaced, db inventory untouched
	_, ok := svc.ResolveVM("vm1")
	assert.False(t, ok)
	_, ok = svc.ResolveDBConnection("orders-db")
	assert.True(t, ok)

	cancel()
	select {
	case err := <-watchDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestServiceWatchRenameReplace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	hostFile, dbFile := writeInventory(t, dir)
	svc, err := NewService(hostFile, dbFile)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Watch(ctx) }()

	// Give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)

	// Atomic save: write a temp file, then rename it over the inventory
	tmp := filepath.Join(dir, "inventory.json.tmp")
	updated := `{"vms": [{"name": "vm-replaced", "ip": "10.0.0.14"}]}`
	require.NoError(t, os.WriteFile(tmp, []byte(updated), 0o600))
	require.NoError(t, os.Rename(tmp, hostFile))

	require.Eventually(t, func() bool {
		_, ok := svc.ResolveVM("vm-replaced")
		return ok
	}, 5*time.Second, 50*time.Millisecond, "expected reload after rename-replace")

	// The watch survives the rename and sees the next update too
	second := `{"vms": [{"name": "vm-second", "ip": "10.0.0.15"}]}`
	require.NoError(t, os.WriteFile(tmp, []byte(second), 0o600))
	require.NoError(t, os.Rename(tmp, hostFile))

	require.Eventually(t, func() bool {
		_, ok := svc.ResolveVM("vm-second")
		return ok
	}, 5*time.Second, 50*time.Millisecond, "expected reload after second rename-replace")
}

func TestServiceWatchFileCreatedLater(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	hostFile := filepath.Join(dir, "inventory.json")
	dbFile := filepath.Join(dir, "db_inventory.json")
	require.NoError(t, os.WriteFile(hostFile, []byte(hostInventoryJSON), 0o600))

	svc, err := NewService(hostFile, dbFile)
	require.NoError(t, err)
	_, ok := svc.ResolveDBConnection("orders-db")
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(dbFile, []byte(dbInventoryJSON), 0o600))

	require.Eventually(t, func() bool {
		_, ok := svc.ResolveDBConnection("orders-db")
		return ok
	}, 5*time.Second, 50*time.Millisecond, "expected db inventory to load once the file appears")
}
