// Package inventory resolves logical names from templates into host and
// database connection details backed by JSON inventory files.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/pkg/logging"
)

// hostInventory mirrors the host inventory file layout
type hostInventory struct {
	VMs          []interfaces.VMEntry       `json:"vms"`
	Playbooks    []interfaces.PlaybookEntry `json:"playbooks"`
	HelmUpgrades []interfaces.HelmCommand   `json:"helm_upgrades"`
}

// dbInventory mirrors the database inventory file layout
type dbInventory struct {
	DBConnections []interfaces.DBConnection `json:"db_connections"`
}

// Service is a file-backed inventory with in-memory caching. Both files
// are loaded once at startup and reloaded when the watcher sees a change;
// a reload that fails to parse keeps the previous cache.
type Service struct {
	inventoryFile   string
	dbInventoryFile string

	mu    sync.RWMutex
	hosts hostInventory
	dbs   dbInventory

	watcher *fsnotify.Watcher
}

// NewService loads both inventory files and returns the service.
// A missing file is not an error; lookups against it simply miss.
func NewService(inventoryFile, dbInventoryFile string) (*Service, error) {
	s := &Service{
		inventoryFile:   filepath.Clean(inventoryFile),
		dbInventoryFile: filepath.Clean(dbInventoryFile),
	}

	if err := s.reloadHosts(); err != nil {
		return nil, err
	}
	if err := s.reloadDBs(); err != nil {
		return nil, err
	}

	return s, nil
}

// Watch reloads the cache whenever either inventory file changes. The
// parent directories are watched rather than the files themselves so
// atomic saves (write a temp file, rename it over the target) and files
// created after startup are still seen. It blocks until ctx is canceled;
// run it in a goroutine.
func (s *Service) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inventory watcher: %w", err)
	}
	s.watcher = watcher

	watched := make(map[string]bool)
	for _, path := range []string{s.inventoryFile, s.dbInventoryFile} {
		dir := filepath.Dir(path)
		if watched[dir] {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue // directory may appear later; no watch until restart
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		watched[dir] = true
	}

	for {
		select {
		case <-ctx.Done():
			return watcher.Close()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Clean(event.Name)
			if name != s.inventoryFile && name != s.dbInventoryFile {
				continue
			}
			logging.Inventory.Debug("inventory file changed file=%s op=%s", name, event.Op)
			s.reload(name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Inventory.Warn("inventory watcher error: %v", err)
		}
	}
}

func (s *Service) reload(path string) {
	var err error
	switch path {
	case s.inventoryFile:
		err = s.reloadHosts()
	case s.dbInventoryFile:
		err = s.reloadDBs()
	default:
		return
	}
	if err != nil {
		// Keep serving the previous cache
		logging.Inventory.Warn("inventory reload failed file=%s: %v", path, err)
	}
}

func (s *Service) reloadHosts() error {
	var inv hostInventory
	loaded, err := loadJSON(s.inventoryFile, &inv)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.hosts = inv
	s.mu.Unlock()

	if loaded {
		logging.Inventory.Info("loaded host inventory vms=%d playbooks=%d helm_types=%d",
			len(inv.VMs), len(inv.Playbooks), len(inv.HelmUpgrades))
	}
	return nil
}

func (s *Service) reloadDBs() error {
	var inv dbInventory
	loaded, err := loadJSON(s.dbInventoryFile, &inv)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.dbs = inv
	s.mu.Unlock()

	if loaded {
		logging.Inventory.Info("loaded db inventory connections=%d", len(inv.DBConnections))
	}
	return nil
}

// loadJSON reads path into out, reporting whether the file existed
func loadJSON(path string, out interface{}) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // inventory paths come from server configuration
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}
	return true, nil
}

// ResolveVM looks up a target host by logical name
func (s *Service) ResolveVM(name string) (interfaces.VMEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, vm := range s.hosts.VMs {
		if vm.Name == name {
			return vm, true
		}
	}
	logging.InventoryMiss("vm", name)
	return interfaces.VMEntry{}, false
}

// ResolveDBConnection looks up database connection info by logical name
func (s *Service) ResolveDBConnection(name string) (interfaces.DBConnection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, db := range s.dbs.DBConnections {
		if db.Name == name {
			return db, true
		}
	}
	logging.InventoryMiss("db_connection", name)
	return interfaces.DBConnection{}, false
}

// ResolvePlaybook looks up a playbook by logical name
func (s *Service) ResolvePlaybook(name string) (interfaces.PlaybookEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pb := range s.hosts.Playbooks {
		if pb.Name == name {
			return pb, true
		}
	}
	logging.InventoryMiss("playbook", name)
	return interfaces.PlaybookEntry{}, false
}

// ResolveHelmCommand looks up the upgrade command for a helm deployment type
func (s *Service) ResolveHelmCommand(deploymentType string) (interfaces.HelmCommand, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cmd := range s.hosts.HelmUpgrades {
		if cmd.DeploymentType == deploymentType {
			return cmd, true
		}
	}
	logging.InventoryMiss("helm_upgrade", deploymentType)
	return interfaces.HelmCommand{}, false
}

// ListPlaybooks returns every configured playbook entry
func (s *Service) ListPlaybooks() []interfaces.PlaybookEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]interfaces.PlaybookEntry, len(s.hosts.Playbooks))
	copy(out, s.hosts.Playbooks)
	return out
}

// ListHelmTypes returns every configured helm deployment type
func (s *Service) ListHelmTypes() []interfaces.HelmCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]interfaces.HelmCommand, len(s.hosts.HelmUpgrades))
	copy(out, s.hosts.HelmUpgrades)
	return out
}
