package interfaces

// VMEntry is an inventory record for a single target host
type VMEntry struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	User string `json:"user,omitempty"`
}

// DBConnection is the connection information for a named database
type DBConnection struct {
	Name     string `json:"db_connection"`
	Hostname string `json:"hostname"`
	Port     string `json:"port"`
	DBName   string `json:"db_name"`
}

// PlaybookEntry maps a logical playbook name to a runnable playbook and
// the parameters its runs are invoked with
type PlaybookEntry struct {
	Name              string   `json:"name"`
	Path              string   `json:"path"`
	Inventory         string   `json:"inventory,omitempty"`
	Forks             int      `json:"forks,omitempty"`
	ExtraVars         []string `json:"extra_vars,omitempty"`
	VaultPasswordFile string   `json:"vault_password_file,omitempty"`
}

// HelmCommand maps a helm deployment type to the shell command that runs it
type HelmCommand struct {
	DeploymentType string `json:"pod_name"`
	Command        string `json:"command"`
}

// InventoryService resolves logical names from templates into connection
// details. Lookups return ok=false on a miss; a miss is a step failure at
// execution time, never a panic.
type InventoryService interface {
	// ResolveVM looks up a target host by logical name
	ResolveVM(name string) (VMEntry, bool)

	// ResolveDBConnection looks up database connection info by logical name
	ResolveDBConnection(name string) (DBConnection, bool)

	// ResolvePlaybook looks up a playbook path by logical name
	ResolvePlaybook(name string) (PlaybookEntry, bool)

	// ResolveHelmCommand looks up the upgrade command for a helm deployment type
	ResolveHelmCommand(deploymentType string) (HelmCommand, bool)

	// ListPlaybooks returns every configured playbook entry
	ListPlaybooks() []PlaybookEntry

	// ListHelmTypes returns every configured helm deployment type
	ListHelmTypes() []HelmCommand
}

// TemplateStore loads deployment templates from the template directory
type TemplateStore interface {
	// List returns the names of all available templates
	List() ([]string, error)

	// Load reads, parses, and validates the named template
	Load(name string) (*Template, error)
}
