package implementations

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Role is the side an implementation can take in a cell.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
	RoleBoth   Role = "both"
)

// Supports reports whether an implementation declared with r can act as want.
func (r Role) Supports(want Role) bool {
	return r == RoleBoth || r == want
}

// BuildIdentity points at the remote build that produced an implementation.
type BuildIdentity struct {
	ProjectID int    `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	Branch    string `yaml:"branch,omitempty" json:"branch,omitempty"`
}

// Implementation is one catalog entry. It is never modified after Load.
type Implementation struct {
	Name        string
	Path        string
	Role        Role
	Solo        bool
	MaxFileSize int64
	Build       *BuildIdentity
}

// entry is the on-disk shape of a catalog record.
type entry struct {
	Path        string `yaml:"path"`
	Role        Role   `yaml:"role"`
	Solo        bool   `yaml:"solo,omitempty"`
	MaxFileSize string `yaml:"max_filesize,omitempty"`
	ProjectID   int    `yaml:"project_id,omitempty"`
	Branch      string `yaml:"branch,omitempty"`
}

// Registry is the static implementation catalog.
type Registry struct {
	impls map[string]Implementation
}

// LoadFile reads a catalog from a JSON or YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read implementations from %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a catalog document. JSON documents are accepted since they
// are valid YAML.
func Parse(data []byte) (*Registry, error) {
	var raw map[string]entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse implementations: %w", err)
	}

	r := &Registry{impls: make(map[string]Implementation, len(raw))}
	for name, e := range raw {
		impl := Implementation{
			Name: name,
			Path: e.Path,
			Role: e.Role,
			Solo: e.Solo,
		}
		if impl.Path == "" {
			return nil, fmt.Errorf("implementation %s: path is required", name)
		}
		switch impl.Role {
		case RoleServer, RoleClient, RoleBoth:
		case "":
			impl.Role = RoleBoth
		default:
			return nil, fmt.Errorf("implementation %s: unknown role %q", name, e.Role)
		}
		if e.MaxFileSize != "" {
			size, err := ParseFileSize(e.MaxFileSize, "B")
			if err != nil {
				return nil, fmt.Errorf("implementation %s: %w", name, err)
			}
			impl.MaxFileSize = size
		}
		if e.ProjectID != 0 || e.Branch != "" {
			impl.Build = &BuildIdentity{ProjectID: e.ProjectID, Branch: e.Branch}
		}
		r.impls[name] = impl
	}
	return r, nil
}

// New builds a registry from already constructed entries.
func New(impls ...Implementation) *Registry {
	r := &Registry{impls: make(map[string]Implementation, len(impls))}
	for _, impl := range impls {
		if impl.Role == "" {
			impl.Role = RoleBoth
		}
		r.impls[impl.Name] = impl
	}
	return r
}

// Get looks up an implementation by name.
func (r *Registry) Get(name string) (Implementation, bool) {
	impl, ok := r.impls[name]
	return impl, ok
}

// Names returns all implementation names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.impls))
	for name := range r.impls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithRole returns the sorted names of implementations able to take role.
func (r *Registry) WithRole(role Role) []string {
	var names []string
	for _, name := range r.Names() {
		if r.impls[name].Role.Supports(role) {
			names = append(names, name)
		}
	}
	return names
}

// Resolve validates a user selection. An empty selection means every
// implementation supporting role.
func (r *Registry) Resolve(selection []string, role Role) ([]string, error) {
	if len(selection) == 0 {
		return r.WithRole(role), nil
	}
	for _, name := range selection {
		impl, ok := r.impls[name]
		if !ok {
			return nil, fmt.Errorf("implementation %s not found", name)
		}
		if !impl.Role.Supports(role) {
			return nil, fmt.Errorf("implementation %s does not support role %s", name, role)
		}
	}
	return selection, nil
}

// MaxFileSize resolves the file-size ceiling for a server/client pair.
func (r *Registry) MaxFileSize(server, client string) int64 {
	return EffectiveMaxFileSize(r.impls[server].MaxFileSize, r.impls[client].MaxFileSize)
}

// Exclusive reports whether either side of the pair only runs against itself.
func (r *Registry) Exclusive(server, client string) bool {
	return r.impls[server].Solo || r.impls[client].Solo
}
