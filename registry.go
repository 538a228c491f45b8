package main

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed registry/*.yaml
var registryFS embed.FS

// ErrUnknownID is returned for any registry lookup that misses.
var ErrUnknownID = errors.New("unknown id")

// Board is a named game template: a role multiset, one role per seat.
type Board struct {
	ID    string   `yaml:"id" json:"id"`
	Name  string   `yaml:"name" json:"name"`
	Roles []string `yaml:"roles" json:"roles"`
}

func (b Board) PlayerCount() int {
	return len(b.Roles)
}

// Registry is the immutable role, schema and board lookup table.
// Loaded once at startup; never mutated afterwards.
type Registry struct {
	roles     map[string]RoleDescriptor
	roleOrder []string
	schemas   map[string]ActionSchema
	boards    map[string]Board
}

type rolesFile struct {
	Version int              `yaml:"version"`
	Roles   []RoleDescriptor `yaml:"roles"`
}

type schemasFile struct {
	Version int            `yaml:"version"`
	Schemas []ActionSchema `yaml:"schemas"`
}

type boardsFile struct {
	Version int     `yaml:"version"`
	Boards  []Board `yaml:"boards"`
}

// loadEmbeddedRegistry loads the registry shipped inside the binary.
func loadEmbeddedRegistry() (*Registry, error) {
	sub, err := fs.Sub(registryFS, "registry")
	if err != nil {
		return nil, err
	}
	return LoadRegistry(sub)
}

// loadRegistryFrom reads the registry from dir, or the embedded copy when
// dir is empty.
func loadRegistryFrom(dir string) (*Registry, error) {
	if dir == "" {
		return loadEmbeddedRegistry()
	}
	return LoadRegistry(os.DirFS(dir))
}

// LoadRegistry reads roles.yaml, schemas.yaml and boards.yaml from fsys and
// checks cross-registry integrity. Any failure here must stop the process.
func LoadRegistry(fsys fs.FS) (*Registry, error) {
	var rf rolesFile
	if err := readYAML(fsys, "roles.yaml", &rf, &rf.Version); err != nil {
		return nil, err
	}
	var sf schemasFile
	if err := readYAML(fsys, "schemas.yaml", &sf, &sf.Version); err != nil {
		return nil, err
	}
	var bf boardsFile
	if err := readYAML(fsys, "boards.yaml", &bf, &bf.Version); err != nil {
		return nil, err
	}

	reg := &Registry{
		roles:   make(map[string]RoleDescriptor),
		schemas: make(map[string]ActionSchema),
		boards:  make(map[string]Board),
	}
	for _, r := range rf.Roles {
		if r.ID == "" {
			return nil, fmt.Errorf("roles.yaml: role without id")
		}
		if _, dup := reg.roles[r.ID]; dup {
			return nil, fmt.Errorf("roles.yaml: duplicate role %q", r.ID)
		}
		reg.roles[r.ID] = r
		reg.roleOrder = append(reg.roleOrder, r.ID)
	}
	for _, s := range sf.Schemas {
		if s.ID == "" {
			return nil, fmt.Errorf("schemas.yaml: schema without id")
		}
		if _, dup := reg.schemas[s.ID]; dup {
			return nil, fmt.Errorf("schemas.yaml: duplicate schema %q", s.ID)
		}
		reg.schemas[s.ID] = s
	}
	for _, b := range bf.Boards {
		if _, dup := reg.boards[b.ID]; dup {
			return nil, fmt.Errorf("boards.yaml: duplicate board %q", b.ID)
		}
		reg.boards[b.ID] = b
	}

	if err := reg.validate(); err != nil {
		return nil, err
	}
	log.Printf("Registry loaded: %d roles, %d schemas, %d boards", len(reg.roles), len(reg.schemas), len(reg.boards))
	return reg, nil
}

func readYAML(fsys fs.FS, name string, dst any, version *int) error {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if *version != 1 {
		return fmt.Errorf("unsupported %s version: %d", name, *version)
	}
	return nil
}

func (r *Registry) validate() error {
	for _, s := range r.schemas {
		if err := s.validate(); err != nil {
			return err
		}
	}

	priorities := make(map[int]string)
	for _, id := range r.roleOrder {
		role := r.roles[id]
		switch role.Team {
		case TeamWolf, TeamGood, TeamThird:
		default:
			return fmt.Errorf("role %q: unknown team %q", id, role.Team)
		}
		if !role.HasAction {
			continue
		}
		if _, ok := r.schemas[role.SchemaID]; !ok {
			return fmt.Errorf("role %q references schema %q: %w", id, role.SchemaID, ErrUnknownID)
		}
		if other, taken := priorities[role.Priority]; taken {
			return fmt.Errorf("roles %q and %q share night priority %d", other, id, role.Priority)
		}
		priorities[role.Priority] = id
	}
	if _, ok := r.roles[PackRoleID]; !ok {
		return fmt.Errorf("pack role %q: %w", PackRoleID, ErrUnknownID)
	}
	if pack := r.roles[PackRoleID]; r.schemas[pack.SchemaID].Kind != KindWolfVote {
		return fmt.Errorf("pack role %q must use a wolfVote schema", PackRoleID)
	}

	for _, b := range r.boards {
		for _, id := range b.Roles {
			if _, ok := r.roles[id]; !ok {
				return fmt.Errorf("board %q uses role %q: %w", b.ID, id, ErrUnknownID)
			}
		}
	}
	return nil
}

func (r *Registry) Role(id string) (RoleDescriptor, error) {
	role, ok := r.roles[id]
	if !ok {
		return RoleDescriptor{}, fmt.Errorf("role %q: %w", id, ErrUnknownID)
	}
	return role, nil
}

func (r *Registry) Schema(id string) (ActionSchema, error) {
	s, ok := r.schemas[id]
	if !ok {
		return ActionSchema{}, fmt.Errorf("schema %q: %w", id, ErrUnknownID)
	}
	return s, nil
}

func (r *Registry) Board(id string) (Board, error) {
	b, ok := r.boards[id]
	if !ok {
		return Board{}, fmt.Errorf("board %q: %w", id, ErrUnknownID)
	}
	return b, nil
}

// Roles returns all roles in file order.
func (r *Registry) Roles() []RoleDescriptor {
	out := make([]RoleDescriptor, 0, len(r.roleOrder))
	for _, id := range r.roleOrder {
		out = append(out, r.roles[id])
	}
	return out
}

// Schemas returns all schemas sorted by id.
func (r *Registry) Schemas() []ActionSchema {
	out := make([]ActionSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Boards returns all boards sorted by id.
func (r *Registry) Boards() []Board {
	out := make([]Board, 0, len(r.boards))
	for _, b := range r.boards {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
