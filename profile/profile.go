package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	ProfilesFileName = "profiles.yaml"

	dbDirName     = "db"
	stateFileName = "state.db"
)

// Profile is a named network configuration with its own RPC endpoint, indexer
// config file, database directory and persisted sync baseline.
type Profile struct {
	ID           string `yaml:"id" json:"configType"`
	RPC          string `yaml:"rpc" json:"rpc"`
	WorldAddress string `yaml:"world_address" json:"world_address"`

	// ConfigPath overrides the default <root>/<id>/torii-<id>.toml location.
	ConfigPath string `yaml:"config_path,omitempty" json:"configPath,omitempty"`

	rootDir string
}

// WithRoot returns a copy of p whose paths are resolved under rootDir.
func (p Profile) WithRoot(rootDir string) Profile {
	p.rootDir = rootDir
	return p
}

// Dir returns the directory holding everything that belongs to the profile.
func (p Profile) Dir() string {
	return filepath.Join(p.rootDir, p.ID)
}

// DBPath returns the directory the indexer writes its database into.
func (p Profile) DBPath() string {
	return filepath.Join(p.Dir(), dbDirName)
}

// StatePath returns the path of the profile's sync state database.
func (p Profile) StatePath() string {
	return filepath.Join(p.Dir(), stateFileName)
}

func (p Profile) IndexerConfigPath() string {
	if p.ConfigPath != "" {
		return p.ConfigPath
	}
	return filepath.Join(p.Dir(), ConfigFileName(p.ID))
}

// ConfigFileName is the file name of the indexer config published for id.
func ConfigFileName(id string) string {
	if id == "mainnet" {
		return "torii-mainnet-game.toml"
	}
	return fmt.Sprintf("torii-%s.toml", id)
}

// Registry holds the profiles known to a loader root directory.
type Registry struct {
	rootDir  string
	profiles map[string]Profile
}

var defaultProfiles = []Profile{
	{ID: "mainnet", RPC: "https://api.cartridge.gg/x/starknet/mainnet"},
	{ID: "sepolia", RPC: "https://api.cartridge.gg/x/starknet/sepolia"},
	{ID: "slot", RPC: "https://api.cartridge.gg/x/eternum-blitz-slot-3/katana"},
	{ID: "local", RPC: "http://localhost:5050"},
}

// LoadRegistry reads <rootDir>/profiles.yaml. The built-in profiles are used
// when the file does not exist.
func LoadRegistry(rootDir string) (*Registry, error) {
	r := &Registry{
		rootDir:  rootDir,
		profiles: make(map[string]Profile),
	}

	data, err := os.ReadFile(filepath.Join(rootDir, ProfilesFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "failed to read profiles file")
		}
		for _, p := range defaultProfiles {
			r.add(p)
		}
		return r, nil
	}

	var file struct {
		Profiles []Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse profiles file")
	}

	for i, p := range file.Profiles {
		if err := p.validate(); err != nil {
			return nil, errors.Wrapf(err, "profile %d", i)
		}
		r.add(p)
	}
	if len(r.profiles) == 0 {
		return nil, errors.New("profiles file defines no profiles")
	}

	return r, nil
}

func (r *Registry) add(p Profile) {
	r.profiles[p.ID] = p.WithRoot(r.rootDir)
}

// Get returns the profile registered under id.
func (r *Registry) Get(id string) (Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// IDs returns the registered profile ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p Profile) validate() error {
	if p.ID == "" {
		return errors.New("missing id")
	}
	if filepath.Base(p.ID) != p.ID || p.ID == "." || p.ID == ".." {
		return errors.Errorf("invalid id %q", p.ID)
	}
	if p.RPC != "" {
		if _, err := parseRPC(p.RPC); err != nil {
			return errors.Wrapf(err, "invalid rpc for %s", p.ID)
		}
	}
	return nil
}
