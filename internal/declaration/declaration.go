// Package declaration holds the data model spec.md §3 describes:
// SourceDeclaration and MasterConfig, decoded from YAML the way the
// Python original's configuration layer does.
package declaration

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind enumerates the recognized source provider kinds.
type Kind string

const (
	KindGit        Kind = "git"
	KindRsync      Kind = "rsync"
	KindRemoteSync Kind = "remote-sync"
)

// MasterID is reserved: no declaration may use it as its id.
const MasterID = "master"

// TemplateEngineConfig configures one template-expansion pass.
type TemplateEngineConfig struct {
	// Kind selects the expansion strategy: "text-template" (Go text/template,
	// files matched by Extension) or "shell-substitution" (envsubst-style,
	// $VAR / ${VAR} expansion).
	Kind string `yaml:"type"`
	// Extension is the file suffix that marks a file as a template input,
	// e.g. ".tmpl". Stripped from the output filename.
	Extension string `yaml:"extension"`
	// DestSubDir places expanded output under a subdirectory of target_path
	// instead of beside the template input.
	DestSubDir string `yaml:"dest_sub_dir,omitempty"`
	// Data is additional template data beyond environment variables matched
	// by env_prefixes. Values may be arbitrary JSON-shaped structures
	// (scalars, nested maps, lists), not just strings, so a declaration can
	// hand a template a list of backend hosts or a nested options block.
	Data map[string]any `yaml:"data,omitempty"`
}

// SourceDeclaration is the authoritative description of one configuration
// source, keyed by id in MasterConfig.Sources.
type SourceDeclaration struct {
	Kind Kind `yaml:"type"`

	TargetDir string `yaml:"target_dir,omitempty"`

	// Git-specific.
	Repo     string `yaml:"repo,omitempty"`
	Branch   string `yaml:"branch,omitempty"`
	SubDir   string `yaml:"sub_dir,omitempty"`
	Sparse   bool   `yaml:"sparse,omitempty"`
	SSHKey   string `yaml:"ssh_key,omitempty"`
	ReadOnly bool   `yaml:"read_only,omitempty"`

	// Rsync-specific.
	Source string `yaml:"source,omitempty"`

	// Remote-sync (rclone) specific: an INI fragment appended under a
	// "[remote]" header and written to the per-id rclone config file.
	RcloneConfig string `yaml:"config,omitempty"`

	Excludes []string          `yaml:"excludes,omitempty"`
	Tags     []string          `yaml:"tags,omitempty"`
	Engines  []TemplateEngineConfig `yaml:"template_engines,omitempty"`

	// Auth is an authorization predicate name; empty means no extra
	// per-source ACL beyond the node-level credential.
	Auth string `yaml:"auth,omitempty"`
}

// Validate checks the invariants spec.md §3 names (aside from id
// uniqueness/reservation, which the registry checks across the whole map).
func (d SourceDeclaration) Validate() error {
	switch d.Kind {
	case KindGit:
		if d.Repo == "" {
			return fmt.Errorf("git source requires repo")
		}
	case KindRsync:
		if d.Source == "" {
			return fmt.Errorf("rsync source requires source")
		}
	case KindRemoteSync:
		if d.RcloneConfig == "" {
			return fmt.Errorf("remote-sync source requires config")
		}
	default:
		return fmt.Errorf("unrecognized source kind %q", d.Kind)
	}
	return nil
}

// HasTag reports whether t is among d.Tags.
func (d SourceDeclaration) HasTag(t string) bool {
	for _, tag := range d.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// Equal reports structural equality, the basis for the reconciler's
// create/skip/replace decision in spec.md §4.2 step 5.
func (d SourceDeclaration) Equal(other SourceDeclaration) bool {
	if d.Kind != other.Kind || d.TargetDir != other.TargetDir ||
		d.Repo != other.Repo || d.Branch != other.Branch || d.SubDir != other.SubDir ||
		d.Sparse != other.Sparse || d.SSHKey != other.SSHKey || d.ReadOnly != other.ReadOnly ||
		d.Source != other.Source || d.RcloneConfig != other.RcloneConfig || d.Auth != other.Auth {
		return false
	}
	if !stringSliceEqual(d.Excludes, other.Excludes) || !stringSliceEqual(d.Tags, other.Tags) {
		return false
	}
	if len(d.Engines) != len(other.Engines) {
		return false
	}
	for i, e := range d.Engines {
		oe := other.Engines[i]
		if e.Kind != oe.Kind || e.Extension != oe.Extension || e.DestSubDir != oe.DestSubDir {
			return false
		}
		if len(e.Data) != len(oe.Data) {
			return false
		}
		// Data values may be nested JSON-shaped structures, so compare by
		// marshaled form rather than Go equality (maps aren't comparable).
		aj, aerr := json.Marshal(e.Data)
		bj, berr := json.Marshal(oe.Data)
		if aerr != nil || berr != nil || string(aj) != string(bj) {
			return false
		}
	}
	return true
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MasterConfig is the top-level declared document, loaded either inline or
// from the synthetic "master" source's shared_config_manager.yaml file.
type MasterConfig struct {
	Sources    map[string]SourceDeclaration `yaml:"sources"`
	Standalone bool                         `yaml:"standalone,omitempty"`
}

// Decode parses a MasterConfig from YAML bytes and validates id/kind
// invariants.
func Decode(data []byte) (*MasterConfig, error) {
	var mc MasterConfig
	if err := yaml.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("decoding master config: %w", err)
	}
	if mc.Sources == nil {
		mc.Sources = map[string]SourceDeclaration{}
	}
	if _, reserved := mc.Sources[MasterID]; reserved {
		return nil, fmt.Errorf("config declares a source with reserved id %q", MasterID)
	}
	for id, d := range mc.Sources {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("source %q: %w", id, err)
		}
	}
	return &mc, nil
}
