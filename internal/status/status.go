// Package status builds the redacted, on-demand status views spec.md §3 and
// §8 describe ("Redaction" testable property): SourceStatus never contains
// ssh_key, and masks any template-data key that looks like a secret.
package status

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/camptocamp/shared-config-manager/internal/declaration"
)

// secretKeyRe matches template-data keys that should be masked, case
// insensitively, per spec.md §3: "any key whose upper-case name contains
// KEY, PASSWORD, or SECRET".
var secretKeyRe = regexp.MustCompile(`(?i)KEY|PASSWORD|SECRET`)

const maskedValue = "•••"

// configKeyRe matches the two known rclone/S3 secret fields inside a
// remote-sync declaration's raw INI config text.
var configKeyRe = regexp.MustCompile(`(?m)^(\s*(?:access_key_id|secret_access_key)\s*=\s*).*$`)

// TemplateEngineStatus is the redacted form of a TemplateEngineConfig.
type TemplateEngineStatus struct {
	Kind       string         `json:"type"`
	Extension  string         `json:"extension,omitempty"`
	DestSubDir string         `json:"dest_sub_dir,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// SourceStatus is the declaration with secrets stripped/masked, plus
// runtime-observed fields.
type SourceStatus struct {
	Kind      declaration.Kind        `json:"type"`
	TargetDir string                  `json:"target_dir,omitempty"`
	Repo      string                  `json:"repo,omitempty"`
	Branch    string                  `json:"branch,omitempty"`
	SubDir    string                  `json:"sub_dir,omitempty"`
	Sparse    bool                    `json:"sparse,omitempty"`
	Source    string                  `json:"source,omitempty"`
	Config    string                  `json:"config,omitempty"`
	Excludes  []string                `json:"excludes,omitempty"`
	Tags      []string                `json:"tags,omitempty"`
	Engines   []TemplateEngineStatus  `json:"template_engines,omitempty"`

	Hash     string `json:"hash,omitempty"`
	GitTags  []string `json:"git_tags,omitempty"`
	Filtered bool   `json:"filtered"`
	Loaded   bool   `json:"loaded"`
}

// FromDeclaration redacts d (stripping ssh_key, masking secret-shaped
// template data and rclone config fields) and attaches the runtime fields
// every engine reports.
func FromDeclaration(id string, d declaration.SourceDeclaration, hash string, gitTags []string, filtered, loaded bool) SourceStatus {
	engines := make([]TemplateEngineStatus, len(d.Engines))
	for i, e := range d.Engines {
		engines[i] = TemplateEngineStatus{
			Kind:       e.Kind,
			Extension:  e.Extension,
			DestSubDir: e.DestSubDir,
			Data:       maskSecretData(e.Data),
		}
	}

	return SourceStatus{
		Kind:      d.Kind,
		TargetDir: d.TargetDir,
		Repo:      d.Repo,
		Branch:    d.Branch,
		SubDir:    d.SubDir,
		Sparse:    d.Sparse,
		Source:    d.Source,
		Config:    maskRcloneConfig(d.RcloneConfig),
		Excludes:  d.Excludes,
		Tags:      d.Tags,
		Engines:   engines,
		Hash:      hash,
		GitTags:   gitTags,
		Filtered:  filtered,
		Loaded:    loaded,
	}
}

// maskSecretData walks data, which may be an arbitrarily nested JSON-shaped
// structure, masking any object value whose key looks like a secret at any
// depth. It round-trips through JSON so nested objects/arrays (not just the
// top level) get the same treatment.
func maskSecretData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}

	masked := maskJSON(raw, "")

	var out map[string]any
	if err := json.Unmarshal([]byte(masked), &out); err != nil {
		return data
	}
	return out
}

// maskJSON returns raw with every object value whose key matches
// secretKeyRe replaced by maskedValue, recursing into nested objects and
// arrays.
func maskJSON(raw []byte, path string) string {
	doc := string(raw)
	result := gjson.ParseBytes(raw)
	if result.IsArray() {
		elems := []string{}
		result.ForEach(func(_, value gjson.Result) bool {
			elems = append(elems, maskJSON([]byte(value.Raw), ""))
			return true
		})
		return "[" + strings.Join(elems, ",") + "]"
	}
	if !result.IsObject() {
		return doc
	}

	result.ForEach(func(key, value gjson.Result) bool {
		childPath := key.String()
		if path != "" {
			childPath = path + "." + childPath
		}

		switch {
		case secretKeyRe.MatchString(strings.ToUpper(key.String())):
			doc, _ = sjson.Set(doc, childPath, maskedValue)
		case value.IsObject() || value.IsArray():
			nested := maskJSON([]byte(value.Raw), "")
			doc, _ = sjson.SetRaw(doc, childPath, nested)
		}
		return true
	})
	return doc
}

func maskRcloneConfig(cfg string) string {
	if cfg == "" {
		return ""
	}
	return configKeyRe.ReplaceAllString(cfg, "${1}???")
}

// SlaveStatus is what each node reports in response to a get_slaves_status
// broadcast, keyed per spec.md §3.
type SlaveStatus struct {
	Hostname string                  `json:"hostname"`
	PID      int                     `json:"pid"`
	Sources  map[string]SourceStatus `json:"sources"`
}
