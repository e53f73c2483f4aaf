// Package template implements the two template-expansion strategies
// spec.md §2/§4.3 describe, grounded on original_source's mako/shell
// template engines: a text-template strategy (Go's text/template stands in
// for the original's Mako — no ecosystem Go template library is a closer
// match than the standard library's own template engine, so this is one of
// the stdlib-by-design choices DESIGN.md lists, not an omission) and a
// shell-substitution strategy that shells out to envsubst exactly like the
// original's ShellEngine does.
package template

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/tidwall/gjson"

	"github.com/camptocamp/shared-config-manager/internal/declaration"
	"github.com/camptocamp/shared-config-manager/internal/subprocess"
)

const (
	KindText  = "text-template"
	KindShell = "shell-substitution"
)

// Evaluator expands one TemplateEngineConfig's matching files.
type Evaluator struct {
	cfg declaration.TemplateEngineConfig
	env map[string]any
}

// New builds an Evaluator. env is the already-filtered (by env_prefixes)
// environment data; cfg.Data is merged over it, cfg.Data taking priority.
// cfg.Data may hold nested JSON-shaped values, not just strings.
func New(cfg declaration.TemplateEngineConfig, env map[string]string) *Evaluator {
	data := make(map[string]any, len(env)+len(cfg.Data))
	for k, v := range env {
		data[k] = v
	}
	for k, v := range cfg.Data {
		data[k] = v
	}
	return &Evaluator{cfg: cfg, env: data}
}

// FileError records one file's expansion failure so the caller can log and
// count it while letting every other file proceed (spec.md §7's
// TemplateError: "single-file expansion failed; logged and counted, other
// files proceed, source remains loaded").
type FileError struct {
	Path string
	Err  error
}

// Evaluate expands every file in files whose name ends with cfg.Extension,
// in the order given. files are paths relative to targetPath, matching the
// single pre-enumeration spec.md §4.3 requires ("Enumerate files under
// target_path once before any engine runs, pass the list to every engine in
// declaration order").
func (e *Evaluator) Evaluate(targetPath string, files []string) []FileError {
	var errs []FileError
	for _, rel := range files {
		if e.cfg.Extension == "" || !strings.HasSuffix(rel, e.cfg.Extension) {
			continue
		}
		srcPath := filepath.Join(targetPath, rel)
		dstRel := strings.TrimSuffix(rel, e.cfg.Extension)
		var dstPath string
		if e.cfg.DestSubDir != "" {
			dstPath = filepath.Join(targetPath, e.cfg.DestSubDir, dstRel)
		} else {
			dstPath = filepath.Join(targetPath, dstRel)
		}

		if err := e.evaluateFile(srcPath, dstPath); err != nil {
			errs = append(errs, FileError{Path: rel, Err: err})
		}
	}
	return errs
}

func (e *Evaluator) evaluateFile(srcPath, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("creating output dir for %s: %w", dstPath, err)
	}

	switch e.cfg.Kind {
	case KindText:
		return e.evaluateText(srcPath, dstPath)
	case KindShell:
		return e.evaluateShell(srcPath, dstPath)
	default:
		return fmt.Errorf("unrecognized template engine kind %q", e.cfg.Kind)
	}
}

func (e *Evaluator) evaluateText(srcPath, dstPath string) error {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("reading template %s: %w", srcPath, err)
	}

	tpl, err := template.New(filepath.Base(srcPath)).Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parsing template %s: %w", srcPath, err)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, e.env); err != nil {
		return fmt.Errorf("executing template %s: %w", srcPath, err)
	}

	if err := os.WriteFile(dstPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing template output %s: %w", dstPath, err)
	}
	return nil
}

func (e *Evaluator) evaluateShell(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening template %s: %w", srcPath, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("creating output %s: %w", dstPath, err)
	}
	defer func() { _ = out.Close() }()

	return subprocess.RunEnvsubst(context.Background(), in, out, e.flattenEnv())
}

// flattenEnv turns e.env, which may hold nested JSON-shaped values, into a
// flat KEY=VALUE list envsubst can consume. Scalars become their own
// variable; nested objects/arrays are walked with gjson and each leaf
// becomes PARENT_CHILD, upper-cased, since envsubst has no notion of
// structure.
func (e *Evaluator) flattenEnv() []string {
	raw, err := json.Marshal(e.env)
	if err != nil {
		return nil
	}

	var out []string
	var walk func(prefix string, result gjson.Result)
	walk = func(prefix string, result gjson.Result) {
		if result.IsObject() {
			result.ForEach(func(key, value gjson.Result) bool {
				child := key.String()
				if prefix != "" {
					child = prefix + "_" + child
				}
				walk(strings.ToUpper(child), value)
				return true
			})
			return
		}
		if result.IsArray() {
			result.ForEach(func(idx, value gjson.Result) bool {
				walk(prefix+"_"+idx.String(), value)
				return true
			})
			return
		}
		out = append(out, prefix+"="+result.String())
	}
	walk("", gjson.ParseBytes(raw))
	return out
}

// FilterEnv returns the environment variables whose name starts with one of
// prefixes, spec.md §6's "env_prefixes" knob: an explicit allow-list,
// deliberately the inverse of original_source's deny-list REMOVED_ENV.
func FilterEnv(environ []string, prefixes []string) map[string]string {
	out := map[string]string{}
	if len(prefixes) == 0 {
		return out
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				out[k] = v
				break
			}
		}
	}
	return out
}
