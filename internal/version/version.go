// Package version resolves a service's deployed artifact into a comparable
// descriptor. A changed descriptor means the service was redeployed.
package version

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/loykin/dirvisor/internal/config"
)

// Version is an opaque descriptor. Two versions are equal when their maps are equal.
type Version map[string]string

// Equal reports whether v and o hold the same keys and values.
func (v Version) Equal(o Version) bool {
	if len(v) != len(o) {
		return false
	}
	for k, a := range v {
		if b, ok := o[k]; !ok || a != b {
			return false
		}
	}
	return true
}

// Resolver maps a config to the version of what it would run.
type Resolver interface {
	Resolve(cfg config.ServiceConfig) Version
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(cfg config.ServiceConfig) Version

func (f ResolverFunc) Resolve(cfg config.ServiceConfig) Version { return f(cfg) }

// FileResolver describes the artifact file: cfg.Artifact when set, otherwise
// cmd[0] looked up in PATH. Symlinks are followed so repointing a "current"
// link changes the version.
type FileResolver struct{}

func (FileResolver) Resolve(cfg config.ServiceConfig) Version {
	return ResolvePath(sourcePath(cfg))
}

func sourcePath(cfg config.ServiceConfig) string {
	if cfg.Artifact != "" {
		return cfg.Artifact
	}
	if len(cfg.Cmd) == 0 {
		return ""
	}
	p := cfg.Cmd[0]
	if lp, err := exec.LookPath(p); err == nil {
		p = lp
	}
	if !filepath.IsAbs(p) && cfg.WorkingDirectory != "" && filepath.Base(p) != p {
		p = filepath.Join(cfg.WorkingDirectory, p)
	}
	return p
}

// ResolvePath describes the file at path. It never fails; an unresolvable
// path yields {"path": path, "state": "missing"}.
func ResolvePath(path string) Version {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return Version{"path": path, "state": "missing"}
	}
	fi, err := os.Stat(target)
	if err != nil {
		return Version{"path": path, "state": "missing"}
	}
	return Version{
		"path":   path,
		"target": target,
		"mtime":  strconv.FormatInt(fi.ModTime().UnixNano(), 10),
		"size":   strconv.FormatInt(fi.Size(), 10),
	}
}
