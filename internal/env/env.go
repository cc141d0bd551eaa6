package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child environments from three layers: an optional base
// (the supervisor's own environment), global daemon variables and the
// per-service environment.
type Env struct {
	global Var
	base   Var
}

// New returns an Env with an empty base.
func New() *Env {
	return &Env{global: make(Var), base: make(Var)}
}

// FromOS snapshots the current process environment as the base layer.
func (e *Env) FromOS() *Env {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
	return e
}

// WithGlobal adds KEY=VALUE pairs to the global layer. Malformed pairs are skipped.
func (e *Env) WithGlobal(pairs []string) *Env {
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.global[k] = v
		}
	}
	return e
}

// Set sets a single global variable.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.global[k] = v
}

// Merge composes base, global and perService (later wins) and expands
// ${VAR} references against the composed map. Expansion is a single pass.
// The result is sorted by key.
func (e *Env) Merge(perService map[string]string) []string {
	m := make(Var, len(e.base)+len(e.global)+len(perService))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	for k, v := range perService {
		if k == "" {
			continue
		}
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

// expand replaces ${NAME} with its value from m; unknown names become empty.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+2+j]])
		s = s[i+3+j:]
	}
	return b.String()
}
