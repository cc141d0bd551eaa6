package env

import (
	"strings"
	"testing"
)

// FuzzMerge checks that Merge never panics and always yields well-formed
// KEY=VALUE pairs.
func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X"))

	f.Fuzz(func(t *testing.T, globalB []byte, perB []byte) {
		global := splitNZ(string(globalB))
		per := make(map[string]string)
		for _, kv := range splitNZ(string(perB)) {
			if k, v, ok := split(kv); ok {
				per[k] = v
			}
		}
		if len(global) > 20 {
			global = global[:20]
		}

		out := New().WithGlobal(global).Merge(per)
		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("empty key: %q", kv)
			}
		}
	})
}

func splitNZ(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "\n") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
