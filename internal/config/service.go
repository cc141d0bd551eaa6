package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// DefaultStopTime is used when a descriptor does not set stop_time.
const DefaultStopTime = 10 * time.Second

// Unlimited marks an rlimit value with no bound.
const Unlimited = math.MaxUint64

// ErrInvalid is wrapped by every descriptor validation failure.
var ErrInvalid = errors.New("invalid service config")

// Resource names a per-process limit.
type Resource string

const (
	ResourceCPU    Resource = "cpu"    // cpu time, seconds
	ResourceAS     Resource = "as"     // address space size, bytes
	ResourceNoFile Resource = "nofile" // open file count
	ResourceNProc  Resource = "nproc"  // process count
	ResourceStack  Resource = "stack"  // stack size, bytes
)

var resourceAliases = map[string]Resource{
	"cpu":           ResourceCPU,
	"cpu_time":      ResourceCPU,
	"rlimit_cpu":    ResourceCPU,
	"as":            ResourceAS,
	"address_space": ResourceAS,
	"rlimit_as":     ResourceAS,
	"nofile":        ResourceNoFile,
	"open_files":    ResourceNoFile,
	"rlimit_nofile": ResourceNoFile,
	"nproc":         ResourceNProc,
	"processes":     ResourceNProc,
	"rlimit_nproc":  ResourceNProc,
	"stack":         ResourceStack,
	"rlimit_stack":  ResourceStack,
}

// Limit is a soft/hard rlimit pair.
type Limit struct {
	Soft uint64 `json:"soft"`
	Hard uint64 `json:"hard"`
}

// ServiceConfig is one parsed service descriptor.
type ServiceConfig struct {
	Name             string             `json:"name"`
	Cmd              []string           `json:"cmd"`
	Environment      map[string]string  `json:"environment,omitempty"`
	Resources        map[Resource]Limit `json:"resources,omitempty"`
	WorkingDirectory string             `json:"working_directory,omitempty"`
	StopTime         time.Duration      `json:"stop_time"`
	Artifact         string             `json:"artifact,omitempty"`
}

// EnvList renders Environment as KEY=VALUE pairs.
func (c ServiceConfig) EnvList() []string {
	out := make([]string, 0, len(c.Environment))
	for k, v := range c.Environment {
		out = append(out, k+"="+v)
	}
	return out
}

// Clone returns a deep copy.
func (c ServiceConfig) Clone() ServiceConfig {
	out := c
	out.Cmd = append([]string(nil), c.Cmd...)
	if c.Environment != nil {
		out.Environment = make(map[string]string, len(c.Environment))
		for k, v := range c.Environment {
			out.Environment[k] = v
		}
	}
	if c.Resources != nil {
		out.Resources = make(map[Resource]Limit, len(c.Resources))
		for k, v := range c.Resources {
			out.Resources[k] = v
		}
	}
	return out
}

// DefaultExtensions lists the descriptor file types the watcher picks up.
var DefaultExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// ParseFile reads and validates a descriptor. The decoder is chosen by the
// file extension.
func ParseFile(path string) (*ServiceConfig, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return Parse(b, filepath.Ext(path))
}

// Parse decodes raw descriptor bytes of the given format (".yaml", ".json", ".toml").
func Parse(data []byte, ext string) (*ServiceConfig, error) {
	raw := make(map[string]any)
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrInvalid, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrInvalid, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: toml: %v", ErrInvalid, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported extension %q", ErrInvalid, ext)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	return fromMap(raw)
}

func fromMap(raw map[string]any) (*ServiceConfig, error) {
	cfg := &ServiceConfig{StopTime: DefaultStopTime}

	name, ok := raw["name"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: name is required and must be a string", ErrInvalid)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	cfg.Name = name

	cmd, err := parseCmd(raw["cmd"])
	if err != nil {
		return nil, err
	}
	cfg.Cmd = cmd

	if v, ok := raw["environment"]; ok && v != nil {
		env, err := cast.ToStringMapStringE(v)
		if err != nil {
			return nil, fmt.Errorf("%w: environment: %v", ErrInvalid, err)
		}
		for k := range env {
			if k == "" || strings.Contains(k, "=") {
				return nil, fmt.Errorf("%w: environment: bad key %q", ErrInvalid, k)
			}
		}
		cfg.Environment = env
	}

	if v, ok := raw["resources"]; ok && v != nil {
		res, err := parseResources(v)
		if err != nil {
			return nil, err
		}
		cfg.Resources = res
	}

	if v, ok := raw["working_directory"]; ok && v != nil {
		wd, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: working_directory must be a string", ErrInvalid)
		}
		cfg.WorkingDirectory = wd
	}

	if v, ok := raw["stop_time"]; ok && v != nil {
		secs, err := cast.ToIntE(v)
		if err != nil {
			return nil, fmt.Errorf("%w: stop_time: %v", ErrInvalid, err)
		}
		if secs < 0 {
			return nil, fmt.Errorf("%w: stop_time cannot be negative", ErrInvalid)
		}
		cfg.StopTime = time.Duration(secs) * time.Second
	}

	if v, ok := raw["artifact"]; ok && v != nil {
		a, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: artifact must be a string", ErrInvalid)
		}
		cfg.Artifact = a
	}
	return cfg, nil
}

// ValidateName checks that name can be used as a state file name.
func ValidateName(name string) error {
	n := strings.TrimSpace(name)
	if n == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalid)
	}
	if n != name {
		return fmt.Errorf("%w: name %q has surrounding whitespace", ErrInvalid, name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: name %q cannot start with '.'", ErrInvalid, name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: name %q contains a path separator", ErrInvalid, name)
	}
	return nil
}

func parseCmd(v any) ([]string, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: cmd is required", ErrInvalid)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: cmd must be a list, got %T", ErrInvalid, v)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: cmd is empty", ErrInvalid)
	}
	out := make([]string, 0, len(items))
	for i, it := range items {
		s, err := cast.ToStringE(it)
		if err != nil {
			return nil, fmt.Errorf("%w: cmd[%d]: %v", ErrInvalid, i, err)
		}
		out = append(out, s)
	}
	if out[0] == "" {
		return nil, fmt.Errorf("%w: cmd[0] is empty", ErrInvalid)
	}
	return out, nil
}

func parseResources(v any) (map[Resource]Limit, error) {
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, fmt.Errorf("%w: resources: %v", ErrInvalid, err)
	}
	out := make(map[Resource]Limit, len(m))
	for k, pair := range m {
		r, ok := resourceAliases[strings.ToLower(k)]
		if !ok {
			return nil, fmt.Errorf("%w: resources: unknown limit %q", ErrInvalid, k)
		}
		items, ok := pair.([]any)
		if !ok || len(items) != 2 {
			return nil, fmt.Errorf("%w: resources.%s must be a [soft, hard] pair", ErrInvalid, k)
		}
		soft, err := limitValue(items[0])
		if err != nil {
			return nil, fmt.Errorf("%w: resources.%s soft: %v", ErrInvalid, k, err)
		}
		hard, err := limitValue(items[1])
		if err != nil {
			return nil, fmt.Errorf("%w: resources.%s hard: %v", ErrInvalid, k, err)
		}
		if soft > hard {
			return nil, fmt.Errorf("%w: resources.%s soft limit exceeds hard limit", ErrInvalid, k)
		}
		out[r] = Limit{Soft: soft, Hard: hard}
	}
	return out, nil
}

func limitValue(v any) (uint64, error) {
	if s, ok := v.(string); ok && strings.EqualFold(strings.TrimSpace(s), "unlimited") {
		return Unlimited, nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, err
	}
	if n == -1 {
		return Unlimited, nil
	}
	if n < 0 {
		return 0, fmt.Errorf("negative limit %d", n)
	}
	return uint64(n), nil
}
