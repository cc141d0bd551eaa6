// Package template generates starter service descriptors for the config
// directory.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/loykin/dirvisor/internal/config"
)

// TemplateType selects a starter descriptor.
type TemplateType string

const (
	TypeWeb        TemplateType = "web"
	TypeWebapp     TemplateType = "webapp"
	TypeAPI        TemplateType = "api"
	TypeService    TemplateType = "service"
	TypeWorker     TemplateType = "worker"
	TypeBackground TemplateType = "background"
	TypeDatabase   TemplateType = "database"
	TypeDB         TemplateType = "db"
	TypeSimple     TemplateType = "simple"
	TypeBasic      TemplateType = "basic"
)

// Format is a descriptor file format, named by its extension without the dot.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// Descriptor mirrors the on-disk service file. Field order is the order
// written out.
type Descriptor struct {
	Name             string               `json:"name" yaml:"name" toml:"name"`
	Cmd              []string             `json:"cmd" yaml:"cmd" toml:"cmd"`
	WorkingDirectory string               `json:"working_directory,omitempty" yaml:"working_directory,omitempty" toml:"working_directory,omitempty"`
	StopTime         int                  `json:"stop_time,omitempty" yaml:"stop_time,omitempty" toml:"stop_time,omitempty"`
	Environment      map[string]string    `json:"environment,omitempty" yaml:"environment,omitempty" toml:"environment,omitempty"`
	Resources        map[string][2]uint64 `json:"resources,omitempty" yaml:"resources,omitempty" toml:"resources,omitempty"`
}

// Generator renders starter descriptors.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the starter descriptor for templateType.
func (g *Generator) Generate(templateType TemplateType, name string) (*Descriptor, error) {
	if err := config.ValidateName(name); err != nil {
		return nil, err
	}
	switch templateType {
	case TypeWeb, TypeWebapp:
		return g.generateWebTemplate(name), nil
	case TypeAPI, TypeService:
		return g.generateAPITemplate(name), nil
	case TypeWorker, TypeBackground:
		return g.generateWorkerTemplate(name), nil
	case TypeDatabase, TypeDB:
		return g.generateDatabaseTemplate(name), nil
	case TypeSimple, TypeBasic:
		return g.generateSimpleTemplate(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: %s)",
			templateType, strings.Join(g.GetSupportedTypes(), ", "))
	}
}

// Render generates a descriptor and encodes it as format. The result is
// parsed back with config.Parse so it is always loadable by the watcher.
func (g *Generator) Render(templateType TemplateType, name string, format Format) ([]byte, error) {
	d, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	var out []byte
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return nil, err
		}
		_ = enc.Close()
		out = buf.Bytes()
	case FormatJSON:
		out, err = json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, err
		}
		out = append(out, '\n')
	case FormatTOML:
		out, err = toml.Marshal(d)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q (supported: yaml, json, toml)", format)
	}
	if _, err := config.Parse(out, "."+string(format)); err != nil {
		return nil, fmt.Errorf("generated descriptor does not parse: %w", err)
	}
	return out, nil
}

// GetSupportedTypes lists the primary type names, sorted.
func (g *Generator) GetSupportedTypes() []string {
	types := []string{
		string(TypeWeb),
		string(TypeAPI),
		string(TypeWorker),
		string(TypeDatabase),
		string(TypeSimple),
	}
	sort.Strings(types)
	return types
}

func (g *Generator) generateWebTemplate(name string) *Descriptor {
	return &Descriptor{
		Name:             name,
		Cmd:              []string{"python3", "-m", "http.server", "8000"},
		WorkingDirectory: "/srv/" + name,
		StopTime:         10,
		Environment: map[string]string{
			"PORT": "8000",
			"ENV":  "production",
		},
	}
}

func (g *Generator) generateAPITemplate(name string) *Descriptor {
	return &Descriptor{
		Name:             name,
		Cmd:              []string{"/srv/" + name + "/api-server", "--port", "3000"},
		WorkingDirectory: "/srv/" + name,
		StopTime:         15,
		Environment: map[string]string{
			"PORT":      "3000",
			"LOG_LEVEL": "info",
		},
		Resources: map[string][2]uint64{
			string(config.ResourceNoFile): {4096, 8192},
		},
	}
}

func (g *Generator) generateWorkerTemplate(name string) *Descriptor {
	return &Descriptor{
		Name:             name,
		Cmd:              []string{"/srv/" + name + "/worker"},
		WorkingDirectory: "/srv/" + name,
		StopTime:         30,
		Environment: map[string]string{
			"WORKER_THREADS": "4",
			"LOG_LEVEL":      "info",
		},
		Resources: map[string][2]uint64{
			string(config.ResourceNProc): {256, 512},
		},
	}
}

func (g *Generator) generateDatabaseTemplate(name string) *Descriptor {
	return &Descriptor{
		Name:             name,
		Cmd:              []string{"mongod", "--dbpath", "/data/db", "--port", "27017"},
		WorkingDirectory: "/data",
		StopTime:         60,
		Environment: map[string]string{
			"DB_PORT": "27017",
			"DB_PATH": "/data/db",
		},
		Resources: map[string][2]uint64{
			string(config.ResourceNoFile): {64000, 64000},
		},
	}
}

func (g *Generator) generateSimpleTemplate(name string) *Descriptor {
	return &Descriptor{
		Name: name,
		Cmd:  []string{"sleep", "3600"},
	}
}
