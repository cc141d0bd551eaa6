package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/dirvisor/internal/config"
)

func TestGenerateAliases(t *testing.T) {
	g := NewGenerator()
	for _, pair := range [][2]TemplateType{
		{TypeWeb, TypeWebapp},
		{TypeAPI, TypeService},
		{TypeWorker, TypeBackground},
		{TypeDatabase, TypeDB},
		{TypeSimple, TypeBasic},
	} {
		a, err := g.Generate(pair[0], "svc")
		require.NoError(t, err)
		b, err := g.Generate(pair[1], "svc")
		require.NoError(t, err)
		assert.Equal(t, a, b, pair[0])
		assert.Equal(t, "svc", a.Name)
		assert.NotEmpty(t, a.Cmd)
	}
}

func TestGenerateErrors(t *testing.T) {
	g := NewGenerator()
	_, err := g.Generate("cron", "svc")
	assert.ErrorContains(t, err, "unknown template type")

	_, err = g.Generate(TypeWeb, ".hidden")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRenderRoundTripsThroughParser(t *testing.T) {
	g := NewGenerator()
	for _, typ := range g.GetSupportedTypes() {
		for _, f := range []Format{FormatYAML, FormatJSON, FormatTOML} {
			t.Run(typ+"/"+string(f), func(t *testing.T) {
				b, err := g.Render(TemplateType(typ), "demo", f)
				require.NoError(t, err)

				cfg, err := config.Parse(b, "."+string(f))
				require.NoError(t, err)
				d, _ := g.Generate(TemplateType(typ), "demo")
				assert.Equal(t, d.Cmd, cfg.Cmd)
				assert.Equal(t, d.WorkingDirectory, cfg.WorkingDirectory)
				if d.StopTime > 0 {
					assert.Equal(t, time.Duration(d.StopTime)*time.Second, cfg.StopTime)
				} else {
					assert.Equal(t, config.DefaultStopTime, cfg.StopTime)
				}
				assert.Len(t, cfg.Resources, len(d.Resources))
			})
		}
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := NewGenerator().Render(TypeSimple, "demo", "ini")
	assert.ErrorContains(t, err, "unknown format")
}
