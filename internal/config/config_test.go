package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbp-platform/envmodel/internal/models"
)

func TestLoadConfig_WritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, GatewayLocal, cfg.Gateway.Mode)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.DataDirectory)
	assert.Equal(t, filepath.Join(dir, "data", "envmodel.duckdb"), cfg.Storage.DSN)
	assert.Equal(t, 3*time.Second, cfg.ClearAfter())
	assert.Len(t, cfg.Runtime.Adapters, 2)

	// Reading the written file back yields the same adapters, not doubled.
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Runtime.Adapters, again.Runtime.Adapters)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")
	xml := `<EnvModelEditor>
  <Gateway><Mode>remote</Mode><BaseURL>http://mbp:8080/MBP</BaseURL></Gateway>
  <Storage><Driver>postgres</Driver><DSN>host=db user=mbp</DSN></Storage>
  <Runtime><Adapters><Adapter name="a" image="img/a"/></Adapters></Runtime>
</EnvModelEditor>`
	require.NoError(t, os.WriteFile(path, []byte(xml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, GatewayRemote, cfg.Gateway.Mode)
	assert.Equal(t, "http://mbp:8080/MBP", cfg.Gateway.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout())
	assert.Equal(t, "host=db user=mbp", cfg.Storage.DSN, "postgres DSNs are not paths")
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, []AdapterConfig{{Name: "a", Image: "img/a"}}, cfg.Runtime.Adapters)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("MBP_BASE_URL", "http://remote/MBP")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.xml"))
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, GatewayRemote, cfg.Gateway.Mode)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "nats://bus:4222", cfg.Events.NATSURL)
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.Mode = GatewayRemote
	assert.ErrorContains(t, cfg.Validate(), "BaseURL")

	cfg.Gateway.Mode = "carrier-pigeon"
	assert.ErrorContains(t, cfg.Validate(), "unknown mode")

	cfg = DefaultConfig()
	cfg.Editor.Concurrency = -1
	assert.Error(t, cfg.Validate())
}

func TestDefaultPalette_Lookup(t *testing.T) {
	p := DefaultPalette()

	d, err := p.Lookup(models.NodeTypeDevice, "")
	require.NoError(t, err)
	assert.Equal(t, "raspberry-pi", d.ClsName)
	assert.Equal(t, "Raspberry Pi", d.EntityType)
	assert.Equal(t, 70.0, d.Width)

	s, err := p.Lookup(models.NodeTypeSensor, "camera")
	require.NoError(t, err)
	assert.Equal(t, "Camera", s.EntityType)

	w, err := p.Lookup(models.NodeTypeWall, "")
	require.NoError(t, err)
	assert.Equal(t, "wall", w.ClsName)
	assert.Empty(t, w.EntityType)

	_, err = p.Lookup(models.NodeTypeSensor, "teleporter")
	assert.Error(t, err)
	_, err = p.Lookup(models.NodeTypeWall, "brick")
	assert.Error(t, err)
}

func TestParsePalette(t *testing.T) {
	src := `
palette:
  - kind: actuator
    width: 40
    height: 40
    items:
      - name: fan
        type: Fan
      - name: siren
        clsName: alarm
        type: Siren
        width: 80
`
	p, err := ParsePalette(strings.NewReader(src))
	require.NoError(t, err)

	d, err := p.Lookup(models.NodeTypeActuator, "siren")
	require.NoError(t, err)
	assert.Equal(t, "alarm", d.ClsName)
	assert.Equal(t, 80.0, d.Width)
	assert.Equal(t, 40.0, d.Height)

	_, err = ParsePalette(strings.NewReader("palette:\n  - kind: spaceship\n"))
	assert.Error(t, err)
}
