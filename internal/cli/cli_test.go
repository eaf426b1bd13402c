package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/models"
	"github.com/mbp-platform/envmodel/internal/testutil"
)

func seedHouse(t *testing.T, gw *testutil.MockGateway) {
	t.Helper()
	g := graph.New()
	dev, err := g.CreateNode(graph.TypeDescriptor{Kind: models.NodeTypeDevice, ClsName: "raspberry-pi", Width: 70, Height: 70}, graph.Point{X: 100, Y: 100})
	require.NoError(t, err)
	sen, err := g.CreateNode(graph.TypeDescriptor{Kind: models.NodeTypeSensor, ClsName: "temperature", Width: 50, Height: 50}, graph.Point{X: 200, Y: 100})
	require.NoError(t, err)
	_, err = g.ApplyAttributes(dev.ElementID, graph.Attributes{Name: "pi", EntityType: "Raspberry Pi"})
	require.NoError(t, err)
	_, err = g.ApplyAttributes(sen.ElementID, graph.Attributes{Name: "temp", EntityType: "Temperature", Adapter: "temp-adapter"})
	require.NoError(t, err)
	_, err = g.Connect(dev.ElementID, sen.ElementID, "", false)
	require.NoError(t, err)

	m := models.Model{ID: "m-1", Name: "house", Owner: "admin", Description: "ground floor"}
	require.NoError(t, m.SetDocument(g.Serialize()))
	gw.PutModel(m)
}

type result struct {
	out string
	err error
}

func run(t *testing.T, gw *testutil.MockGateway, stdin string, args ...string) result {
	t.Helper()
	root := NewRootCommand(gw)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--no-color", "--profile", filepath.Join(t.TempDir(), "profile.toml")}, args...))
	err := root.ExecuteContext(t.Context())
	return result{out: out.String(), err: err}
}

func TestModelsList(t *testing.T) {
	gw := testutil.NewMockGateway()
	seedHouse(t, gw)

	res := run(t, gw, "", "models", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "NAME")
	assert.Contains(t, res.out, "house")
	assert.Contains(t, res.out, "ground floor")

	calls := gw.CallsTo("ModelsByUsername")
	require.Len(t, calls, 1)
	assert.Equal(t, "admin", calls[0].ID)
}

func TestModelsList_OwnerFlag(t *testing.T) {
	gw := testutil.NewMockGateway()
	seedHouse(t, gw)

	res := run(t, gw, "", "--owner", "bob", "models", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "(none)")
}

func TestModelsExport(t *testing.T) {
	gw := testutil.NewMockGateway()
	seedHouse(t, gw)

	t.Run("json", func(t *testing.T) {
		res := run(t, gw, "", "models", "export", "house")
		require.NoError(t, res.err)
		var doc models.ModelDocument
		require.NoError(t, json.Unmarshal([]byte(res.out), &doc))
		assert.Len(t, doc.Nodes, 2)
		assert.Len(t, doc.Connections, 1)
	})

	t.Run("msgpack to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "house.msgpack")
		res := run(t, gw, "", "models", "export", "house", "--format", "msgpack", "--file", path)
		require.NoError(t, res.err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var doc models.ModelDocument
		require.NoError(t, msgpack.Unmarshal(data, &doc))
		assert.Len(t, doc.Nodes, 2)
	})

	t.Run("unknown format", func(t *testing.T) {
		res := run(t, gw, "", "models", "export", "house", "--format", "xml")
		assert.ErrorContains(t, res.err, "unsupported format")
	})

	t.Run("missing model", func(t *testing.T) {
		res := run(t, gw, "", "models", "export", "shed")
		assert.ErrorContains(t, res.err, `model "shed" not found`)
	})
}

func TestModelsDelete(t *testing.T) {
	gw := testutil.NewMockGateway()
	seedHouse(t, gw)

	res := run(t, gw, "n\n", "models", "delete", "house")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "Aborted.")
	assert.Empty(t, gw.CallsTo("DeleteModel"))

	res = run(t, gw, "", "models", "delete", "house", "--yes")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "deleted house")
	_, ok := gw.SavedModel("house")
	assert.False(t, ok)
}

func TestRegisterThenDeploy(t *testing.T) {
	gw := testutil.NewMockGateway()
	seedHouse(t, gw)

	res := run(t, gw, "", "register", "house")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "register house")
	assert.Contains(t, res.out, "2 registered")
	assert.Len(t, gw.CallsTo("AddItem"), 2)
	require.Len(t, gw.CallsTo("SaveModel"), 1)

	saved, ok := gw.SavedModel("house")
	require.True(t, ok)
	doc, err := saved.Document()
	require.NoError(t, err)
	for _, n := range doc.Nodes {
		assert.NotEmpty(t, n.ID, n.ElementID)
	}

	res = run(t, gw, "", "deploy", "house", "--concurrency", "1")
	require.NoError(t, res.err)
	assert.Len(t, gw.CallsTo("Deploy"), 1)
	assert.Contains(t, res.out, "1 deployed")

	res = run(t, gw, "", "undeploy", "house")
	require.NoError(t, res.err)
	assert.Len(t, gw.CallsTo("Undeploy"), 1)
}

func TestRegister_ReportsFailures(t *testing.T) {
	gw := testutil.NewMockGateway()
	seedHouse(t, gw)
	gw.FailAdd["temp"] = errors.New("adapter temp-adapter does not exist")

	res := run(t, gw, "", "register", "house")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "finished with errors")
	assert.Contains(t, res.out, "adapter temp-adapter does not exist")
	assert.Contains(t, res.out, string(models.ErrorRegistration))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()

	p, err := LoadProfile(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile(), p)

	path := filepath.Join(dir, "profile.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[gateway]
base_url = "https://mbp.example.org"
username = "carol"
timeout_seconds = 5
`), 0o644))
	p, err = LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://mbp.example.org", p.Gateway.BaseURL)
	assert.Equal(t, "admin", p.Owner)
	assert.Equal(t, 5, int(p.Timeout().Seconds()))

	require.NoError(t, os.WriteFile(path, []byte("[gateway\n"), 0o644))
	_, err = LoadProfile(path)
	assert.ErrorContains(t, err, "parse profile")
}

func TestSaveProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profile.toml")
	p := DefaultProfile()
	p.Owner = "dave"
	require.NoError(t, SaveProfile(path, p))

	got, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "dave", got.Owner)
}
