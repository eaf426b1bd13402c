package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbp-platform/envmodel/internal/deploy"
	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/lifecycle"
	"github.com/mbp-platform/envmodel/internal/models"
	"github.com/mbp-platform/envmodel/internal/store"
)

// newBackend serves an in-process backend over HTTP and returns a REST
// client pointed at it.
func newBackend(t *testing.T) (*gateway.Client, *deploy.SimulatedRuntime) {
	t.Helper()
	rt := deploy.NewSimulatedRuntime(zerolog.Nop())
	local := gateway.NewLocal(store.NewMemoryStore(), rt, zerolog.Nop())
	require.NoError(t, local.SeedAdapters(context.Background(), []gateway.AdapterPayload{{Name: "temp-adapter", Image: "mbp/temp:1"}}))

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	RegisterBackendRoutes(e, NewBackendHandler(local))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	client, err := gateway.NewClient(gateway.ClientConfig{BaseURL: srv.URL + BackendPrefix, Timeout: 5 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return client, rt
}

func TestBackend_ModelRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := newBackend(t)

	created, err := client.SaveModel(ctx, models.Model{Name: "house", Owner: "admin", Value: `{"formatVersion":1}`})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	created.Description = "ground floor"
	updated, err := client.SaveModel(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	got, err := gateway.ModelByName(ctx, client, "admin", "house")
	require.NoError(t, err)
	assert.Equal(t, "ground floor", got.Description)

	require.NoError(t, client.DeleteModel(ctx, "admin", "house"))
	err = client.DeleteModel(ctx, "admin", "house")
	assert.True(t, gateway.IsNotFound(err), "got %v", err)
}

func TestBackend_ValidationMessagesReachTheClient(t *testing.T) {
	ctx := context.Background()
	client, _ := newBackend(t)

	_, err := client.AddItem(ctx, gateway.CategorySensors, gateway.ComponentPayload{Name: "temp"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, gateway.StatusCode(err))
	assert.Contains(t, gateway.Message(err), "device must be set")
	assert.Contains(t, gateway.Message(err), "adapter must be set")

	_, err = client.SaveModel(ctx, models.Model{Owner: "admin"})
	assert.Contains(t, gateway.Message(err), "model name must not be empty")
}

func TestBackend_OrchestratorOverHTTP(t *testing.T) {
	ctx := context.Background()
	client, rt := newBackend(t)

	g := graph.New()
	orch := lifecycle.New(g, client)
	orch.SetModel(models.Model{Name: "house", Owner: "admin"})

	dev, err := g.CreateNode(graph.TypeDescriptor{Kind: models.NodeTypeDevice, ClsName: "raspberry-pi", Width: 70, Height: 70}, graph.Point{})
	require.NoError(t, err)
	sen, err := g.CreateNode(graph.TypeDescriptor{Kind: models.NodeTypeSensor, ClsName: "temperature", Width: 50, Height: 50}, graph.Point{})
	require.NoError(t, err)
	_, err = g.ApplyAttributes(dev.ElementID, graph.Attributes{Name: "pi", EntityType: "Raspberry Pi", IP: "10.0.0.2"})
	require.NoError(t, err)
	_, err = g.ApplyAttributes(sen.ElementID, graph.Attributes{Name: "temp", EntityType: "Temperature", Adapter: "temp-adapter"})
	require.NoError(t, err)
	_, err = g.Connect(dev.ElementID, sen.ElementID, "", false)
	require.NoError(t, err)

	op, err := orch.RegisterAll(ctx)
	require.NoError(t, err)
	require.True(t, op.State().Success, op.State().Message)

	op, err = orch.DeployAll(ctx)
	require.NoError(t, err)
	require.True(t, op.State().Success, op.State().Message)
	assert.Equal(t, 1, rt.Len())

	op, err = orch.DeleteNode(ctx, dev.ElementID)
	require.NoError(t, err)
	assert.True(t, op.State().Success, op.State().Message)
	assert.Zero(t, g.Len())
	assert.Zero(t, rt.Len())

	saved, err := gateway.ModelByName(ctx, client, "admin", "house")
	require.NoError(t, err)
	doc, err := saved.Document()
	require.NoError(t, err)
	assert.Empty(t, doc.Nodes)
}
