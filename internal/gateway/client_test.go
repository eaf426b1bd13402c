package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbp-platform/envmodel/internal/models"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
	user   string
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, _, _ := r.BasicAuth()
		reqs = append(reqs, recorded{r.Method, r.URL.Path, r.URL.RawQuery, string(body), user})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", Username: "admin", Password: "secret", Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return c, &reqs
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "not a url"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_AddItem(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":17,"name":"pi"}`))
	})

	ent, err := c.AddItem(context.Background(), CategoryDevices, DevicePayload{Name: "pi", ComponentType: "Raspberry Pi"})
	require.NoError(t, err)
	assert.Equal(t, "17", ent.ID)

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/devices", got.path)
	assert.Equal(t, "admin", got.user)
	assert.JSONEq(t, `{"name":"pi","componentType":"Raspberry Pi"}`, got.body)
}

func TestClient_ErrorBodies(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"data":{"globalMessage":"sensor already exists"}}`))
	})

	_, err := c.AddItem(context.Background(), CategorySensors, ComponentPayload{Name: "s"})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, StatusCode(err))
	assert.Equal(t, "sensor already exists", Message(err))
}

func TestClient_SaveModel(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"id":"m-1","name":"house","value":"{}"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	created, err := c.SaveModel(ctx, models.Model{Name: "house", Value: "{}"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", created.ID)

	updated, err := c.SaveModel(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "m-1", updated.ID)

	require.Len(t, *reqs, 2)
	assert.Equal(t, "/api/env-models", (*reqs)[0].path)
	assert.Equal(t, http.MethodPut, (*reqs)[1].method)
	assert.Equal(t, "/api/env-models/m-1", (*reqs)[1].path)
}

func TestClient_ModelsAndDeployment(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/env-models" {
			json.NewEncoder(w).Encode([]models.Model{{ID: "1", Name: "house", Owner: "admin"}})
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	list, err := c.ModelsByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "owner=admin", (*reqs)[0].query)

	require.NoError(t, c.Deploy(ctx, CategorySensors, "5", nil))
	require.NoError(t, c.Undeploy(ctx, CategorySensors, "5"))
	require.NoError(t, c.DeleteItem(ctx, CategoryActuators, "9"))
	require.NoError(t, c.DeleteModel(ctx, "admin", "my house"))

	assert.Equal(t, "/api/deploy/sensors/5", (*reqs)[1].path)
	assert.JSONEq(t, `{"parameters":[]}`, (*reqs)[1].body)
	assert.Equal(t, http.MethodDelete, (*reqs)[2].method)
	assert.Equal(t, "/api/actuators/9", (*reqs)[3].path)
	assert.Equal(t, "/api/env-models/by-name/my house", (*reqs)[4].path)
}
