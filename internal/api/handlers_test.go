package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mbp-platform/envmodel/internal/config"
	"github.com/mbp-platform/envmodel/internal/editor"
	"github.com/mbp-platform/envmodel/internal/lifecycle"
	"github.com/mbp-platform/envmodel/internal/models"
	"github.com/mbp-platform/envmodel/internal/session"
	"github.com/mbp-platform/envmodel/internal/testutil"
)

type testServer struct {
	e   *echo.Echo
	gw  *testutil.MockGateway
	mgr *session.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gw := testutil.NewMockGateway()
	mgr := session.NewManager(gw, config.DefaultPalette(), session.Config{
		Orchestrator: []lifecycle.Option{lifecycle.WithClearAfter(time.Hour)},
	}, zerolog.Nop())

	e := echo.New()
	SetupMiddleware(e, zerolog.Nop(), false)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Sessions:    mgr,
		Gateway:     gw,
		GatewayMode: config.GatewayRemote,
		Version:     "test",
		Logger:      zerolog.Nop(),
	}))
	return &testServer{e: e, gw: gw, mgr: mgr}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) open(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/sessions", `{"owner":"admin","name":"house"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[sessionResponse](t, rec).ID
}

func (s *testServer) drop(t *testing.T, id, kind string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/sessions/"+id+"/palette", `{"kind":"`+kind+`"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/sessions/"+id+"/drop", `{"x":10,"y":20}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[acceptedResponse](t, rec)
	require.True(t, res.Accepted)
	return res.Node.ElementID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"gateway":"remote"`)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t)

	rec := s.do(t, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[sessionResponse](t, rec).Snapshot
	assert.Equal(t, "house", snap.Model.Name)

	rec = s.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
}

func TestOpenSession_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/sessions", `{"name":"house"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner")

	rec = s.do(t, http.MethodPost, "/api/sessions", `{"owner":"admin","name":"ghost","load":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "GATEWAY_ERROR")
}

func TestEditingFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t)
	base := "/api/sessions/" + id

	dev := s.drop(t, id, "device")
	sensor := s.drop(t, id, "sensor")

	rec := s.do(t, http.MethodPost, base+"/drop", `{"x":0,"y":0}`)
	assert.False(t, decode[acceptedResponse](t, rec).Accepted, "stamp already consumed")

	rec = s.do(t, http.MethodPost, base+"/palette", `{"kind":"spaceship"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/nodes/"+dev+"/click", "")
	require.True(t, decode[acceptedResponse](t, rec).Accepted)

	rec = s.do(t, http.MethodPut, base+"/form", `{"fields":{"name":"hall-pi","ip":"10.0.0.2"}}`)
	assert.True(t, decode[acceptedResponse](t, rec).Accepted)
	rec = s.do(t, http.MethodPut, base+"/form", `{"fields":{"adapter":"x"}}`)
	assert.False(t, decode[acceptedResponse](t, rec).Accepted)

	rec = s.do(t, http.MethodPost, base+"/canvas/click", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/connections", `{"sourceId":"`+dev+`","targetId":"`+sensor+`","label":"reads"}`)
	conn := decode[acceptedResponse](t, rec)
	require.True(t, conn.Accepted)
	require.NotNil(t, conn.Connection)

	rec = s.do(t, http.MethodPost, base+"/connections", `{"sourceId":"`+sensor+`","targetId":"`+dev+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[acceptedResponse](t, rec).Accepted)

	rec = s.do(t, http.MethodPut, base+"/connections/"+conn.Connection.ID, `{"label":"feeds","visible":true}`)
	assert.True(t, decode[acceptedResponse](t, rec).Accepted)

	rec = s.do(t, http.MethodGet, base+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[models.ModelDocument](t, rec)
	require.Len(t, doc.Nodes, 2)
	require.Len(t, doc.Connections, 1)
	assert.Equal(t, "feeds", doc.Connections[0].Label)
	assert.Equal(t, "hall-pi", doc.Nodes[0].Name)
	assert.Equal(t, "hall-pi", doc.Nodes[1].Device, "device name is denormalized onto the sensor")
}

func TestGestures(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t)
	base := "/api/sessions/" + id
	dev := s.drop(t, id, "device")

	rec := s.do(t, http.MethodPost, base+"/gesture/start", `{"kind":"rotate","elementId":"`+dev+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "rotate needs focus")

	rec = s.do(t, http.MethodPost, base+"/gesture/drag", `{"x":1,"y":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/gesture/start", `{"kind":"move","elementId":"`+dev+`","x":10,"y":20}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, base+"/gesture/end", `{"x":110,"y":70}`)
	require.Equal(t, http.StatusOK, rec.Code)
	geo := decode[acceptedResponse](t, rec).Geometry
	require.NotNil(t, geo)
	assert.Equal(t, 110.0, geo.X)
	assert.Equal(t, 70.0, geo.Y)

	rec = s.do(t, http.MethodPost, base+"/gesture/start", `{"kind":"move","elementId":"element_404"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperations(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t)
	base := "/api/sessions/" + id
	dev := s.drop(t, id, "device")
	sensor := s.drop(t, id, "sensor")
	s.do(t, http.MethodPost, base+"/connections", `{"sourceId":"`+dev+`","targetId":"`+sensor+`"}`)

	rec := s.do(t, http.MethodGet, base+"/processing", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, op := range []string{"register", "deploy", "undeploy", "save"} {
		rec = s.do(t, http.MethodPost, base+"/"+op, "")
		require.Equal(t, http.StatusOK, rec.Code, op)
		res := decode[operationResponse](t, rec)
		require.NotNil(t, res.Operation, op)
		assert.True(t, res.Operation.Success, "%s: %s", op, res.Operation.Message)
	}

	rec = s.do(t, http.MethodGet, base+"/processing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OperationSave, decode[models.ProcessingState](t, rec).Kind)

	assert.Len(t, s.gw.CallsTo("AddItem"), 2)
	assert.Len(t, s.gw.CallsTo("Deploy"), 1)
	assert.Len(t, s.gw.CallsTo("Undeploy"), 1)

	rec = s.do(t, http.MethodDelete, base+"/nodes/"+dev, "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[operationResponse](t, rec)
	require.NotNil(t, res.Operation)
	assert.True(t, res.Operation.Success)
	assert.Len(t, s.gw.CallsTo("DeleteItem"), 2)

	rec = s.do(t, http.MethodDelete, base+"/focused", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[operationResponse](t, rec).Operation)
}

func TestOperations_Overlap(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t)
	s.drop(t, id, "device")
	sess, ok := s.mgr.GetSession(id)
	require.True(t, ok)

	s.gw.Gate = make(chan struct{})
	s.gw.Entered = make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sess.Editor.RegisterAll(t.Context())
	}()
	<-s.gw.Entered

	rec := s.do(t, http.MethodPost, "/api/sessions/"+id+"/save", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "in progress")

	close(s.gw.Gate)
	<-done
}

func TestOperations_CompleteAfterClientDisconnect(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t)
	base := "/api/sessions/" + id
	dev := s.drop(t, id, "device")
	sensor := s.drop(t, id, "sensor")
	s.do(t, http.MethodPost, base+"/connections", `{"sourceId":"`+dev+`","targetId":"`+sensor+`"}`)
	rec := s.do(t, http.MethodPost, base+"/register", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[operationResponse](t, rec).Operation.Success)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	req := httptest.NewRequest(http.MethodDelete, base+"/nodes/"+sensor, nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	op := decode[operationResponse](t, rec).Operation
	require.NotNil(t, op)
	assert.True(t, op.Success, op.Message)
	assert.Len(t, s.gw.CallsTo("DeleteItem"), 1)
	assert.Len(t, s.gw.CallsTo("SaveModel"), 2)

	saved, ok := s.gw.SavedModel("house")
	require.True(t, ok)
	doc, err := saved.Document()
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, dev, doc.Nodes[0].ElementID)
	assert.NotEmpty(t, doc.Nodes[0].ID)
}

func TestExport_Msgpack(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t)
	s.drop(t, id, "room")

	rec := s.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=msgpack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var doc models.ModelDocument
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, 250.0, doc.Nodes[0].Width)

	rec = s.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImport_RoundTrip(t *testing.T) {
	s := newTestServer(t)
	src := s.open(t)
	s.drop(t, src, "room")
	s.drop(t, src, "device")

	rec := s.do(t, http.MethodGet, "/api/sessions/"+src+"/export?format=msgpack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := base64.StdEncoding.EncodeToString(rec.Body.Bytes())

	rec = s.do(t, http.MethodPost, "/api/sessions", `{"owner":"admin","name":"copy"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	dst := decode[sessionResponse](t, rec).ID

	rec = s.do(t, http.MethodPost, "/api/sessions/"+dst+"/import", `{"format":"msgpack","data":"`+data+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[editor.Snapshot](t, rec)
	assert.Equal(t, "copy", snap.Model.Name)
	assert.Len(t, snap.Document.Nodes, 2)

	for _, tc := range []struct {
		name string
		body string
	}{
		{"missing data", `{"format":"json"}`},
		{"bad format", `{"format":"xml","data":"e30="}`},
		{"bad base64", `{"data":"%%%"}`},
		{"future version", `{"data":"` + base64.StdEncoding.EncodeToString([]byte(`{"formatVersion":99}`)) + `"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/sessions/"+dst+"/import", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestModels(t *testing.T) {
	s := newTestServer(t)
	doc := models.NewModelDocument()
	doc.Nodes = append(doc.Nodes, models.NodeRecord{NodeType: models.NodeTypeRoom, ElementID: "element_1"})
	m := models.Model{ID: "m-1", Name: "house", Owner: "admin"}
	require.NoError(t, m.SetDocument(doc))
	s.gw.PutModel(m)

	rec := s.do(t, http.MethodGet, "/api/models", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/models?username=admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]modelSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Nodes)

	rec = s.do(t, http.MethodDelete, "/api/models/house?username=admin", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := s.gw.SavedModel("house")
	assert.False(t, ok)
}

func TestErrorHandler_UnknownError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	ErrorHandler(assert.AnError, c)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNKNOWN_ERROR")

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	ErrorHandler(lifecycle.ErrOperationInProgress, c)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
