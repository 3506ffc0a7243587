package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genflow-studio/engine/internal/generation"
	"github.com/genflow-studio/engine/internal/services"
	"github.com/genflow-studio/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init("error", "json"); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type stubGenerator struct{}

func (stubGenerator) GenerateImage(context.Context, generation.ImageRequest) (*generation.ImageResult, error) {
	return &generation.ImageResult{Data: "UE5H", MimeType: "image/png", Usage: generation.Usage{TotalTokenCount: 7}}, nil
}

func (stubGenerator) DescribeImage(context.Context, generation.Image) (*generation.TextResult, error) {
	return &generation.TextResult{Text: "a red fox"}, nil
}

func (stubGenerator) EnhancePrompt(_ context.Context, prompt string) (*generation.TextResult, error) {
	return &generation.TextResult{Text: prompt + ", golden hour"}, nil
}

func (stubGenerator) GenerateVideo(context.Context, generation.VideoRequest) (*generation.VideoResult, error) {
	return &generation.VideoResult{Data: "AAAA", MimeType: "video/mp4"}, nil
}

// testRoutes mounts the canvas handlers the way the API router does.
func testRoutes(reg *services.Registry) http.Handler {
	canvases := NewCanvasesHandler(reg)
	graph := NewGraphHandler(reg)
	gen := NewGenerationHandler(reg)
	hist := NewHistoryHandler(reg)
	workflows := NewWorkflowsHandler(reg)
	stream := NewStreamHandler(reg)

	r := chi.NewRouter()
	r.Route("/canvases", func(cr chi.Router) {
		cr.Get("/", canvases.List)
		cr.Post("/", canvases.Create)
		cr.Route("/{id}", func(c chi.Router) {
			c.Get("/", canvases.Get)
			c.Delete("/", canvases.Delete)
			c.Put("/lock", canvases.Lock)
			c.Get("/export", canvases.Export)
			c.Post("/import", canvases.Import)
			c.Get("/gallery", canvases.Gallery)
			c.Get("/stream", stream.Stream)
			c.Post("/nodes", graph.CreateNode)
			c.Patch("/nodes/{nodeID}", graph.UpdateNode)
			c.Delete("/nodes/{nodeID}", graph.DeleteNode)
			c.Put("/nodes/{nodeID}/position", graph.MoveNode)
			c.Post("/nodes/{nodeID}/duplicate", graph.DuplicateNode)
			c.Post("/edges", graph.CreateEdge)
			c.Delete("/edges/{edgeID}", graph.DeleteEdge)
			c.Post("/groups", graph.CreateGroup)
			c.Post("/groups/{groupID}/ungroup", graph.Ungroup)
			c.Post("/generate", gen.Generate)
			c.Delete("/error", gen.DismissError)
			c.Post("/undo", hist.Undo)
			c.Post("/redo", hist.Redo)
			c.Post("/shortcut", hist.Shortcut)
			c.Post("/workflows", workflows.Save)
			c.Get("/workflows", workflows.List)
			c.Post("/workflows/{version}/load", workflows.Load)
		})
	})
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		Total    int64    `json:"total"`
		Warnings []string `json:"warnings"`
	} `json:"meta"`
}

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	reg := services.NewRegistry(services.RegistryOptions{
		Generator: stubGenerator{},
		Models:    generation.Models{Image: "img", Video: "vid"},
	})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return testRoutes(reg)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env envelope
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rr.Body.Bytes(), &env)
	}
	return rr, env
}

func createCanvas(t *testing.T, h http.Handler) string {
	t.Helper()
	rr, env := do(t, h, http.MethodPost, "/canvases", `{"name":"board"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var st services.WorkspaceState
	require.NoError(t, json.Unmarshal(env.Data, &st))
	return "/canvases/" + st.ID.String()
}

func state(t *testing.T, h http.Handler, base string) services.WorkspaceState {
	t.Helper()
	rr, env := do(t, h, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st services.WorkspaceState
	require.NoError(t, json.Unmarshal(env.Data, &st))
	return st
}

func TestCanvasLifecycle(t *testing.T) {
	h := newTestAPI(t)
	base := createCanvas(t, h)

	rr, env := do(t, h, http.MethodGet, "/canvases", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, env.Meta.Total)

	rr, _ = do(t, h, http.MethodPost, "/canvases", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, env = do(t, h, http.MethodGet, "/canvases/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid", env.Error.Code)

	rr, _ = do(t, h, http.MethodGet, "/canvases/9b2f7c1e-4a8d-4f6e-9c3b-2d1a0e5f7b6c", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, h, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr, _ = do(t, h, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGraphEditsAndHistory(t *testing.T) {
	h := newTestAPI(t)
	base := createCanvas(t, h)

	rr, env := do(t, h, http.MethodPost, base+"/nodes", `{"type":"textNode","content":"a red fox"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, string(env.Data), `"dnd-node_0"`)

	rr, _ = do(t, h, http.MethodPost, base+"/nodes", `{"type":"imageNode","position":{"x":300,"y":0}}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, _ = do(t, h, http.MethodPost, base+"/nodes", `{"type":"groupNode"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, h, http.MethodPost, base+"/edges", `{"source":"dnd-node_0","target":"dnd-node_1"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr, _ = do(t, h, http.MethodPatch, base+"/nodes/dnd-node_0", `{"content":"a blue fox"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, h, http.MethodPatch, base+"/nodes/missing", `{"content":"x"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	st := state(t, h, base)
	require.Len(t, st.Graph.Nodes, 2)
	require.Len(t, st.Graph.Edges, 1)
	assert.True(t, st.CanUndo)

	rr, env = do(t, h, http.MethodPost, base+"/undo", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(env.Data), `"applied":true`)
	assert.Equal(t, "a red fox", state(t, h, base).Graph.Nodes[0].Data.Content)

	rr, env = do(t, h, http.MethodPost, base+"/shortcut", `{"key":"z","ctrlKey":true,"shiftKey":true,"platform":"Linux x86_64"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, string(env.Data), `"action":"redo"`)
	assert.Equal(t, "a blue fox", state(t, h, base).Graph.Nodes[0].Data.Content)

	rr, env = do(t, h, http.MethodPost, base+"/redo", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(env.Data), `"applied":false`)

	rr, _ = do(t, h, http.MethodDelete, base+"/nodes/dnd-node_0", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, state(t, h, base).Graph.Edges)
}

func TestLockRejectsStructuralEdits(t *testing.T) {
	h := newTestAPI(t)
	base := createCanvas(t, h)

	rr, _ := do(t, h, http.MethodPost, base+"/nodes", `{"type":"imageNode"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, _ = do(t, h, http.MethodPut, base+"/lock", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, h, http.MethodPut, base+"/lock", `{"locked":true}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, env := do(t, h, http.MethodPut, base+"/nodes/dnd-node_0/position", `{"position":{"x":5,"y":5}}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", env.Error.Code)

	// content edits stay allowed
	rr, _ = do(t, h, http.MethodPatch, base+"/nodes/dnd-node_0", `{"label":"Hero"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGenerateRunsInBackground(t *testing.T) {
	h := newTestAPI(t)
	base := createCanvas(t, h)

	do(t, h, http.MethodPost, base+"/nodes", `{"type":"textNode","content":"a red fox"}`)
	do(t, h, http.MethodPost, base+"/nodes", `{"type":"imageNode"}`)
	do(t, h, http.MethodPost, base+"/edges", `{"source":"dnd-node_0","target":"dnd-node_1"}`)

	rr, _ := do(t, h, http.MethodPost, base+"/generate", `{"targetNodeId":"dnd-node_1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, h, http.MethodPost, base+"/generate", `{"targetNodeId":"dnd-node_1","kind":"image-generate"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	assert.Eventually(t, func() bool {
		rr, env := do(t, h, http.MethodGet, base, "")
		var st services.WorkspaceState
		if rr.Code != http.StatusOK || json.Unmarshal(env.Data, &st) != nil {
			return false
		}
		n, _ := st.Graph.Node("dnd-node_1")
		return st.Generation.State == "idle" && n.Data.Content != ""
	}, 2*time.Second, 10*time.Millisecond)

	st := state(t, h, base)
	n, _ := st.Graph.Node("dnd-node_1")
	assert.Equal(t, "data:image/png;base64,UE5H", n.Data.Content)
	assert.False(t, n.Data.Loading)
	assert.EqualValues(t, 7, st.Generation.Usage.SessionTotal)

	rr, env := do(t, h, http.MethodGet, base+"/gallery", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, env.Meta.Total)

	rr, _ = do(t, h, http.MethodDelete, base+"/error", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestExportImport(t *testing.T) {
	h := newTestAPI(t)
	src := createCanvas(t, h)
	do(t, h, http.MethodPost, src+"/nodes", `{"type":"textNode","content":"hello"}`)

	rr, _ := do(t, h, http.MethodGet, src+"/export", "")
	require.Equal(t, http.StatusOK, rr.Code)
	doc := rr.Body.Bytes()
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "workflow.json")

	dst := createCanvas(t, h)
	req := httptest.NewRequest(http.MethodPost, dst+"/import", bytes.NewReader(doc))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hello", state(t, h, dst).Graph.Nodes[0].Data.Content)

	rr, env := do(t, h, http.MethodPost, dst+"/import",
		`{"nodes":[{"id":"a","type":"stickyNote","position":{"x":0,"y":0},"data":{"label":"?"}}],"edges":[]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, env.Meta)
	assert.Len(t, env.Meta.Warnings, 1)

	rr, _ = do(t, h, http.MethodPost, dst+"/import", `{"nodes":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// heldGenerator blocks image generation until release is closed.
type heldGenerator struct {
	stubGenerator
	release chan struct{}
}

func (g heldGenerator) GenerateImage(ctx context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
	<-g.release
	return g.stubGenerator.GenerateImage(ctx, req)
}

func TestImportConflictsWithRunningGeneration(t *testing.T) {
	gen := heldGenerator{release: make(chan struct{})}
	reg := services.NewRegistry(services.RegistryOptions{Generator: gen})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	h := testRoutes(reg)
	base := createCanvas(t, h)

	do(t, h, http.MethodPost, base+"/nodes", `{"type":"textNode","content":"a red fox"}`)
	do(t, h, http.MethodPost, base+"/nodes", `{"type":"imageNode"}`)
	do(t, h, http.MethodPost, base+"/edges", `{"source":"dnd-node_0","target":"dnd-node_1"}`)
	rr, _ := do(t, h, http.MethodPost, base+"/generate", `{"targetNodeId":"dnd-node_1","kind":"image-generate"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	doc := `{"nodes":[{"id":"dnd-node_1","type":"imageNode","position":{"x":0,"y":0},"data":{"label":"Other"}}],"edges":[]}`
	rr, env := do(t, h, http.MethodPost, base+"/import", doc)
	assert.Equal(t, http.StatusConflict, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "conflict", env.Error.Code)
	assert.Len(t, state(t, h, base).Graph.Nodes, 2)

	close(gen.release)
	require.Eventually(t, func() bool {
		rr, _ := do(t, h, http.MethodPost, base+"/import", doc)
		return rr.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, state(t, h, base).Graph.Nodes, 1)
}

func TestWorkflowsNeedPersistence(t *testing.T) {
	h := newTestAPI(t)
	base := createCanvas(t, h)

	rr, env := do(t, h, http.MethodPost, base+"/workflows", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "unavailable", env.Error.Code)

	rr, _ = do(t, h, http.MethodPost, base+"/workflows/zero/load", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
