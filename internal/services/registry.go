package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/generation"
	"github.com/genflow-studio/engine/internal/models"
	"github.com/genflow-studio/engine/internal/workflow"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
)

var (
	workspacesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genflow_workspaces_active",
		Help: "Workspaces held in memory",
	})

	workspacesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genflow_workspaces_evicted_total",
		Help: "Idle workspaces saved and dropped from memory",
	})
)

var ErrPersistenceDisabled = appErr.New(appErr.CodeUnavailable, "workflow persistence is not configured")

type RegistryOptions struct {
	Generator generation.Generator
	Models    generation.Models
	// Workflows is optional; without it workspaces live in memory only.
	Workflows     WorkflowService
	Autosave      AutosaveEnqueuer
	AutosaveDelay time.Duration
}

// WorkspaceSummary is a list entry.
type WorkspaceSummary struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Locked     bool       `json:"locked"`
	Loaded     bool       `json:"loaded"`
	Nodes      int        `json:"nodes"`
	LastActive *time.Time `json:"lastActive,omitempty"`
}

// Registry owns the workspaces served by this process.
type Registry struct {
	opts RegistryOptions

	mu     sync.Mutex
	spaces map[uuid.UUID]*Workspace
}

func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{opts: opts, spaces: map[uuid.UUID]*Workspace{}}
}

func (r *Registry) newWorkspace(id uuid.UUID, name string) *Workspace {
	var autosave AutosaveEnqueuer
	if r.opts.Workflows != nil {
		autosave = r.opts.Autosave
	}
	return NewWorkspace(id, WorkspaceOptions{
		Name:          name,
		Generator:     r.opts.Generator,
		Models:        r.opts.Models,
		Autosave:      autosave,
		AutosaveDelay: r.opts.AutosaveDelay,
	})
}

func (r *Registry) Create(ctx context.Context, name string) (*Workspace, error) {
	id := uuid.New()
	if r.opts.Workflows != nil {
		c, err := r.opts.Workflows.CreateCanvas(ctx, name)
		if err != nil {
			return nil, err
		}
		id = c.ID
	}

	w := r.newWorkspace(id, name)
	r.mu.Lock()
	r.spaces[id] = w
	workspacesActive.Set(float64(len(r.spaces)))
	r.mu.Unlock()

	logger.L().Info("workspace created", zap.String("canvas_id", id.String()), zap.String("name", name))
	return w, nil
}

// Get returns the workspace, loading it from its current saved workflow when
// it is not in memory.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Workspace, error) {
	r.mu.Lock()
	w, ok := r.spaces[id]
	r.mu.Unlock()
	if ok {
		return w, nil
	}
	if r.opts.Workflows == nil {
		return nil, appErr.New(appErr.CodeNotFound, "canvas not found").WithMeta("canvas_id", id.String())
	}

	c, err := r.opts.Workflows.GetCanvas(ctx, id)
	if err != nil {
		return nil, err
	}
	w = r.newWorkspace(c.ID, c.Name)
	w.SetLocked(c.Locked)

	v, err := r.opts.Workflows.GetCurrentWorkflow(ctx, id)
	switch {
	case err == nil:
		doc, err := workflow.Parse(v.Document)
		if err != nil {
			return nil, err
		}
		if err := w.seed(doc, v.Checksum); err != nil {
			return nil, err
		}
	case !appErr.IsCode(err, appErr.CodeNotFound):
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another caller may have loaded it meanwhile
	if existing, ok := r.spaces[id]; ok {
		_ = w.Close(ctx)
		return existing, nil
	}
	r.spaces[id] = w
	workspacesActive.Set(float64(len(r.spaces)))
	logger.L().Info("workspace loaded", zap.String("canvas_id", id.String()), zap.Int("nodes", len(w.model.Graph().Nodes)))
	return w, nil
}

// List returns loaded workspaces and, when persistence is configured, the
// saved canvases that are not loaded.
func (r *Registry) List(ctx context.Context) ([]WorkspaceSummary, error) {
	r.mu.Lock()
	out := make([]WorkspaceSummary, 0, len(r.spaces))
	loaded := make(map[uuid.UUID]bool, len(r.spaces))
	for id, w := range r.spaces {
		last := w.LastActive()
		out = append(out, WorkspaceSummary{
			ID:         id,
			Name:       w.Name(),
			Locked:     w.Locked(),
			Loaded:     true,
			Nodes:      len(w.model.Graph().Nodes),
			LastActive: &last,
		})
		loaded[id] = true
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(*out[j].LastActive) })

	if r.opts.Workflows != nil {
		saved, err := r.opts.Workflows.ListCanvases(ctx, 0)
		if err != nil {
			return nil, err
		}
		for _, c := range saved {
			if loaded[c.ID] {
				continue
			}
			out = append(out, WorkspaceSummary{ID: c.ID, Name: c.Name, Locked: c.Locked})
		}
	}
	return out, nil
}

func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	w, ok := r.spaces[id]
	delete(r.spaces, id)
	workspacesActive.Set(float64(len(r.spaces)))
	r.mu.Unlock()

	if r.opts.Workflows != nil {
		if err := r.opts.Workflows.DeleteCanvas(ctx, id); err != nil && !(ok && appErr.IsCode(err, appErr.CodeNotFound)) {
			return err
		}
	} else if !ok {
		return appErr.New(appErr.CodeNotFound, "canvas not found").WithMeta("canvas_id", id.String())
	}
	if ok {
		if err := w.Close(ctx); err != nil {
			logger.L().Warn("workspace closed with generation in flight", zap.String("canvas_id", id.String()), zap.Error(err))
		}
	}
	logger.L().Info("workspace deleted", zap.String("canvas_id", id.String()))
	return nil
}

func (r *Registry) SetLocked(ctx context.Context, id uuid.UUID, locked bool) (*Workspace, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.opts.Workflows != nil {
		if err := r.opts.Workflows.SetLocked(ctx, id, locked); err != nil {
			return nil, err
		}
	}
	w.SetLocked(locked)
	return w, nil
}

// SaveWorkflow stores the workspace's current graph, media included, as a new
// version.
func (r *Registry) SaveWorkflow(ctx context.Context, id uuid.UUID, source string) (*models.WorkflowVersion, bool, error) {
	if r.opts.Workflows == nil {
		return nil, false, ErrPersistenceDisabled
	}
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	w.touch()
	_, doc, err := w.snapshot()
	if err != nil {
		return nil, false, err
	}
	return r.opts.Workflows.SaveWorkflow(ctx, id, doc, source)
}

func (r *Registry) ListWorkflows(ctx context.Context, id uuid.UUID) ([]models.WorkflowVersion, error) {
	if r.opts.Workflows == nil {
		return nil, ErrPersistenceDisabled
	}
	return r.opts.Workflows.ListWorkflows(ctx, id)
}

// LoadWorkflow replaces the workspace graph with a saved version, with the
// same semantics as an import, including the rejection while a generation
// is in flight.
func (r *Registry) LoadWorkflow(ctx context.Context, id uuid.UUID, version int) (*workflow.Imported, error) {
	if r.opts.Workflows == nil {
		return nil, ErrPersistenceDisabled
	}
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := r.opts.Workflows.GetWorkflow(ctx, id, version)
	if err != nil {
		return nil, err
	}
	doc, err := workflow.Parse(v.Document)
	if err != nil {
		return nil, err
	}
	return w.Load(doc)
}

// EvictIdle saves and drops workspaces idle for longer than ttl. Workspaces
// with a generation in flight are kept. Without persistence nothing is
// evicted.
func (r *Registry) EvictIdle(ctx context.Context, ttl time.Duration) int {
	if r.opts.Workflows == nil || ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var idle []*Workspace
	for _, w := range r.spaces {
		if w.LastActive().Before(cutoff) && !w.Busy() {
			idle = append(idle, w)
		}
	}
	r.mu.Unlock()

	evicted := 0
	for _, w := range idle {
		log := logger.ForCanvas(w.ID())
		_, doc, err := w.snapshot()
		if err == nil {
			_, _, err = r.opts.Workflows.SaveWorkflow(ctx, w.ID(), doc, SourceAutosave)
		}
		if err != nil {
			log.Warn("save before eviction failed, keeping workspace", zap.Error(err))
			continue
		}
		r.mu.Lock()
		// skip if it was used while saving
		if r.spaces[w.ID()] != w || !w.LastActive().Before(cutoff) {
			r.mu.Unlock()
			continue
		}
		delete(r.spaces, w.ID())
		workspacesActive.Set(float64(len(r.spaces)))
		r.mu.Unlock()

		_ = w.Close(ctx)
		workspacesEvicted.Inc()
		evicted++
		log.Info("idle workspace evicted")
	}
	return evicted
}

// Close saves every workspace when persistence is configured and closes them.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	spaces := make([]*Workspace, 0, len(r.spaces))
	for _, w := range r.spaces {
		spaces = append(spaces, w)
	}
	r.spaces = map[uuid.UUID]*Workspace{}
	workspacesActive.Set(0)
	r.mu.Unlock()

	var firstErr error
	for _, w := range spaces {
		if err := w.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if r.opts.Workflows == nil {
			continue
		}
		_, doc, err := w.snapshot()
		if err == nil {
			_, _, err = r.opts.Workflows.SaveWorkflow(ctx, w.ID(), doc, SourceAutosave)
		}
		if err != nil {
			logger.L().Warn("save on shutdown failed", zap.String("canvas_id", w.ID().String()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
