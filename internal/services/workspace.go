package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/canvas"
	"github.com/genflow-studio/engine/internal/generation"
	"github.com/genflow-studio/engine/internal/history"
	"github.com/genflow-studio/engine/internal/keymap"
	"github.com/genflow-studio/engine/internal/workflow"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
	"github.com/genflow-studio/engine/pkg/utils"
)

const (
	EventGraph      = "graph"
	EventGeneration = "generation"

	eventBuffer          = 16
	defaultAutosaveDelay = 2 * time.Second
)

var (
	ErrLocked = appErr.New(appErr.CodeConflict, "canvas is locked")
	// ErrImportBusy rejects replacing the graph under an in-flight generation.
	ErrImportBusy = appErr.New(appErr.CodeConflict, "cannot replace the canvas while a generation is in progress")

	errNothingToRestore = errors.New("nothing to restore")
)

// AutosaveRequest is one flush of a workspace. Session and Revision name the
// committed graph the document was encoded from; a pair never carries two
// different documents.
type AutosaveRequest struct {
	CanvasID uuid.UUID
	Session  uuid.UUID
	Revision uint64
	Document []byte
}

// AutosaveEnqueuer hands a workspace snapshot to background persistence.
type AutosaveEnqueuer interface {
	EnqueueAutosave(ctx context.Context, req AutosaveRequest) error
}

// Event is pushed to watchers after every commit and after every generation
// resolves.
type Event struct {
	Type       string            `json:"type"`
	Revision   uint64            `json:"revision"`
	CanUndo    bool              `json:"canUndo"`
	CanRedo    bool              `json:"canRedo"`
	Generation *GenerationStatus `json:"generation,omitempty"`
}

type GenerationStatus struct {
	State  string                `json:"state"`
	Active *generation.Request   `json:"active,omitempty"`
	Error  *generation.Failure   `json:"error,omitempty"`
	Usage  generation.TokenUsage `json:"usage"`
}

// WorkspaceState is a point-in-time view of a workspace.
type WorkspaceState struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Locked       bool             `json:"locked"`
	Revision     uint64           `json:"revision"`
	Graph        canvas.Graph     `json:"graph"`
	CanUndo      bool             `json:"canUndo"`
	CanRedo      bool             `json:"canRedo"`
	HistoryIndex int              `json:"historyIndex"`
	HistoryLen   int              `json:"historyLength"`
	Generation   GenerationStatus `json:"generation"`
}

type GalleryItem struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	MimeType string `json:"mimeType,omitempty"`
}

// NodeInput describes a node to add. Zero fields keep the kind's defaults.
type NodeInput struct {
	Kind     canvas.NodeKind
	Position canvas.Position
	Patch    canvas.NodePatch
}

type WorkspaceOptions struct {
	Name      string
	Generator generation.Generator
	Models    generation.Models
	// Autosave is optional; nil disables autosave.
	Autosave      AutosaveEnqueuer
	AutosaveDelay time.Duration
}

// Workspace is the state container of one canvas: graph model, history, id
// allocator and generation orchestrator. All methods are safe for concurrent use.
type Workspace struct {
	id        uuid.UUID
	session   uuid.UUID
	name      string
	createdAt time.Time

	model   *canvas.Model
	history *history.History
	alloc   *canvas.Allocator
	orch    *generation.Orchestrator

	autosave      AutosaveEnqueuer
	autosaveDelay time.Duration

	mu          sync.Mutex
	locked      bool
	lastActive  time.Time
	watchers    map[int]chan Event
	nextWatcher int
	saveTimer   *time.Timer
	lastSaved   string
	closed      bool

	unsubscribe []func()
	log         *zap.Logger
}

func NewWorkspace(id uuid.UUID, opts WorkspaceOptions) *Workspace {
	if opts.AutosaveDelay <= 0 {
		opts.AutosaveDelay = defaultAutosaveDelay
	}
	w := &Workspace{
		id:            id,
		session:       uuid.New(),
		name:          opts.Name,
		createdAt:     time.Now().UTC(),
		model:         canvas.NewModel(),
		history:       history.New(),
		alloc:         canvas.NewAllocator(),
		autosave:      opts.Autosave,
		autosaveDelay: opts.AutosaveDelay,
		lastActive:    time.Now(),
		watchers:      map[int]chan Event{},
		log:           logger.ForCanvas(id),
	}
	w.orch = generation.NewOrchestrator(opts.Generator, w.model, opts.Models)

	// history first so events carry the post-commit undo/redo availability
	w.unsubscribe = append(w.unsubscribe,
		w.model.Subscribe(w.history.Observe),
		w.model.Subscribe(w.onCommit),
	)
	return w
}

func (w *Workspace) ID() uuid.UUID { return w.id }

func (w *Workspace) Name() string { return w.name }

func (w *Workspace) CreatedAt() time.Time { return w.createdAt }

// LastActive is the time of the last call that read or changed the workspace.
func (w *Workspace) LastActive() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

func (w *Workspace) touch() {
	w.mu.Lock()
	w.lastActive = time.Now()
	w.mu.Unlock()
}

func (w *Workspace) Locked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.locked
}

func (w *Workspace) SetLocked(locked bool) {
	w.mu.Lock()
	w.locked = locked
	w.lastActive = time.Now()
	w.mu.Unlock()
	w.log.Info("canvas lock changed", zap.Bool("locked", locked))
}

func (w *Workspace) checkUnlocked() error {
	if w.Locked() {
		return ErrLocked
	}
	return nil
}

// Graph returns the live graph.
func (w *Workspace) Graph() canvas.Graph {
	w.touch()
	return w.model.Graph()
}

func (w *Workspace) AddNode(in NodeInput) (canvas.Node, error) {
	w.touch()
	if in.Kind == canvas.KindGroup {
		return canvas.Node{}, appErr.New(appErr.CodeInvalid, "groups are created from a selection")
	}
	n := canvas.NewNode(in.Kind, w.alloc.NextID(), in.Position)
	if r := in.Patch.AspectRatio; r != nil && *r != "" && !r.Valid() {
		return canvas.Node{}, appErr.New(appErr.CodeInvalid, "unsupported aspect ratio")
	}
	applyPatch(&n.Data, in.Patch)

	if _, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.AddNode(g, n)
	}); err != nil {
		return canvas.Node{}, err
	}
	w.log.Debug("node added", zap.String("node_id", n.ID), zap.String("type", string(n.Kind)))
	return n, nil
}

func (w *Workspace) UpdateNode(id string, patch canvas.NodePatch) (canvas.Node, error) {
	w.touch()
	g, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.UpdateNode(g, id, patch)
	})
	if err != nil {
		return canvas.Node{}, err
	}
	n, _ := g.Node(id)
	return n, nil
}

// MoveNode sets the node position. While dragging is true the change is not
// recorded in history; the final call with dragging false is.
func (w *Workspace) MoveNode(id string, pos canvas.Position, dragging bool) error {
	w.touch()
	if err := w.checkUnlocked(); err != nil {
		return err
	}
	_, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.MoveNode(g, id, pos, dragging)
	})
	return err
}

func (w *Workspace) DeleteNode(id string) error {
	w.touch()
	_, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.RemoveNode(g, id)
	})
	if err == nil {
		w.log.Debug("node deleted", zap.String("node_id", id))
	}
	return err
}

// Duplicate copies a node with its connections and returns the copy.
func (w *Workspace) Duplicate(id string, pos canvas.Position) (canvas.Node, error) {
	w.touch()
	var copyID string
	g, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		out, newID, err := canvas.Duplicate(g, w.alloc, id, pos)
		copyID = newID
		return out, err
	})
	if err != nil {
		return canvas.Node{}, err
	}
	n, _ := g.Node(copyID)
	return n, nil
}

func (w *Workspace) Connect(source, target string) (canvas.Edge, error) {
	w.touch()
	if err := w.checkUnlocked(); err != nil {
		return canvas.Edge{}, err
	}
	e := canvas.Edge{ID: w.alloc.NextEdgeID(), Source: source, Target: target}
	if _, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.Connect(g, e.ID, source, target)
	}); err != nil {
		return canvas.Edge{}, err
	}
	return e, nil
}

func (w *Workspace) Disconnect(edgeID string) error {
	w.touch()
	if err := w.checkUnlocked(); err != nil {
		return err
	}
	_, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.Disconnect(g, edgeID)
	})
	return err
}

func (w *Workspace) Group(members []string, label string) (canvas.Node, error) {
	w.touch()
	id := w.alloc.NextID()
	g, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.Group(g, id, members, label)
	})
	if err != nil {
		return canvas.Node{}, err
	}
	n, _ := g.Node(id)
	return n, nil
}

func (w *Workspace) Ungroup(groupID string) error {
	w.touch()
	_, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.Ungroup(g, groupID)
	})
	return err
}

// Generate submits req. It returns once the target is marked loading; the
// request resolves in the background and watchers receive a generation event.
func (w *Workspace) Generate(ctx context.Context, req generation.Request) error {
	w.touch()
	results, err := w.orch.Submit(ctx, req)
	if err != nil {
		return err
	}
	go func() {
		res := <-results
		w.touch()
		if res.Err != nil {
			w.log.Info("generation resolved with error", zap.String("node_id", req.TargetNodeID),
				zap.String("code", string(appErr.CodeOf(res.Err))))
		}
		w.publish(Event{
			Type:       EventGeneration,
			Revision:   w.model.Revision(),
			CanUndo:    w.history.CanUndo(),
			CanRedo:    w.history.CanRedo(),
			Generation: w.generationStatus(),
		})
	}()
	return nil
}

// DismissError clears the generation error slot.
func (w *Workspace) DismissError() {
	w.touch()
	w.orch.Dismiss()
}

// Undo restores the previous snapshot. applied is false when there is none.
func (w *Workspace) Undo() (applied bool, err error) {
	return w.restore(w.history.Undo)
}

// Redo restores the next snapshot. applied is false when there is none.
func (w *Workspace) Redo() (applied bool, err error) {
	return w.restore(w.history.Redo)
}

func (w *Workspace) restore(step func() (canvas.Graph, bool)) (bool, error) {
	w.touch()
	// step runs inside the commit lane so the restoring flag it sets is
	// consumed by this commit and no other.
	_, err := w.model.Update(func(cur canvas.Graph) (canvas.Graph, error) {
		snap, ok := step()
		if !ok {
			return cur, errNothingToRestore
		}
		return keepLoading(snap, cur), nil
	})
	if errors.Is(err, errNothingToRestore) {
		return false, nil
	}
	return err == nil, err
}

// keepLoading carries live loading flags onto a restored snapshot so an
// in-flight request keeps its spinner.
func keepLoading(snap, live canvas.Graph) canvas.Graph {
	loading := map[string]bool{}
	for _, n := range live.Nodes {
		if n.Data.Loading {
			loading[n.ID] = true
		}
	}
	for i := range snap.Nodes {
		if loading[snap.Nodes[i].ID] {
			snap.Nodes[i].Data.Loading = true
		}
	}
	return snap
}

// Shortcut resolves a key event and applies the resulting action.
func (w *Workspace) Shortcut(ev keymap.KeyEvent) (keymap.Action, bool, error) {
	action := keymap.Resolve(ev)
	var (
		applied bool
		err     error
	)
	switch action {
	case keymap.ActionUndo:
		applied, err = w.Undo()
	case keymap.ActionRedo:
		applied, err = w.Redo()
	}
	return action, applied, err
}

// Export returns the workflow document of the live graph. Image and video
// payloads are left out.
func (w *Workspace) Export() ([]byte, error) {
	w.touch()
	return workflow.Marshal(w.model.Graph())
}

// snapshot encodes the live graph with media payloads for persistence,
// together with the revision it was read at.
func (w *Workspace) snapshot() (uint64, []byte, error) {
	rev, g := w.model.Snapshot()
	doc, err := workflow.MarshalSnapshot(g)
	return rev, doc, err
}

// Import replaces the graph with the decoded document. A rejected document
// leaves the workspace untouched. While a generation is in flight the import
// is rejected with ErrImportBusy.
func (w *Workspace) Import(data []byte) (*workflow.Imported, error) {
	imported, err := workflow.Import(data)
	if err != nil {
		return nil, err
	}
	return w.apply(imported)
}

// Load replaces the graph with an already parsed document, under the same
// rules as Import.
func (w *Workspace) Load(doc *workflow.Document) (*workflow.Imported, error) {
	imported, err := workflow.FromDocument(doc)
	if err != nil {
		return nil, err
	}
	return w.apply(imported)
}

func (w *Workspace) apply(imported *workflow.Imported) (*workflow.Imported, error) {
	w.touch()
	// checked inside the commit lane: a Submit either marked its target
	// before this runs or marks it on the imported graph after
	if _, err := w.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		if w.Busy() {
			return g, ErrImportBusy
		}
		return imported.Graph.Clone(), nil
	}); err != nil {
		return nil, err
	}
	// never move the counter backwards: history can still restore nodes
	// created before the import
	base := imported.MaxSuffix + 1
	if peek := w.alloc.Peek(); peek > base {
		base = peek
	}
	w.alloc.Reseed(base)

	w.log.Info("workflow imported",
		zap.Int("nodes", len(imported.Graph.Nodes)),
		zap.Int("edges", len(imported.Graph.Edges)),
		zap.Int("warnings", len(imported.Warnings)),
		zap.Int("next_id", base))
	return imported, nil
}

// seed loads a persisted document as the starting point of a rehydrated
// workspace: the result is the only history entry and is not autosaved again.
func (w *Workspace) seed(doc *workflow.Document, checksum string) error {
	if _, err := w.Load(doc); err != nil {
		return err
	}
	w.history.Reset(w.model.Graph())
	w.mu.Lock()
	w.lastSaved = checksum
	if w.saveTimer != nil {
		w.saveTimer.Stop()
	}
	w.mu.Unlock()
	return nil
}

// Busy reports whether a generation request occupies the slot.
func (w *Workspace) Busy() bool {
	state, _ := w.orch.State()
	return state.Busy()
}

// Gallery lists image nodes that hold content.
func (w *Workspace) Gallery() []GalleryItem {
	w.touch()
	nodes := canvas.ImageNodes(w.model.Graph())
	out := make([]GalleryItem, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, GalleryItem{ID: n.ID, Label: n.Data.Label, MimeType: n.Data.MimeType})
	}
	return out
}

func (w *Workspace) State() WorkspaceState {
	w.touch()
	return WorkspaceState{
		ID:           w.id,
		Name:         w.name,
		Locked:       w.Locked(),
		Revision:     w.model.Revision(),
		Graph:        w.model.Graph(),
		CanUndo:      w.history.CanUndo(),
		CanRedo:      w.history.CanRedo(),
		HistoryIndex: w.history.Index(),
		HistoryLen:   w.history.Len(),
		Generation:   *w.generationStatus(),
	}
}

func (w *Workspace) generationStatus() *GenerationStatus {
	state, active := w.orch.State()
	return &GenerationStatus{
		State:  state.String(),
		Active: active,
		Error:  w.orch.LastError(),
		Usage:  w.orch.Usage(),
	}
}

// Watch returns a channel of events and a function that stops the watch.
// Events are dropped for watchers that fall behind.
func (w *Workspace) Watch() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := w.nextWatcher
	w.nextWatcher++
	w.watchers[id] = ch
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if c, ok := w.watchers[id]; ok {
				delete(w.watchers, id)
				close(c)
			}
		})
	}
}

func (w *Workspace) publish(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.watchers {
		select {
		case ch <- ev:
		default:
			w.log.Debug("watcher behind, event dropped", zap.Int("watcher", id), zap.String("type", ev.Type))
		}
	}
}

func (w *Workspace) onCommit(rev uint64, g canvas.Graph) {
	w.publish(Event{
		Type:     EventGraph,
		Revision: rev,
		CanUndo:  w.history.CanUndo(),
		CanRedo:  w.history.CanRedo(),
	})
	if !g.AnyDragging() {
		w.scheduleAutosave()
	}
}

func (w *Workspace) scheduleAutosave() {
	if w.autosave == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.saveTimer != nil {
		w.saveTimer.Stop()
	}
	w.saveTimer = time.AfterFunc(w.autosaveDelay, w.flushAutosave)
}

func (w *Workspace) flushAutosave() {
	rev, doc, err := w.snapshot()
	if err != nil {
		w.log.Error("autosave export failed", zap.Error(err))
		return
	}
	sum := utils.ChecksumHex(doc)
	w.mu.Lock()
	if sum == w.lastSaved {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := AutosaveRequest{CanvasID: w.id, Session: w.session, Revision: rev, Document: doc}
	if err := w.autosave.EnqueueAutosave(ctx, req); err != nil {
		w.log.Warn("autosave enqueue failed", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.lastSaved = sum
	w.mu.Unlock()
	w.log.Debug("autosave enqueued", zap.Uint64("revision", rev), zap.String("checksum", sum))
}

// Close detaches the workspace, waits for an in-flight generation and closes
// every watcher channel.
func (w *Workspace) Close(ctx context.Context) error {
	err := w.orch.Wait(ctx)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return err
	}
	w.closed = true
	if w.saveTimer != nil {
		w.saveTimer.Stop()
	}
	for id, ch := range w.watchers {
		delete(w.watchers, id)
		close(ch)
	}
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	return err
}

func applyPatch(d *canvas.NodeData, p canvas.NodePatch) {
	if p.Label != nil {
		d.Label = *p.Label
	}
	if p.Content != nil {
		d.Content = *p.Content
	}
	if p.MimeType != nil {
		d.MimeType = *p.MimeType
	}
	if p.AspectRatio != nil {
		d.AspectRatio = *p.AspectRatio
	}
}
