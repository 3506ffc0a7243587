package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/canvas"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
)

// Result is delivered once per accepted request.
type Result struct {
	Request Request
	State   State
	Err     error
}

// Failure is the content of the error slot.
type Failure struct {
	NodeID  string      `json:"nodeId"`
	Kind    Kind        `json:"kind"`
	Code    appErr.Code `json:"code"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// TokenUsage tracks the last reported count and the running total.
type TokenUsage struct {
	Last         int64 `json:"last"`
	SessionTotal int64 `json:"sessionTotal"`
}

// Models are the backend models used when a request names none.
type Models struct {
	Image string
	Video string
}

// Orchestrator owns one request slot. A submission while the slot is busy is
// rejected with ErrBusy and has no side effects.
type Orchestrator struct {
	gen    Generator
	store  Store
	models Models

	mu      sync.Mutex
	state   State
	active  *Request
	lastErr *Failure
	usage   TokenUsage

	wg sync.WaitGroup
}

func NewOrchestrator(gen Generator, store Store, models Models) *Orchestrator {
	return &Orchestrator{gen: gen, store: store, models: models}
}

// Submit accepts req, marks the target as loading and runs the request in the
// background. The returned channel yields the Result and is then closed.
// Cancelling ctx after Submit returns does not cancel the request.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (<-chan Result, error) {
	if !req.Kind.Valid() {
		return nil, appErr.New(appErr.CodeInvalid, "unsupported generation kind").WithMeta("kind", string(req.Kind))
	}
	if req.Options.AspectRatio != "" && !req.Options.AspectRatio.Valid() {
		return nil, appErr.New(appErr.CodeInvalid, "unsupported aspect ratio").WithMeta("aspect_ratio", string(req.Options.AspectRatio))
	}

	o.mu.Lock()
	if o.state.Busy() {
		o.mu.Unlock()
		rejectedTotal.Inc()
		return nil, ErrBusy
	}
	o.state = StateRequested
	o.active = &req
	o.mu.Unlock()

	_, err := o.store.Update(func(g canvas.Graph) (canvas.Graph, error) {
		out, ok := g.MapNode(req.TargetNodeID, func(n canvas.Node) canvas.Node {
			n.Data.Loading = true
			return n
		})
		if !ok {
			return g, appErr.New(appErr.CodeNotFound, "node not found").WithMeta("node_id", req.TargetNodeID)
		}
		return out, nil
	})
	if err != nil {
		o.mu.Lock()
		o.state = StateIdle
		o.active = nil
		o.mu.Unlock()
		return nil, err
	}

	o.mu.Lock()
	o.state = StateRunning
	o.lastErr = nil
	o.mu.Unlock()

	results := make(chan Result, 1)
	o.wg.Add(1)
	go o.run(context.WithoutCancel(ctx), req, results)
	return results, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, results chan<- Result) {
	start := time.Now()
	log := logger.L().With(zap.String("node_id", req.TargetNodeID), zap.String("kind", string(req.Kind)))

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = appErr.New(appErr.CodeInternal, fmt.Sprintf("generation panicked: %v", r))
		}
		// the slot is released in the same commit that clears loading, so an
		// observer that sees loading=false can submit again
		var res Result
		_, _ = o.store.Update(func(g canvas.Graph) (canvas.Graph, error) {
			res = o.finish(req, err)
			return canvas.SetLoading(g, req.TargetNodeID, false), nil
		})
		requestDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
		if res.Err != nil {
			log.Warn("generation failed", zap.Error(res.Err))
		} else {
			log.Info("generation succeeded", zap.Duration("took", time.Since(start)))
		}
		results <- res
		close(results)
		o.wg.Done()
	}()

	switch req.Kind {
	case KindImageGenerate:
		err = o.generateImage(ctx, req)
	case KindPromptFromImage:
		err = o.promptFromImage(ctx, req)
	case KindEnhancePrompt:
		err = o.enhancePrompt(ctx, req)
	case KindVideoGenerate:
		err = o.generateVideo(ctx, req)
	}
}

func (o *Orchestrator) finish(req Request, err error) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := Result{Request: req, State: StateSucceeded}
	outcome := "succeeded"
	if err != nil {
		err = classify(err)
		res.State = StateFailed
		res.Err = err
		outcome = "failed"
		o.lastErr = &Failure{
			NodeID:  req.TargetNodeID,
			Kind:    req.Kind,
			Code:    appErr.CodeOf(err),
			Message: appErr.MessageOf(err),
			At:      time.Now().UTC(),
		}
	}
	requestsTotal.WithLabelValues(string(req.Kind), outcome).Inc()

	o.state = StateIdle
	o.active = nil
	return res
}

func (o *Orchestrator) generateImage(ctx context.Context, req Request) error {
	g := o.store.Graph()
	target, ok := g.Node(req.TargetNodeID)
	if !ok {
		return errTargetGone(req.TargetNodeID)
	}
	includeSelf := target.Kind == canvas.KindImage && target.HasContent()
	up := canvas.ResolveUpstream(req.TargetNodeID, g, includeSelf)
	prompt := CombinePrompt(up.Texts)
	if len(up.Images) == 0 && prompt == "" {
		return ErrNoInputs
	}

	ratio := req.Options.AspectRatio
	if ratio == "" {
		ratio = canvas.Ratio1x1
	}
	res, err := o.gen.GenerateImage(ctx, ImageRequest{
		Images:      images(up.Images),
		Prompt:      prompt,
		AspectRatio: ratio,
		Seed:        req.Options.Seed,
		Model:       pick(req.Options.Model, o.models.Image),
	})
	if err != nil {
		return err
	}

	if err := o.write(req.TargetNodeID, func(d *canvas.NodeData) {
		d.Content = canvas.DataURL(res.MimeType, res.Data)
		d.MimeType = res.MimeType
		d.AspectRatio = ratio
	}); err != nil {
		return err
	}
	o.recordUsage(res.Usage)
	return nil
}

func (o *Orchestrator) promptFromImage(ctx context.Context, req Request) error {
	g := o.store.Graph()
	if !g.HasNode(req.TargetNodeID) {
		return errTargetGone(req.TargetNodeID)
	}
	up := canvas.ResolveUpstream(req.TargetNodeID, g, false)
	if len(up.Images) == 0 {
		return ErrNoImageInput
	}

	first := up.Images[0]
	res, err := o.gen.DescribeImage(ctx, Image{Data: first.Data, MimeType: first.MimeType})
	if err != nil {
		return err
	}
	if err := o.write(req.TargetNodeID, func(d *canvas.NodeData) {
		d.Content = strings.TrimSpace(res.Text)
	}); err != nil {
		return err
	}
	o.recordUsage(res.Usage)
	return nil
}

func (o *Orchestrator) enhancePrompt(ctx context.Context, req Request) error {
	target, ok := o.store.Graph().Node(req.TargetNodeID)
	if !ok {
		return errTargetGone(req.TargetNodeID)
	}
	current := strings.TrimSpace(target.Data.Content)
	if current == "" {
		return ErrNothingToEnhance
	}

	res, err := o.gen.EnhancePrompt(ctx, current)
	if err != nil {
		return err
	}
	if err := o.write(req.TargetNodeID, func(d *canvas.NodeData) {
		d.Content = strings.TrimSpace(res.Text)
	}); err != nil {
		return err
	}
	o.recordUsage(res.Usage)
	return nil
}

func (o *Orchestrator) generateVideo(ctx context.Context, req Request) error {
	g := o.store.Graph()
	if !g.HasNode(req.TargetNodeID) {
		return errTargetGone(req.TargetNodeID)
	}
	up := canvas.ResolveUpstream(req.TargetNodeID, g, false)
	prompt := CombinePrompt(up.Texts)
	if len(up.Images) == 0 && prompt == "" {
		return ErrNoInputs
	}

	vreq := VideoRequest{
		Prompt:      prompt,
		AspectRatio: VideoAspectRatio(req.Options.AspectRatio),
		Model:       pick(req.Options.Model, o.models.Video),
	}
	if len(up.Images) > 0 {
		vreq.Image = &Image{Data: up.Images[0].Data, MimeType: up.Images[0].MimeType}
	}
	res, err := o.gen.GenerateVideo(ctx, vreq)
	if err != nil {
		return err
	}
	return o.write(req.TargetNodeID, func(d *canvas.NodeData) {
		d.Content = canvas.DataURL(res.MimeType, res.Data)
		d.MimeType = res.MimeType
		d.AspectRatio = vreq.AspectRatio
	})
}

// write replaces the target's data in one commit.
func (o *Orchestrator) write(nodeID string, fn func(d *canvas.NodeData)) error {
	_, err := o.store.Update(func(g canvas.Graph) (canvas.Graph, error) {
		out, ok := g.MapNode(nodeID, func(n canvas.Node) canvas.Node {
			fn(&n.Data)
			return n
		})
		if !ok {
			return g, errTargetGone(nodeID)
		}
		return out, nil
	})
	return err
}

func (o *Orchestrator) recordUsage(u Usage) {
	if u.TotalTokenCount <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.usage.Last = u.TotalTokenCount
	o.usage.SessionTotal += u.TotalTokenCount
	tokensTotal.Add(float64(u.TotalTokenCount))
}

// State returns the slot state and the active request, if any.
func (o *Orchestrator) State() (State, *Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return o.state, nil
	}
	req := *o.active
	return o.state, &req
}

// LastError returns the error slot, or nil when it is empty.
func (o *Orchestrator) LastError() *Failure {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastErr == nil {
		return nil
	}
	f := *o.lastErr
	return &f
}

// Dismiss clears the error slot.
func (o *Orchestrator) Dismiss() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastErr = nil
}

func (o *Orchestrator) Usage() TokenUsage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

// Wait blocks until every accepted request has resolved or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CombinePrompt joins the trimmed, non-empty texts with single spaces.
func CombinePrompt(texts []canvas.TextPayload) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if s := strings.TrimSpace(t.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// VideoAspectRatio clamps r to the ratios the video backend accepts.
func VideoAspectRatio(r canvas.AspectRatio) canvas.AspectRatio {
	if r == canvas.Ratio9x16 {
		return r
	}
	return canvas.Ratio16x9
}

func images(in []canvas.ImagePayload) []Image {
	out := make([]Image, 0, len(in))
	for _, p := range in {
		out = append(out, Image{Data: p.Data, MimeType: p.MimeType})
	}
	return out
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func errTargetGone(id string) error {
	return appErr.New(appErr.CodeNotFound, "target node no longer exists").WithMeta("node_id", id)
}
