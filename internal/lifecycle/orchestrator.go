// Package lifecycle sequences the remote side of an environment model:
// registration, deployment, teardown cascades and saving.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/events"
	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/models"
)

// ErrOperationInProgress is returned when an operation is started while
// another one has not finished.
var ErrOperationInProgress = errors.New("another operation is in progress")

// DefaultClearAfter is how long a finished processing state stays visible.
const DefaultClearAfter = 3 * time.Second

// Observer receives every processing state change. A nil state means the
// finished state was cleared.
type Observer func(st *models.ProcessingState)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(lg zerolog.Logger) Option {
	return func(o *Orchestrator) { o.lg = lg.With().Str("component", "lifecycle").Logger() }
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pub = p
		}
	}
}

// WithClearAfter overrides the auto-clear delay. Zero or less keeps the default.
func WithClearAfter(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.clearAfter = d
		}
	}
}

// WithConcurrency bounds the fan-out of parallel batches. Zero means unbounded.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.limit = n }
}

// WithObserver registers a state observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// Orchestrator runs the multi-step remote operations of one model.
// At most one operation runs at a time.
type Orchestrator struct {
	g          *graph.Graph
	gw         gateway.Gateway
	lg         zerolog.Logger
	pub        events.Publisher
	clearAfter time.Duration
	limit      int

	mu         sync.Mutex
	model      models.Model
	busy       bool
	current    *Operation
	clearTimer *time.Timer
	observers  []Observer
}

// New returns an orchestrator working on g through gw.
func New(g *graph.Graph, gw gateway.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		g:          g,
		gw:         gw,
		lg:         zerolog.Nop(),
		pub:        events.Nop{},
		clearAfter: DefaultClearAfter,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Observe adds an observer after construction.
func (o *Orchestrator) Observe(fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// SetModel replaces the model metadata used when saving.
func (o *Orchestrator) SetModel(m models.Model) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.model = m
}

// Model returns the model metadata, including the id once saved.
func (o *Orchestrator) Model() models.Model {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// Busy reports whether an operation is running.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Current returns the processing state of the running or recently finished
// operation, or nil once it has been cleared.
func (o *Orchestrator) Current() *models.ProcessingState {
	o.mu.Lock()
	op := o.current
	o.mu.Unlock()
	if op == nil {
		return nil
	}
	st := op.State()
	return &st
}

func (o *Orchestrator) begin(kind models.OperationKind) (*Operation, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return nil, ErrOperationInProgress
	}
	o.busy = true
	if o.clearTimer != nil {
		o.clearTimer.Stop()
		o.clearTimer = nil
	}
	op := &Operation{st: models.NewProcessingState(uuid.NewString(), kind)}
	o.current = op
	o.mu.Unlock()

	st := op.State()
	o.lg.Debug().Str("op", st.OperationID).Str("kind", string(kind)).Msg("operation started")
	o.notify(&st)
	o.publish(events.Event{Kind: events.OperationStarted, OperationID: st.OperationID, Success: true, Message: string(kind)})
	return op, nil
}

func (o *Orchestrator) finish(op *Operation, success bool, message string) {
	st := op.complete(success, message)

	o.mu.Lock()
	o.busy = false
	o.clearTimer = time.AfterFunc(o.clearAfter, func() {
		o.mu.Lock()
		cleared := o.current == op
		if cleared {
			o.current = nil
		}
		o.mu.Unlock()
		if cleared {
			o.notify(nil)
		}
	})
	o.mu.Unlock()

	ev := o.lg.Info()
	if !success {
		ev = o.lg.Warn()
	}
	ev.Str("op", st.OperationID).Str("kind", string(st.Kind)).Bool("success", success).Msg(message)

	o.notify(&st)
	o.publish(events.Event{Kind: events.OperationFinished, OperationID: st.OperationID, Success: success, Message: message})
}

func (o *Orchestrator) progress(op *Operation, fn func(st *models.ProcessingState)) {
	st := op.update(fn)
	o.notify(&st)
}

func (o *Orchestrator) notify(st *models.ProcessingState) {
	o.mu.Lock()
	obs := append([]Observer(nil), o.observers...)
	o.mu.Unlock()
	for _, fn := range obs {
		if st == nil {
			fn(nil)
			continue
		}
		cp := st.Clone()
		fn(&cp)
	}
}

func (o *Orchestrator) publish(ev events.Event) {
	if ev.Model == "" {
		ev.Model = o.Model().Name
	}
	ev.At = time.Now()
	if err := o.pub.Publish(context.Background(), ev); err != nil {
		o.lg.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("event not published")
	}
}

// persist serializes the graph and saves it, adopting the id the backend
// assigns on first save.
func (o *Orchestrator) persist(ctx context.Context) error {
	m := o.Model()
	if err := m.SetDocument(o.g.Serialize()); err != nil {
		return fmt.Errorf("serialize model: %w", err)
	}
	saved, err := o.gw.SaveModel(ctx, m)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.model.ID = saved.ID
	o.model.Value = m.Value
	o.mu.Unlock()

	o.publish(events.Event{Kind: events.ModelSaved, RemoteID: saved.ID, Success: true})
	return nil
}

// Save persists the current graph as a standalone operation.
func (o *Orchestrator) Save(ctx context.Context) (*Operation, error) {
	op, err := o.begin(models.OperationSave)
	if err != nil {
		return nil, err
	}

	saveErr := o.persist(ctx)
	if saveErr != nil {
		op.fail("", models.ErrorSave, gateway.Message(saveErr))
		o.finish(op, false, "Saving the model failed: "+gateway.Message(saveErr))
		return op, nil
	}
	o.progress(op, func(st *models.ProcessingState) { st.Saved = true })
	o.finish(op, true, "Model saved")
	return op, nil
}

// RegisterAll creates remote entities for every unregistered device, then
// for every unregistered sensor and actuator, and saves the model.
func (o *Orchestrator) RegisterAll(ctx context.Context) (*Operation, error) {
	op, err := o.begin(models.OperationRegister)
	if err != nil {
		return nil, err
	}

	var devices, components []string
	for _, n := range o.g.Nodes() {
		if !n.Kind.IsRemote() || n.IsRegistered() {
			continue
		}
		if n.Kind == models.NodeTypeDevice {
			devices = append(devices, n.ElementID)
		} else {
			components = append(components, n.ElementID)
		}
	}

	failed := 0
	failed += o.registerBatch(ctx, op, devices, o.devicePayload)
	failed += o.registerBatch(ctx, op, components, o.componentPayload)

	saveErr := o.persist(ctx)
	o.progress(op, func(st *models.ProcessingState) {
		st.Registered = failed == 0
		st.Saved = saveErr == nil
	})
	if saveErr != nil {
		op.fail("", models.ErrorSave, gateway.Message(saveErr))
	}
	o.finish(op, failed == 0 && saveErr == nil, summarize("Registration", failed, saveErr))
	return op, nil
}

// payloadFunc builds the create request for one node. A non-nil error
// fails the node locally without a request.
type payloadFunc func(n graph.Node) (gateway.Category, any, error)

func (o *Orchestrator) devicePayload(n graph.Node) (gateway.Category, any, error) {
	return gateway.CategoryDevices, gateway.DevicePayload{
		Name:          n.Name,
		ComponentType: n.EntityType,
		MACAddress:    n.MAC,
		IPAddress:     n.IP,
		Username:      n.Username,
		Password:      n.Password,
		RSAKey:        n.RSAKey,
	}, nil
}

func (o *Orchestrator) componentPayload(n graph.Node) (gateway.Category, any, error) {
	cat, _ := gateway.CategoryFor(n.Kind)
	owner, ok := o.g.Owner(n.ElementID)
	if !ok {
		return cat, nil, errors.New("no device attached")
	}
	if !owner.IsRegistered() {
		return cat, nil, fmt.Errorf("device %q is not registered", owner.Name)
	}
	return cat, gateway.ComponentPayload{
		Name:          n.Name,
		ComponentType: n.EntityType,
		Adapter:       n.Adapter,
		Device:        owner.RemoteID(),
	}, nil
}

// registerBatch registers ids in parallel and returns the number of failures.
func (o *Orchestrator) registerBatch(ctx context.Context, op *Operation, ids []string, build payloadFunc) int {
	res := SettleAll(ctx, ids, o.limit, func(ctx context.Context, id string) (string, error) {
		n, ok := o.g.Node(id)
		if !ok {
			return "", fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
		}
		cat, payload, err := build(n)
		if err != nil {
			return "", err
		}
		ent, err := o.gw.AddItem(ctx, cat, payload)
		if err != nil {
			return "", err
		}
		if ent.ID == "" {
			return "", errors.New("backend returned no id")
		}
		return ent.ID, nil
	})

	for _, ok := range res.Succeeded {
		if err := o.g.MarkRegistered(ok.Key, ok.Value); err != nil {
			o.lg.Error().Err(err).Str("element", ok.Key).Msg("registered entity no longer on canvas")
			continue
		}
		o.publish(events.Event{Kind: events.NodeRegistered, OperationID: op.ID(), ElementID: ok.Key, RemoteID: ok.Value, Success: true})
	}
	for _, bad := range res.Failed {
		msg := gateway.Message(bad.Err)
		_ = o.g.SetRegError(bad.Key, msg)
		op.fail(bad.Key, models.ErrorRegistration, msg)
		o.lg.Warn().Str("element", bad.Key).Str("reason", msg).Msg("registration failed")
	}
	return len(res.Failed)
}

// DeployAll starts every registered, not yet deployed sensor and actuator.
func (o *Orchestrator) DeployAll(ctx context.Context) (*Operation, error) {
	return o.deployment(ctx, models.OperationDeploy)
}

// UndeployAll stops every deployed sensor and actuator.
func (o *Orchestrator) UndeployAll(ctx context.Context) (*Operation, error) {
	return o.deployment(ctx, models.OperationUndeploy)
}

func (o *Orchestrator) deployment(ctx context.Context, kind models.OperationKind) (*Operation, error) {
	op, err := o.begin(kind)
	if err != nil {
		return nil, err
	}

	deploying := kind == models.OperationDeploy
	want := graph.Registered
	if !deploying {
		want = graph.Deployed
	}

	var ids []string
	for _, n := range o.g.Nodes() {
		if n.Kind.IsComponent() && n.State() == want {
			ids = append(ids, n.ElementID)
		}
	}

	res := SettleAll(ctx, ids, o.limit, func(ctx context.Context, id string) (struct{}, error) {
		n, ok := o.g.Node(id)
		if !ok {
			return struct{}{}, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
		}
		cat, _ := gateway.CategoryFor(n.Kind)
		if deploying {
			return struct{}{}, o.gw.Deploy(ctx, cat, n.RemoteID(), nil)
		}
		return struct{}{}, o.gw.Undeploy(ctx, cat, n.RemoteID())
	})

	for _, ok := range res.Succeeded {
		var err error
		evKind := events.NodeDeployed
		if deploying {
			err = o.g.MarkDeployed(ok.Key)
		} else {
			err = o.g.MarkUndeployed(ok.Key)
			evKind = events.NodeUndeployed
		}
		if err != nil {
			o.lg.Error().Err(err).Str("element", ok.Key).Msg("deployment state not applied")
			continue
		}
		o.publish(events.Event{Kind: evKind, OperationID: op.ID(), ElementID: ok.Key, Success: true})
	}
	for _, bad := range res.Failed {
		msg := gateway.Message(bad.Err)
		_ = o.g.SetDepError(bad.Key, msg)
		op.fail(bad.Key, models.ErrorDeployment, msg)
	}

	failed := len(res.Failed)
	saveErr := o.persist(ctx)
	if saveErr != nil {
		op.fail("", models.ErrorSave, gateway.Message(saveErr))
	}
	o.progress(op, func(st *models.ProcessingState) {
		if deploying {
			st.Deployed = failed == 0
		} else {
			st.Undeployed = failed == 0
		}
		st.Saved = saveErr == nil
	})

	action := "Deployment"
	if !deploying {
		action = "Undeployment"
	}
	o.finish(op, failed == 0 && saveErr == nil, summarize(action, failed, saveErr))
	return op, nil
}

// teardownError tells which step of a teardown failed.
type teardownError struct {
	category models.ErrorCategory
	err      error
}

func (e *teardownError) Error() string { return e.err.Error() }
func (e *teardownError) Unwrap() error { return e.err }

// teardown undeploys and deregisters one component, as far as needed.
func (o *Orchestrator) teardown(ctx context.Context, op *Operation, elementID string) error {
	n, ok := o.g.Node(elementID)
	if !ok {
		return fmt.Errorf("%w: %s", graph.ErrNodeNotFound, elementID)
	}
	cat, _ := gateway.CategoryFor(n.Kind)

	if n.IsDeployed() {
		if err := o.gw.Undeploy(ctx, cat, n.RemoteID()); err != nil {
			_ = o.g.SetDepError(elementID, gateway.Message(err))
			return &teardownError{category: models.ErrorDeployment, err: err}
		}
		if err := o.g.MarkUndeployed(elementID); err != nil {
			return err
		}
		o.publish(events.Event{Kind: events.NodeUndeployed, OperationID: op.ID(), ElementID: elementID, Success: true})
	}
	if n.IsRegistered() {
		remoteID := n.RemoteID()
		if err := o.gw.DeleteItem(ctx, cat, remoteID); err != nil {
			_ = o.g.SetRegError(elementID, gateway.Message(err))
			return &teardownError{category: models.ErrorRegistration, err: err}
		}
		if err := o.g.MarkDeregistered(elementID); err != nil {
			return err
		}
		o.publish(events.Event{Kind: events.NodeDeregistered, OperationID: op.ID(), ElementID: elementID, RemoteID: remoteID, Success: true})
	}
	return nil
}

func (o *Orchestrator) recordTeardown(op *Operation, elementID string, err error) {
	cat := models.ErrorCascade
	var te *teardownError
	if errors.As(err, &te) {
		cat = te.category
	}
	op.fail(elementID, cat, gateway.Message(err))
}

func (o *Orchestrator) remove(op *Operation, elementID string) {
	if _, err := o.g.RemoveNode(elementID); err != nil {
		o.lg.Debug().Err(err).Str("element", elementID).Msg("remove")
		return
	}
	ev := events.Event{Kind: events.NodeRemoved, ElementID: elementID, Success: true}
	if op != nil {
		ev.OperationID = op.ID()
	}
	o.publish(ev)
}

// DeleteNode removes a node together with its remote state. Nodes without
// remote state are removed at once and the returned operation is nil.
// A registered device is removed only after every attached component was
// torn down and the device itself deregistered; otherwise it stays.
func (o *Orchestrator) DeleteNode(ctx context.Context, elementID string) (*Operation, error) {
	n, ok := o.g.Node(elementID)
	if !ok {
		return nil, fmt.Errorf("delete: %w: %s", graph.ErrNodeNotFound, elementID)
	}

	if !n.HasRemoteState() {
		if o.Busy() {
			return nil, ErrOperationInProgress
		}
		o.remove(nil, elementID)
		return nil, nil
	}

	op, err := o.begin(models.OperationDelete)
	if err != nil {
		return nil, err
	}

	var (
		teardownFailed int
		deviceFailed   bool
	)
	if n.Kind == models.NodeTypeDevice {
		var ids []string
		for _, c := range o.g.AttachedComponents(elementID) {
			ids = append(ids, c.ElementID)
		}
		res := SettleAll(ctx, ids, o.limit, func(ctx context.Context, id string) (struct{}, error) {
			return struct{}{}, o.teardown(ctx, op, id)
		})
		for _, done := range res.Succeeded {
			o.remove(op, done.Key)
		}
		for _, bad := range res.Failed {
			o.recordTeardown(op, bad.Key, bad.Err)
		}
		teardownFailed = len(res.Failed)

		if teardownFailed == 0 {
			if err := o.teardown(ctx, op, elementID); err != nil {
				o.recordTeardown(op, elementID, err)
				deviceFailed = true
			} else {
				o.remove(op, elementID)
			}
		} else {
			deviceFailed = true
			op.fail(elementID, models.ErrorCascade,
				fmt.Sprintf("%d attached component(s) could not be torn down", teardownFailed))
		}
	} else {
		if err := o.teardown(ctx, op, elementID); err != nil {
			o.recordTeardown(op, elementID, err)
			teardownFailed = 1
		} else {
			o.remove(op, elementID)
		}
	}

	ok = teardownFailed == 0 && !deviceFailed

	saveErr := o.persist(ctx)
	if saveErr != nil {
		op.fail("", models.ErrorSave, gateway.Message(saveErr))
	}
	o.progress(op, func(st *models.ProcessingState) {
		st.Undeployed = ok
		st.Deregistered = ok
		st.Saved = saveErr == nil
	})
	o.finish(op, ok && saveErr == nil, summarizeCascade("Deletion", ok, saveErr))
	return op, nil
}

// DetachConnection removes a connection and fully demotes its former
// target: undeployed if it was deployed, deregistered if it was registered.
// The model is saved afterwards.
func (o *Orchestrator) DetachConnection(ctx context.Context, connectionID string) (*Operation, error) {
	c, ok := o.g.Connection(connectionID)
	if !ok {
		return nil, fmt.Errorf("detach: %w: %s", graph.ErrConnectionNotFound, connectionID)
	}

	op, err := o.begin(models.OperationDetach)
	if err != nil {
		return nil, err
	}

	if _, err := o.g.Disconnect(connectionID); err != nil {
		op.fail("", models.ErrorCascade, err.Error())
		o.finish(op, false, "Detach failed: "+err.Error())
		return op, nil
	}

	tdErr := o.teardown(ctx, op, c.TargetID)
	if tdErr != nil {
		o.recordTeardown(op, c.TargetID, tdErr)
	}

	saveErr := o.persist(ctx)
	if saveErr != nil {
		op.fail("", models.ErrorSave, gateway.Message(saveErr))
	}
	o.progress(op, func(st *models.ProcessingState) {
		st.Undeployed = tdErr == nil
		st.Deregistered = tdErr == nil
		st.Saved = saveErr == nil
	})
	o.finish(op, tdErr == nil && saveErr == nil, summarizeCascade("Detach", tdErr == nil, saveErr))
	return op, nil
}

func summarize(action string, failed int, saveErr error) string {
	switch {
	case failed == 0 && saveErr == nil:
		return action + " successful, model saved"
	case failed == 0:
		return action + " successful, but saving the model failed: " + gateway.Message(saveErr)
	case saveErr == nil:
		return fmt.Sprintf("%s failed for %d item(s), model saved", action, failed)
	default:
		return fmt.Sprintf("%s failed for %d item(s), and saving the model failed: %s", action, failed, gateway.Message(saveErr))
	}
}

func summarizeCascade(action string, teardownOK bool, saveErr error) string {
	switch {
	case teardownOK && saveErr == nil:
		return action + " successful, model saved"
	case teardownOK:
		return action + " successful, but saving the model failed: " + gateway.Message(saveErr)
	case saveErr == nil:
		return action + " aborted: undeployment/deregistration error, model saved"
	default:
		return action + " aborted: undeployment/deregistration error, and saving the model failed: " + gateway.Message(saveErr)
	}
}
