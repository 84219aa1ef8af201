package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	coreerrors "github.com/r3e-network/eventcore/pkg/errors"
	"github.com/r3e-network/eventcore/pkg/metrics"
)

// StepStatus is a Saga Step's lifecycle state.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepRunning     StepStatus = "RUNNING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
	StepCompFailed  StepStatus = "COMPENSATION_FAILED"
)

// InstanceStatus is a Saga Instance's overall lifecycle state.
type InstanceStatus string

const (
	InstanceRunning      InstanceStatus = "RUNNING"
	InstanceCompensating InstanceStatus = "COMPENSATING"
	InstanceCompleted    InstanceStatus = "COMPLETED"
	InstanceFailed       InstanceStatus = "FAILED"
	InstanceTimedOut     InstanceStatus = "TIMED_OUT"
)

// Action drives a single domain command. It must cooperate with ctx
// cancellation for the orchestrator's timeout/cancel contract to hold.
type Action func(ctx context.Context, sagaCtx *Context) error

// Compensation undoes the effect of a previously successful Action. It is
// never retried by the runtime.
type Compensation func(ctx context.Context, sagaCtx *Context) error

// Step is one step of a SagaDefinition.
type Step struct {
	Name         string
	Action       Action
	Compensation Compensation
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// Definition declares an ordered list of steps and an optional overall
// saga timeout.
type Definition struct {
	Name        string
	Steps       []Step
	SagaTimeout time.Duration
}

// Validate enforces spec §4.7.2's saga definition validation: unique step
// names, at least one step, non-null name, positive timeouts.
func (d Definition) Validate() error {
	if d.Name == "" {
		return coreerrors.Validation("saga definition requires a name")
	}
	if len(d.Steps) == 0 {
		return coreerrors.Validation("saga definition requires at least one step")
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return coreerrors.Validation(fmt.Sprintf("step %d has no name", i))
		}
		if seen[s.Name] {
			return coreerrors.Validation(fmt.Sprintf("duplicate step name %q", s.Name))
		}
		seen[s.Name] = true
		if s.Timeout <= 0 {
			return coreerrors.Validation(fmt.Sprintf("step %q requires a positive timeout", s.Name))
		}
		if s.Action == nil {
			return coreerrors.Validation(fmt.Sprintf("step %q requires an action", s.Name))
		}
	}
	return nil
}

// Context carries saga-scoped state across step actions and compensations.
// Domain code stores whatever it needs to compensate later in Data.
type Context struct {
	SagaID        string
	CorrelationID string
	Data          map[string]any
}

// StepOutcome records one step's result on a SagaInstance.
type StepOutcome struct {
	Name              string
	Status            StepStatus
	Attempts          int
	StartedAt         time.Time
	FinishedAt        time.Time
	Error             string
	CompensationError string
}

// Instance is the persisted record of one saga execution.
type Instance struct {
	SagaID        string
	DefinitionName string
	Status        InstanceStatus
	CurrentStep   int
	Steps         []StepOutcome
	StartedAt     time.Time
	FinishedAt    time.Time
}

// InstanceStore persists Saga Instances. Orchestrated-mode instances are
// shared across engines within a process and across replicas via the same
// distributed store as outbox/bus (spec §5).
type InstanceStore interface {
	Save(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, sagaID string) (*Instance, bool, error)
}

// Orchestrator drives Saga Instances through a registered set of
// Definitions.
type Orchestrator struct {
	store       InstanceStore
	definitions map[string]Definition
	newSagaID   func() string

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewOrchestrator constructs an Orchestrator persisting instances to store.
// newSagaID generates a unique saga id per StartSaga call (e.g. idgen or
// google/uuid); if nil, every instance gets an empty SagaID.
func NewOrchestrator(store InstanceStore, newSagaID func() string) *Orchestrator {
	return &Orchestrator{
		store: store, definitions: make(map[string]Definition), newSagaID: newSagaID,
		active: make(map[string]context.CancelFunc),
	}
}

// CancelSaga honors external cancellation per spec §4.7.2: the orchestrator
// transitions to the compensation phase at the next safe point. Returns
// false if sagaID has no in-flight run.
func (o *Orchestrator) CancelSaga(sagaID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[sagaID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Register validates and registers a Definition under its own name.
func (o *Orchestrator) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	o.definitions[def.Name] = def
	return nil
}

// StartSaga materializes a new Saga Instance and runs it to completion,
// returning its final terminal status. The caller is expected to invoke
// this from its own goroutine/worker if asynchronous execution is desired.
func (o *Orchestrator) StartSaga(ctx context.Context, definitionName string, initialData map[string]any, correlationID string) (*Instance, error) {
	def, ok := o.definitions[definitionName]
	if !ok {
		return nil, coreerrors.Validation("unknown saga definition: " + definitionName)
	}
	sagaID := ""
	if o.newSagaID != nil {
		sagaID = o.newSagaID()
	}
	return o.run(ctx, def, sagaID, correlationID, initialData)
}

func (o *Orchestrator) run(ctx context.Context, def Definition, sagaID, correlationID string, data map[string]any) (*Instance, error) {
	inst := &Instance{
		SagaID: sagaID, DefinitionName: def.Name, Status: InstanceRunning,
		CurrentStep: 0, StartedAt: time.Now(),
		Steps: make([]StepOutcome, len(def.Steps)),
	}
	for i, s := range def.Steps {
		inst.Steps[i] = StepOutcome{Name: s.Name, Status: StepPending}
	}

	runCtx, cancelSaga := context.WithCancel(ctx)
	defer cancelSaga()
	if def.SagaTimeout > 0 {
		var deadlineCancel context.CancelFunc
		runCtx, deadlineCancel = context.WithTimeout(runCtx, def.SagaTimeout)
		defer deadlineCancel()
	}
	if sagaID != "" {
		o.mu.Lock()
		o.active[sagaID] = cancelSaga
		o.mu.Unlock()
		defer func() {
			o.mu.Lock()
			delete(o.active, sagaID)
			o.mu.Unlock()
		}()
	}

	sagaCtx := &Context{SagaID: sagaID, CorrelationID: correlationID, Data: data}
	if sagaCtx.Data == nil {
		sagaCtx.Data = make(map[string]any)
	}

	timedOut := false
	lastCompletedIdx := -1

	for i, step := range def.Steps {
		inst.CurrentStep = i
		outcome := &inst.Steps[i]
		outcome.Status = StepRunning
		outcome.StartedAt = time.Now()

		err := o.executeWithRetry(runCtx, step, sagaCtx, outcome)
		outcome.FinishedAt = time.Now()

		if err == nil {
			outcome.Status = StepCompleted
			lastCompletedIdx = i
			metrics.RecordSagaStep(def.Name, step.Name, "completed")
			continue
		}

		outcome.Status = StepFailed
		outcome.Error = err.Error()
		metrics.RecordSagaStep(def.Name, step.Name, "failed")

		if runCtx.Err() == context.DeadlineExceeded {
			timedOut = true
		}
		break
	}

	if inst.CurrentStep == len(def.Steps)-1 && inst.Steps[len(def.Steps)-1].Status == StepCompleted {
		inst.Status = InstanceCompleted
		inst.FinishedAt = time.Now()
		o.persist(ctx, inst)
		return inst, nil
	}

	// Compensation phase: reverse order over previously completed steps.
	inst.Status = InstanceCompensating
	o.persist(ctx, inst)

	for i := lastCompletedIdx; i >= 0; i-- {
		step := def.Steps[i]
		outcome := &inst.Steps[i]
		if step.Compensation == nil {
			continue
		}
		compCtx, cancel := context.WithTimeout(context.Background(), step.Timeout)
		compErr := step.Compensation(compCtx, sagaCtx)
		cancel()
		if compErr != nil {
			outcome.Status = StepCompFailed
			outcome.CompensationError = compErr.Error()
			metrics.RecordSagaCompensation(def.Name, step.Name, "failed")
			continue
		}
		outcome.Status = StepCompensated
		metrics.RecordSagaCompensation(def.Name, step.Name, "succeeded")
	}

	if timedOut {
		inst.Status = InstanceTimedOut
	} else {
		inst.Status = InstanceFailed
	}
	inst.FinishedAt = time.Now()
	o.persist(ctx, inst)
	return inst, nil
}

func (o *Orchestrator) executeWithRetry(ctx context.Context, step Step, sagaCtx *Context, outcome *StepOutcome) error {
	maxAttempts := step.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt
		stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		err := step.Action(stepCtx, sagaCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < maxAttempts && step.RetryDelay > 0 {
			select {
			case <-time.After(step.RetryDelay):
			case <-ctx.Done():
				return lastErr
			}
		}
	}
	return lastErr
}

func (o *Orchestrator) persist(ctx context.Context, inst *Instance) {
	if o.store == nil {
		return
	}
	_ = o.store.Save(ctx, inst)
}

// SagaStatus returns the current Saga Instance for sagaID.
func (o *Orchestrator) SagaStatus(ctx context.Context, sagaID string) (*Instance, bool, error) {
	if o.store == nil {
		return nil, false, nil
	}
	return o.store.Get(ctx, sagaID)
}
