package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixdeploy/fixdeploy/internal/infra/embedded"
	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/steps"
)

// recordingHandler notes each execution and plays back scripted errors
type recordingHandler struct {
	kind interfaces.StepKind

	mu       sync.Mutex
	executed []int // step Order values in execution order
	failOn   map[int]error
	panicOn  int
}

func (h *recordingHandler) Kind() interfaces.StepKind { return h.kind }

func (h *recordingHandler) Execute(_ context.Context, run interfaces.StepRun) error {
	h.mu.Lock()
	h.executed = append(h.executed, run.Step.Order)
	h.mu.Unlock()

	if h.panicOn != 0 && run.Step.Order == h.panicOn {
		panic("handler exploded")
	}
	if err, ok := h.failOn[run.Step.Order]; ok {
		run.Sink.Append(fmt.Sprintf("step %d failed", run.Step.Order))
		return err
	}
	run.Sink.Append(fmt.Sprintf("step %d done", run.Step.Order))
	return nil
}

func (h *recordingHandler) orders() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.executed))
	copy(out, h.executed)
	return out
}

func newDeployment(t *testing.T, tracker *embedded.Tracker, id string, stepOrders ...int) *interfaces.QueuedDeployment {
	t.Helper()

	tmplSteps := make([]interfaces.Step, 0, len(stepOrders))
	for _, order := range stepOrders {
		tmplSteps = append(tmplSteps, interfaces.Step{
			Order:       order,
			Type:        interfaces.StepKindServiceRestart,
			Description: fmt.Sprintf("step order %d", order),
		})
	}

	require.NoError(t, tracker.Create(&interfaces.DeploymentRecord{
		ID:         id,
		Kind:       interfaces.RecordKindTemplate,
		Status:     interfaces.DeploymentStatusRunning,
		TotalSteps: len(stepOrders),
		CreatedAt:  time.Now(),
	}))

	return &interfaces.QueuedDeployment{
		ID:           id,
		TemplateName: "hotfix",
		Template: &interfaces.Template{
			Metadata: interfaces.TemplateMetadata{TotalSteps: len(stepOrders)},
			Steps:    tmplSteps,
		},
		CreatedAt: time.Now(),
	}
}

func logMessages(t *testing.T, tracker *embedded.Tracker, id string) []string {
	t.Helper()
	record, err := tracker.GetByID(id)
	require.NoError(t, err)
	out := make([]string, len(record.Logs))
	for i, l := range record.Logs {
		out[i] = l.Message
	}
	return out
}

func containsLine(lines []string, substr string) bool {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestSequencer_ExecutesStepsInOrder(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	handler := &recordingHandler{kind: interfaces.StepKindServiceRestart}
	seq := NewSequencer(tracker, steps.NewRegistry(handler))

	// Steps declared out of order must run sorted by Order
	deployment := newDeployment(t, tracker, "dep-1", 3, 1, 2)
	seq.Execute(context.Background(), deployment)

	assert.Equal(t, []int{1, 2, 3}, handler.orders())

	record, err := tracker.GetByID("dep-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.DeploymentStatusSuccess, record.Status)
	assert.Equal(t, 3, record.CurrentStep)

	logs := logMessages(t, tracker, "dep-1")
	assert.True(t, containsLine(logs, "Step 1/3: step order 1"))
	assert.True(t, containsLine(logs, "Step 3/3: step order 3"))
	assert.True(t, containsLine(logs, "Template deployment completed successfully!"))
}

func TestSequencer_FailFast(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	handler := &recordingHandler{
		kind:   interfaces.StepKindServiceRestart,
		failOn: map[int]error{2: steps.ExitError(1)},
	}
	seq := NewSequencer(tracker, steps.NewRegistry(handler))

	deployment := newDeployment(t, tracker, "dep-1", 1, 2, 3)
	seq.Execute(context.Background(), deployment)

	// Step 3 never ran
	assert.Equal(t, []int{1, 2}, handler.orders())

	record, err := tracker.GetByID("dep-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.DeploymentStatusFailed, record.Status)

	logs := logMessages(t, tracker, "dep-1")
	assert.True(t, containsLine(logs, "Step 2 failed. Stopping deployment."))
	assert.False(t, containsLine(logs, "Step 3/3"))
}

func TestSequencer_UnknownStepKind(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	seq := NewSequencer(tracker, steps.NewRegistry()) // no handlers registered

	deployment := newDeployment(t, tracker, "dep-1", 1)
	seq.Execute(context.Background(), deployment)

	record, err := tracker.GetByID("dep-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.DeploymentStatusFailed, record.Status)
	assert.True(t, containsLine(logMessages(t, tracker, "dep-1"), "Unknown step type: service_restart"))
}

func TestSequencer_HandlerPanicFailsStep(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	handler := &recordingHandler{kind: interfaces.StepKindServiceRestart, panicOn: 1}
	seq := NewSequencer(tracker, steps.NewRegistry(handler))

	deployment := newDeployment(t, tracker, "dep-1", 1, 2)
	seq.Execute(context.Background(), deployment)

	record, err := tracker.GetByID("dep-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.DeploymentStatusFailed, record.Status)

	logs := logMessages(t, tracker, "dep-1")
	assert.True(t, containsLine(logs, "Error executing service_restart: handler exploded"))
	assert.True(t, containsLine(logs, "Step 1 failed. Stopping deployment."))
}

func TestSequencer_MissingRecordAbandonsSilently(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	handler := &recordingHandler{kind: interfaces.StepKindServiceRestart}
	seq := NewSequencer(tracker, steps.NewRegistry(handler))

	// No record created for this deployment
	seq.Execute(context.Background(), &interfaces.QueuedDeployment{
		ID: "ghost",
		Template: &interfaces.Template{
			Steps: []interfaces.Step{{Order: 1, Type: interfaces.StepKindServiceRestart}},
		},
	})

	assert.Empty(t, handler.orders())
}

func TestSequencer_NilTemplateFails(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	seq := NewSequencer(tracker, steps.NewRegistry())

	require.NoError(t, tracker.Create(&interfaces.DeploymentRecord{
		ID:        "dep-1",
		Status:    interfaces.DeploymentStatusRunning,
		CreatedAt: time.Now(),
	}))

	seq.Execute(context.Background(), &interfaces.QueuedDeployment{ID: "dep-1"})

	record, err := tracker.GetByID("dep-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.DeploymentStatusFailed, record.Status)
}

func TestSequencer_ConcurrentDeploymentsAreIsolated(t *testing.T) {
	t.Parallel()

	tracker := embedded.NewTracker()
	handler := &recordingHandler{kind: interfaces.StepKindServiceRestart}
	seq := NewSequencer(tracker, steps.NewRegistry(handler))

	depA := newDeployment(t, tracker, "dep-a", 1, 2)
	depB := newDeployment(t, tracker, "dep-b", 1, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); seq.Execute(context.Background(), depA) }()
	go func() { defer wg.Done(); seq.Execute(context.Background(), depB) }()
	wg.Wait()

	for _, id := range []string{"dep-a", "dep-b"} {
		record, err := tracker.GetByID(id)
		require.NoError(t, err)
		assert.Equal(t, interfaces.DeploymentStatusSuccess, record.Status)

		logs := logMessages(t, tracker, id)
		// Each record carries exactly its own run: 2 step headers,
		// 2 step outputs, 2 completions, 1 summary line
		assert.Len(t, logs, 7)
	}
}
