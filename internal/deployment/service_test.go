package deployment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixdeploy/fixdeploy/internal/infra/embedded"
	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

const serviceTemplate = `{
  "metadata": {"ft_number": "FT-2024-001", "description": "Restart", "total_steps": 1},
  "steps": [
    {
      "order": 1,
      "type": "service_restart",
      "description": "Restart app",
      "service": "app",
      "operation": "restart",
      "targetVMs": ["vm1"]
    }
  ]
}`

func newTestService(t *testing.T) (*Service, *embedded.Tracker, *embedded.Queue) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hotfix_template.json"), []byte(serviceTemplate), 0o600))

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(10)
	t.Cleanup(queue.Close)

	return NewService(template.NewFileStore(dir), tracker, queue), tracker, queue
}

func TestCreateDeployment(t *testing.T) {
	t.Parallel()

	svc, tracker, queue := newTestService(t)

	record, err := svc.CreateDeployment(&interfaces.DeploymentRequest{
		TemplateName: "hotfix",
		Initiator:    interfaces.UserInfo{Username: "alice", Role: "admin"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, interfaces.RecordKindTemplate, record.Kind)
	assert.Equal(t, "hotfix", record.TemplateName)
	assert.Equal(t, "FT-2024-001", record.FTNumber)
	assert.Equal(t, interfaces.DeploymentStatusRunning, record.Status)
	assert.Equal(t, "alice", record.InitiatedBy)
	assert.Equal(t, "admin", record.Role)
	assert.Equal(t, 1, record.TotalSteps)
	require.Len(t, record.Logs, 1)
	assert.Equal(t, "Starting template deployment: hotfix", record.Logs[0].Message)

	// The record is tracked and the deployment queued
	tracked, err := tracker.GetByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, tracked.ID)
	assert.Equal(t, 1, queue.Size())
}

func TestCreateDeploymentDefaultsInitiator(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	record, err := svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "hotfix"})
	require.NoError(t, err)
	assert.Equal(t, "system", record.InitiatedBy)
}

func TestCreateDeploymentTemplateNotFound(t *testing.T) {
	t.Parallel()

	svc, tracker, queue := newTestService(t)

	_, err := svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "missing"})
	require.Error(t, err)

	depErr, ok := IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, "TEMPLATE_NOT_FOUND", depErr.Code)
	assert.Equal(t, 404, depErr.HTTPStatus)

	// Nothing was registered or queued
	records, err := tracker.List(interfaces.DeploymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, queue.Size())
}

func TestCreateDeploymentInvalidRequest(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	for _, request := range []*interfaces.DeploymentRequest{nil, {}} {
		_, err := svc.CreateDeployment(request)
		depErr, ok := IsDeploymentError(err)
		require.True(t, ok)
		assert.Equal(t, "INVALID_REQUEST", depErr.Code)
	}
}

func TestCreateDeploymentQueueFull(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hotfix_template.json"), []byte(serviceTemplate), 0o600))

	tracker := embedded.NewTracker()
	queue := embedded.NewQueue(1)
	t.Cleanup(queue.Close)
	svc := NewService(template.NewFileStore(dir), tracker, queue)

	_, err := svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "hotfix"})
	require.NoError(t, err)

	_, err = svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "hotfix"})
	depErr, ok := IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, "QUEUE_FULL", depErr.Code)

	// The rejected deployment is visible as failed
	failed, err := tracker.List(interfaces.DeploymentFilter{
		Status: []interfaces.DeploymentStatus{interfaces.DeploymentStatusFailed},
	})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestGetDeploymentByID(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	record, err := svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "hotfix"})
	require.NoError(t, err)

	got, err := svc.GetDeploymentByID(record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	_, err = svc.GetDeploymentByID("missing")
	depErr, ok := IsDeploymentError(err)
	require.True(t, ok)
	assert.Equal(t, "DEPLOYMENT_NOT_FOUND", depErr.Code)
}

func TestGetDeploymentLogs(t *testing.T) {
	t.Parallel()

	svc, tracker, _ := newTestService(t)

	record, err := svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "hotfix"})
	require.NoError(t, err)
	require.NoError(t, tracker.AppendLog(record.ID, "Step 1/1: Restart app"))

	lines, err := svc.GetDeploymentLogs(record.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	// Lines are rendered with their wall-clock timestamp
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] Starting template deployment: hotfix$`, lines[0])
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] Step 1/1: Restart app$`, lines[1])

	_, err = svc.GetDeploymentLogs("missing")
	_, ok := IsDeploymentError(err)
	assert.True(t, ok)
}

func TestListDeployments(t *testing.T) {
	t.Parallel()

	svc, tracker, _ := newTestService(t)

	first, err := svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "hotfix"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "hotfix"})
	require.NoError(t, err)

	// Sub-records never show up in listings by default
	require.NoError(t, tracker.Create(&interfaces.DeploymentRecord{
		ID:        "sub-1",
		Kind:      interfaces.RecordKindFile,
		ParentID:  first.ID,
		Status:    interfaces.DeploymentStatusRunning,
		CreatedAt: time.Now(),
	}))

	records, err := svc.ListDeployments(interfaces.DeploymentFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}

func TestGetQueueMetrics(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	_, err := svc.CreateDeployment(&interfaces.DeploymentRequest{TemplateName: "hotfix"})
	require.NoError(t, err)

	metrics := svc.GetQueueMetrics()
	assert.Equal(t, int64(1), metrics.TotalEnqueued)
	assert.Equal(t, 1, metrics.CurrentDepth)
}
