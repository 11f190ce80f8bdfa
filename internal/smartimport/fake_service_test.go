package smartimport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tenderzen/smart-import/internal/models"
)

const testTenant = "6f1c2a58-4a8e-4a53-9d0f-3b1f3c2f9e10"

// fakeService is a scriptable ExtractionService. GetStatus pops the scripted
// responses of a job in order and keeps returning the last one.
type fakeService struct {
	mu         sync.Mutex
	nextID     int
	statuses   map[string][]*models.StatusResponse
	submitted  [][]string
	started    map[string]models.AnalysisOptions
	reanalyzed []string
	cancelled  []string
	finalized  []models.FinalizeRequest

	submitErr    error
	startErr     error
	reanalyzeErr error
	statusErrs   int

	// finalizeGate, when set, holds Finalize until closed after signalling finalizeEntered.
	finalizeGate    chan struct{}
	finalizeEntered chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{
		statuses: map[string][]*models.StatusResponse{},
		started:  map[string]models.AnalysisOptions{},
	}
}

func (f *fakeService) script(jobID string, statuses ...*models.StatusResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = statuses
}

func (f *fakeService) SubmitBatch(_ context.Context, _ string, files []FileCandidate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.Name
	}
	f.submitted = append(f.submitted, names)
	f.nextID++
	return fmt.Sprintf("job-%d", f.nextID), nil
}

func (f *fakeService) StartAnalysis(_ context.Context, jobID string, opts models.AnalysisOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started[jobID] = opts
	return nil
}

func (f *fakeService) GetStatus(_ context.Context, jobID string) (*models.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErrs > 0 {
		f.statusErrs--
		return nil, &TransportError{Op: "get status", Err: io.ErrUnexpectedEOF}
	}
	queue := f.statuses[jobID]
	if len(queue) == 0 {
		return &models.StatusResponse{ImportID: jobID, Status: models.StatusAnalyzing, Progress: 10}, nil
	}
	resp := *queue[0]
	if len(queue) > 1 {
		f.statuses[jobID] = queue[1:]
	}
	resp.ImportID = jobID
	return &resp, nil
}

func (f *fakeService) Reanalyze(_ context.Context, jobID string, _ models.ModelTier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reanalyzeErr != nil {
		return f.reanalyzeErr
	}
	f.reanalyzed = append(f.reanalyzed, jobID)
	return nil
}

func (f *fakeService) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeService) Finalize(_ context.Context, jobID string, req models.FinalizeRequest) (*models.FinalizeResponse, error) {
	if f.finalizeGate != nil {
		f.finalizeEntered <- struct{}{}
		<-f.finalizeGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, req)
	name, _ := req.Data["naam"].(string)
	return &models.FinalizeResponse{
		Success:         true,
		Tender:          &models.Tender{Name: name},
		DocumentsLinked: 1,
	}, nil
}

func (f *fakeService) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func running(progress int) *models.StatusResponse {
	return &models.StatusResponse{Status: models.StatusAnalyzing, Progress: progress}
}

func completed(tier models.ModelTier, result *models.ExtractionResult) *models.StatusResponse {
	return &models.StatusResponse{Status: models.StatusCompleted, Progress: 100, ModelTier: tier, ExtractedData: result}
}

func failed(msg string) *models.StatusResponse {
	return &models.StatusResponse{Status: models.StatusFailed, Progress: 40, ErrorMessage: &msg}
}

func resultWith(group, name string, value any, confidence float64) *models.ExtractionResult {
	r := models.NewExtractionResult()
	r.SetField(group, name, models.ExtractedField{Value: value, Confidence: confidence, Source: "test"})
	return r
}

func file(name string, size int64) FileCandidate {
	return FileCandidate{
		Name: name,
		Size: size,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("content")), nil
		},
	}
}

func testConfig() ControllerConfig {
	cfg := DefaultControllerConfig()
	cfg.Poll.Interval = 5 * time.Millisecond
	cfg.Poll.Timeout = 2 * time.Second
	return cfg
}

func newTestController(t *testing.T, svc *fakeService) *JobController {
	t.Helper()
	cfg := testConfig()
	ctrl := NewJobController(svc, NewStatusPoller(svc, cfg.Poll, nil), nil, cfg, nil)
	t.Cleanup(ctrl.Close)
	return ctrl
}

func waitForState(t *testing.T, ctrl *JobController, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ctrl.Snapshot().State == want
	}, 2*time.Second, 5*time.Millisecond, "state never became %s (is %s)", want, ctrl.Snapshot().State)
}
