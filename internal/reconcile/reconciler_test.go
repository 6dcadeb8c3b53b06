package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nandanakrishna556/gictor-server/internal/domain"
	"github.com/nandanakrishna556/gictor-server/internal/ledger"
)

type fakeRequests struct {
	mu   sync.Mutex
	rows map[string]*domain.GenerationRequest
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{rows: make(map[string]*domain.GenerationRequest)}
}

func (f *fakeRequests) add(req domain.GenerationRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := req
	f.rows[req.ID] = &cp
}

func (f *fakeRequests) Create(ctx context.Context, req *domain.GenerationRequest) error {
	f.add(*req)
	return nil
}

func (f *fakeRequests) GetByID(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeRequests) GetByIDForUser(ctx context.Context, id, userID string) (*domain.GenerationRequest, error) {
	req, err := f.GetByID(ctx, id)
	if err != nil || req.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return req, nil
}

func (f *fakeRequests) GetByPipelineStage(ctx context.Context, pipelineID, stage string) (*domain.GenerationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.rows {
		if req.PipelineID == pipelineID && req.Stage == stage {
			cp := *req
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRequests) UpdateStatus(ctx context.Context, id string, status domain.Status, progress int, errMsg *string, resultJSON []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.rows[id]
	if !ok || req.Status.Terminal() {
		return nil
	}
	req.Status = status
	req.Progress = progress
	if errMsg != nil {
		req.ErrorMessage = *errMsg
	}
	if resultJSON != nil {
		req.ResultJSON = resultJSON
	}
	return nil
}

func (f *fakeRequests) UpdateProgress(ctx context.Context, id string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.rows[id]
	if !ok || req.Status != domain.StatusProcessing {
		return nil
	}
	if progress > req.Progress {
		req.Progress = progress
	}
	return nil
}

func (f *fakeRequests) ListStuckProcessing(ctx context.Context, olderThanSeconds int, limit int) ([]domain.GenerationRequest, error) {
	return nil, nil
}

func (f *fakeRequests) get(t *testing.T, id string) domain.GenerationRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.rows[id]
	if !ok {
		t.Fatalf("request %s not found", id)
	}
	return *req
}

type fakePipelines struct {
	mu   sync.Mutex
	rows map[string]*domain.Pipeline
}

func newFakePipelines() *fakePipelines {
	return &fakePipelines{rows: make(map[string]*domain.Pipeline)}
}

func (f *fakePipelines) add(p domain.Pipeline) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.StageDone == nil {
		p.StageDone = map[string]bool{}
	}
	if p.StageOutputs == nil {
		p.StageOutputs = map[string]domain.StageOutput{}
	}
	cp := p
	f.rows[p.ID] = &cp
}

func (f *fakePipelines) Create(ctx context.Context, p *domain.Pipeline) error {
	f.add(*p)
	return nil
}

func (f *fakePipelines) GetByID(ctx context.Context, id string) (*domain.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePipelines) SetStageResult(ctx context.Context, id, stage string, output domain.StageOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.StageDone[stage] = true
	p.StageOutputs[stage] = output
	p.CurrentStage = stage
	return nil
}

type fakeAssets struct {
	mu   sync.Mutex
	rows []domain.FinishedAsset
}

func (f *fakeAssets) Create(ctx context.Context, a *domain.FinishedAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.PipelineID == a.PipelineID {
			return nil
		}
	}
	f.rows = append(f.rows, *a)
	return nil
}

func (f *fakeAssets) ListByUser(ctx context.Context, userID string, limit int) ([]domain.FinishedAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FinishedAsset
	for _, a := range f.rows {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type env struct {
	rec       *Reconciler
	ledger    *ledger.Memory
	requests  *fakeRequests
	pipelines *fakePipelines
	assets    *fakeAssets
}

func newEnv() *env {
	e := &env{
		ledger:    ledger.NewMemory(),
		requests:  newFakeRequests(),
		pipelines: newFakePipelines(),
		assets:    &fakeAssets{},
	}
	e.rec = New(e.ledger, e.requests, e.pipelines, e.assets, zerolog.Nop(), nil)
	return e
}

func intptr(v int) *int { return &v }

func TestReconcileCompleted(t *testing.T) {
	e := newEnv()
	e.requests.add(domain.GenerationRequest{ID: "req-1", UserID: "u1", Kind: domain.KindScript, Status: domain.StatusProcessing, CostCredits: 0.25})

	err := e.rec.Reconcile(context.Background(), Callback{
		FileID:      "req-1",
		Status:      "completed",
		DownloadURL: "https://cdn.example.com/out.mp4",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	req := e.requests.get(t, "req-1")
	if req.Status != domain.StatusCompleted || req.Progress != 100 {
		t.Fatalf("request = %+v", req)
	}
	if req.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", req.ErrorMessage)
	}
	// Completion never touches credits.
	if n := e.ledger.RowCount(); n != 0 {
		t.Fatalf("ledger rows = %d, want 0", n)
	}
}

func TestReconcileFailedRefundsStoredCost(t *testing.T) {
	e := newEnv()
	e.ledger.SetBalance("u1", 4.75)
	e.requests.add(domain.GenerationRequest{ID: "req-1", UserID: "u1", Kind: domain.KindScript, Status: domain.StatusProcessing, CostCredits: 0.25})

	err := e.rec.Reconcile(context.Background(), Callback{
		FileID:       "req-1",
		Status:       "failed",
		ErrorMessage: "render crashed",
		UserID:       "u1",
		CreditsCost:  0.25,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	req := e.requests.get(t, "req-1")
	if req.Status != domain.StatusFailed || req.Progress != 0 || req.ErrorMessage != "render crashed" {
		t.Fatalf("request = %+v", req)
	}
	balance, _ := e.ledger.Balance(context.Background(), "u1")
	if balance != 5.0 {
		t.Fatalf("balance = %v, want 5.0 after refund", balance)
	}
}

// The callback's credits_cost is never trusted over the stored reservation.
func TestReconcileFailedIgnoresForgedCallbackCost(t *testing.T) {
	e := newEnv()
	e.ledger.SetBalance("u1", 0)
	e.requests.add(domain.GenerationRequest{ID: "req-1", UserID: "u1", Status: domain.StatusProcessing, CostCredits: 0.25})

	err := e.rec.Reconcile(context.Background(), Callback{
		FileID:      "req-1",
		Status:      "failed",
		CreditsCost: 1000,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	balance, _ := e.ledger.Balance(context.Background(), "u1")
	if balance != 0.25 {
		t.Fatalf("balance = %v, want stored cost 0.25 refunded", balance)
	}
}

func TestReconcileDuplicateTerminalCallback(t *testing.T) {
	e := newEnv()
	e.ledger.SetBalance("u1", 4.75)
	e.requests.add(domain.GenerationRequest{ID: "req-1", UserID: "u1", Status: domain.StatusProcessing, CostCredits: 0.25})

	cb := Callback{FileID: "req-1", Status: "failed", ErrorMessage: "x", UserID: "u1", CreditsCost: 0.25}
	if err := e.rec.Reconcile(context.Background(), cb); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := e.rec.Reconcile(context.Background(), cb); err != nil {
		t.Fatalf("duplicate delivery must succeed: %v", err)
	}

	balance, _ := e.ledger.Balance(context.Background(), "u1")
	if balance != 5.0 {
		t.Fatalf("balance = %v, want 5.0 (single refund)", balance)
	}
	refunds := 0
	txns, _ := e.ledger.Transactions(context.Background(), "u1", 50)
	for _, txn := range txns {
		if txn.Type == domain.TxRefund {
			refunds++
		}
	}
	if refunds != 1 {
		t.Fatalf("refund rows = %d, want 1", refunds)
	}
}

func TestReconcileProgressUpdate(t *testing.T) {
	e := newEnv()
	e.requests.add(domain.GenerationRequest{ID: "req-1", UserID: "u1", Status: domain.StatusProcessing, Progress: 40})

	if err := e.rec.Reconcile(context.Background(), Callback{FileID: "req-1", Status: "processing", Progress: intptr(70)}); err != nil {
		t.Fatal(err)
	}
	if req := e.requests.get(t, "req-1"); req.Progress != 70 || req.Status != domain.StatusProcessing {
		t.Fatalf("request = %+v", req)
	}

	// Progress is monotone: a stale lower value does not rewind it.
	if err := e.rec.Reconcile(context.Background(), Callback{FileID: "req-1", Status: "processing", Progress: intptr(20)}); err != nil {
		t.Fatal(err)
	}
	if req := e.requests.get(t, "req-1"); req.Progress != 70 {
		t.Fatalf("progress rewound to %d", req.Progress)
	}

	// Out-of-range values are clamped.
	if err := e.rec.Reconcile(context.Background(), Callback{FileID: "req-1", Status: "processing", Progress: intptr(250)}); err != nil {
		t.Fatal(err)
	}
	if req := e.requests.get(t, "req-1"); req.Progress != 100 {
		t.Fatalf("progress = %d, want clamped 100", req.Progress)
	}
}

func TestReconcileUnknownRequest(t *testing.T) {
	e := newEnv()
	err := e.rec.Reconcile(context.Background(), Callback{FileID: "ghost", Status: "completed"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReconcileRejectsMalformed(t *testing.T) {
	e := newEnv()
	tests := []struct {
		name string
		cb   Callback
	}{
		{"bad status", Callback{FileID: "req-1", Status: "exploded"}},
		{"missing file id", Callback{Status: "completed"}},
		{"pipeline without id", Callback{Type: "pipeline_lip_sync", Status: "completed"}},
		{"unknown type", Callback{Type: "shutdown", FileID: "req-1", Status: "completed"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := e.rec.Reconcile(context.Background(), tc.cb)
			if !errors.Is(err, domain.ErrInvalidCallback) {
				t.Fatalf("err = %v, want ErrInvalidCallback", err)
			}
		})
	}
}

func TestReconcilePipelineStageCompleted(t *testing.T) {
	e := newEnv()
	e.pipelines.add(domain.Pipeline{ID: "pipe-1", UserID: "u1"})
	e.requests.add(domain.GenerationRequest{
		ID: "req-s", UserID: "u1", PipelineID: "pipe-1", Stage: domain.StageSpeech,
		Kind: domain.KindSpeech, Status: domain.StatusProcessing, CostCredits: 0.30,
	})

	err := e.rec.Reconcile(context.Background(), Callback{
		Type:       "pipeline_speech",
		PipelineID: "pipe-1",
		Status:     "completed",
		Output:     &domain.StageOutput{URL: "https://cdn.example.com/voice.mp3", DurationSeconds: 14},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	p, _ := e.pipelines.GetByID(context.Background(), "pipe-1")
	if !p.StageDone[domain.StageSpeech] {
		t.Fatal("stage not marked done")
	}
	if p.StageOutputs[domain.StageSpeech].URL != "https://cdn.example.com/voice.mp3" {
		t.Fatalf("stage output = %+v", p.StageOutputs[domain.StageSpeech])
	}
	if req := e.requests.get(t, "req-s"); req.Status != domain.StatusCompleted {
		t.Fatalf("stage request status = %s", req.Status)
	}
	// Not the final stage: no finished asset yet.
	if len(e.assets.rows) != 0 {
		t.Fatalf("assets = %+v, want none", e.assets.rows)
	}
}

func TestReconcileFinalStageMaterializesAsset(t *testing.T) {
	e := newEnv()
	e.pipelines.add(domain.Pipeline{ID: "pipe-1", UserID: "u1"})
	e.requests.add(domain.GenerationRequest{
		ID: "req-l", UserID: "u1", PipelineID: "pipe-1", Stage: domain.StageLipSync,
		Kind: domain.KindLipSync, Status: domain.StatusProcessing, CostCredits: 1.5,
	})

	cb := Callback{
		Type:       "pipeline_lip_sync",
		PipelineID: "pipe-1",
		Status:     "completed",
		Output:     &domain.StageOutput{URL: "https://cdn.example.com/final.mp4", DurationSeconds: 30},
	}
	if err := e.rec.Reconcile(context.Background(), cb); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(e.assets.rows) != 1 {
		t.Fatalf("assets = %d, want 1", len(e.assets.rows))
	}
	asset := e.assets.rows[0]
	if asset.PipelineID != "pipe-1" || asset.URL != "https://cdn.example.com/final.mp4" || asset.UserID != "u1" {
		t.Fatalf("asset = %+v", asset)
	}

	// Duplicate final callback neither duplicates the asset nor errors.
	if err := e.rec.Reconcile(context.Background(), cb); err != nil {
		t.Fatalf("duplicate final callback: %v", err)
	}
	if len(e.assets.rows) != 1 {
		t.Fatalf("assets after duplicate = %d, want 1", len(e.assets.rows))
	}
}

func TestReconcilePipelineStageFailedRefunds(t *testing.T) {
	e := newEnv()
	e.ledger.SetBalance("u1", 3.5)
	e.pipelines.add(domain.Pipeline{ID: "pipe-1", UserID: "u1"})
	e.requests.add(domain.GenerationRequest{
		ID: "req-l", UserID: "u1", PipelineID: "pipe-1", Stage: domain.StageLipSync,
		Status: domain.StatusProcessing, CostCredits: 1.5,
	})

	err := e.rec.Reconcile(context.Background(), Callback{
		Type:         "pipeline_lip_sync",
		PipelineID:   "pipe-1",
		Status:       "failed",
		ErrorMessage: "face not detected",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	balance, _ := e.ledger.Balance(context.Background(), "u1")
	if balance != 5.0 {
		t.Fatalf("balance = %v, want 5.0", balance)
	}
	if req := e.requests.get(t, "req-l"); req.Status != domain.StatusFailed {
		t.Fatalf("stage request status = %s", req.Status)
	}
}

func TestReconcileStageFailedWithoutRequestRow(t *testing.T) {
	e := newEnv()
	e.ledger.SetBalance("u1", 0)
	e.pipelines.add(domain.Pipeline{ID: "pipe-1", UserID: "u1"})

	cb := Callback{
		Type:        "pipeline_broll",
		PipelineID:  "pipe-1",
		Status:      "failed",
		UserID:      "u1",
		CreditsCost: 0.80,
	}
	if err := e.rec.Reconcile(context.Background(), cb); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	balance, _ := e.ledger.Balance(context.Background(), "u1")
	if balance != 0.80 {
		t.Fatalf("balance = %v, want fallback refund 0.80", balance)
	}
	// Redelivery dedups on pipeline id + stage.
	if err := e.rec.Reconcile(context.Background(), cb); err != nil {
		t.Fatal(err)
	}
	balance, _ = e.ledger.Balance(context.Background(), "u1")
	if balance != 0.80 {
		t.Fatalf("balance after duplicate = %v, want 0.80", balance)
	}
}
