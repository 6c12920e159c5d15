package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"github.com/shopspring/decimal"
)

type fakeCatalog struct {
	mu sync.Mutex

	parts  map[domain.Category][]domain.Part
	boards map[string][]domain.Part
	rams   map[string][]domain.Part
	cases  []domain.Part

	listErr    map[domain.Category]error
	verifyFn   func(domain.VerifyRequest) (domain.Verdict, error)
	gates      map[string]chan struct{}
	draftErr   error
	buildErr   error
	draftDelay time.Duration
	buildDelay time.Duration
	submitMsg  string

	verifyCalls []domain.VerifyRequest
	caseCalls   []int
	drafts      []domain.DraftRequest
	submits     []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		parts: map[domain.Category][]domain.Part{
			domain.CategoryCPU: {
				fakePart("amd-7600", domain.CategoryCPU, "AMD", "Ryzen 5 7600", "199.00", "AM5", 0),
				fakePart("amd-7800", domain.CategoryCPU, "AMD", "Ryzen 7 7800X3D", "379.00", "AM5", 0),
				fakePart("intel-14600", domain.CategoryCPU, "Intel", "Core i5-14600K", "289.00", "LGA1700", 0),
			},
			domain.CategoryGPU: {
				fakePart("gpu-4070", domain.CategoryGPU, "NVIDIA", "RTX 4070", "549.00", "", 300),
				fakePart("gpu-4090", domain.CategoryGPU, "NVIDIA", "RTX 4090", "1599.00", "", 340),
			},
			domain.CategorySSD: {fakePart("ssd-1tb", domain.CategorySSD, "Samsung", "990 Pro 1TB", "99.99", "", 0)},
			domain.CategoryHDD: {fakePart("hdd-4tb", domain.CategoryHDD, "Seagate", "IronWolf 4TB", "84.50", "", 0)},
			domain.CategoryPSU: {fakePart("psu-750", domain.CategoryPSU, "Corsair", "RM750e", "89.90", "", 0)},
			domain.CategoryFan: {
				fakePart("fan-120", domain.CategoryFan, "Noctua", "NF-A12x25", "32.95", "", 0),
				fakePart("fan-140", domain.CategoryFan, "Arctic", "P14", "9.99", "", 0),
			},
		},
		boards: map[string][]domain.Part{
			"amd-7600":    {fakePart("mb-b650", domain.CategoryMotherboard, "MSI", "B650 Tomahawk", "189.00", "AM5", 0), fakePart("mb-x670", domain.CategoryMotherboard, "ASUS", "X670E Hero", "499.00", "AM5", 0)},
			"amd-7800":    {fakePart("mb-b650", domain.CategoryMotherboard, "MSI", "B650 Tomahawk", "189.00", "AM5", 0)},
			"intel-14600": {fakePart("mb-z790", domain.CategoryMotherboard, "Gigabyte", "Z790 Aorus", "229.00", "LGA1700", 0)},
		},
		rams: map[string][]domain.Part{
			"mb-b650": {fakePart("ram-ddr5-32", domain.CategoryRAM, "Kingston", "Fury 32GB DDR5", "109.00", "", 0), fakePart("ram-ddr5-64", domain.CategoryRAM, "G.Skill", "Trident 64GB DDR5", "219.00", "", 0)},
			"mb-x670": {fakePart("ram-ddr5-32", domain.CategoryRAM, "Kingston", "Fury 32GB DDR5", "109.00", "", 0)},
			"mb-z790": {fakePart("ram-ddr5-32", domain.CategoryRAM, "Kingston", "Fury 32GB DDR5", "109.00", "", 0)},
		},
		cases: []domain.Part{
			fakePart("case-mid", domain.CategoryCase, "Fractal", "Pop Air", "79.00", "", 330),
			fakePart("case-full", domain.CategoryCase, "Lian Li", "O11 Dynamic", "149.00", "", 420),
		},
		listErr: map[domain.Category]error{},
		gates:   map[string]chan struct{}{},
	}
}

func fakePart(id string, category domain.Category, brand, model, price, socket string, length int) domain.Part {
	return domain.Part{
		ProductID: id,
		Category:  category,
		Brand:     brand,
		Model:     model,
		Price:     decimal.RequireFromString(price),
		Socket:    socket,
		LengthMM:  length,
		Stock:     5,
	}
}

// gate holds the response for key until the returned release func is called.
func (f *fakeCatalog) gate(key string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[key] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// wait blocks on the gate for key, giving up when ctx ends.
func (f *fakeCatalog) wait(ctx context.Context, key string) error {
	f.mu.Lock()
	ch, ok := f.gates[key]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeCatalog) ListParts(ctx context.Context, category domain.Category, brand string) ([]domain.Part, error) {
	if err := f.wait(ctx, "list:"+string(category)+":"+brand); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[category]; err != nil {
		return nil, err
	}
	var out []domain.Part
	for _, p := range f.parts[category] {
		if brand != "" && !strings.EqualFold(p.Brand, brand) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCatalog) CompatibleMotherboards(ctx context.Context, cpuID, mode string) ([]domain.Part, error) {
	if err := f.wait(ctx, "boards:"+cpuID); err != nil {
		return nil, err
	}
	if mode != MatchBrandSocket {
		return nil, fmt.Errorf("unexpected mode %q", mode)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Part(nil), f.boards[cpuID]...), nil
}

func (f *fakeCatalog) CompatibleRAM(ctx context.Context, motherboardID string) ([]domain.Part, error) {
	if err := f.wait(ctx, "rams:"+motherboardID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Part(nil), f.rams[motherboardID]...), nil
}

func (f *fakeCatalog) CompatibleCases(ctx context.Context, motherboardID string, gpuLengthMM int) ([]domain.Part, error) {
	if err := f.wait(ctx, "cases:"+motherboardID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caseCalls = append(f.caseCalls, gpuLengthMM)
	var out []domain.Part
	for _, c := range f.cases {
		if gpuLengthMM > 0 && c.LengthMM < gpuLengthMM {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCatalog) VerifyBuild(ctx context.Context, req domain.VerifyRequest) (domain.Verdict, error) {
	if err := f.wait(ctx, "verify:"+req.CaseID); err != nil {
		return domain.Verdict{}, err
	}
	f.mu.Lock()
	f.verifyCalls = append(f.verifyCalls, req)
	fn := f.verifyFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return domain.Verdict{OK: true}, nil
}

func (f *fakeCatalog) CreateDraft(ctx context.Context, req domain.DraftRequest) (string, error) {
	if err := pause(ctx, f.draftDelay); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draftErr != nil {
		return "", f.draftErr
	}
	f.drafts = append(f.drafts, req)
	return fmt.Sprintf("build-%d", len(f.drafts)), nil
}

func (f *fakeCatalog) GetBuild(ctx context.Context, buildID string) (domain.BuildSnapshot, error) {
	if err := pause(ctx, f.buildDelay); err != nil {
		return domain.BuildSnapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return domain.BuildSnapshot{}, f.buildErr
	}
	if !strings.HasPrefix(buildID, "build-") {
		return domain.BuildSnapshot{}, fmt.Errorf("%w: %s", domain.ErrBuildNotFound, buildID)
	}
	status := "draft"
	for _, id := range f.submits {
		if id == buildID {
			status = "submitted"
		}
	}
	return domain.BuildSnapshot{BuildID: buildID, Status: status, Compatibility: domain.Verdict{OK: true}}, nil
}

func (f *fakeCatalog) SubmitDraft(_ context.Context, buildID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, buildID)
	return f.submitMsg, nil
}

func (f *fakeCatalog) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verifyCalls)
}

func (f *fakeCatalog) lastCaseCall() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.caseCalls) == 0 {
		return -1
	}
	return f.caseCalls[len(f.caseCalls)-1]
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errCatalogDown = errors.New("catalog unavailable")

func settle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("wait for engine: %v", err)
	}
}

func mustSelect(t *testing.T, e *Engine, category domain.Category, productID string) {
	t.Helper()
	if err := e.SelectPartByID(category, productID); err != nil {
		t.Fatalf("select %s %s: %v", category, productID, err)
	}
	settle(t, e)
}

// selectAMDCore drives a fresh engine to a complete AMD core selection.
func selectAMDCore(t *testing.T, e *Engine) {
	t.Helper()
	e.Preload()
	e.SelectBrand("AMD")
	settle(t, e)
	mustSelect(t, e, domain.CategoryCPU, "amd-7600")
	mustSelect(t, e, domain.CategoryMotherboard, "mb-b650")
	mustSelect(t, e, domain.CategoryRAM, "ram-ddr5-32")
	mustSelect(t, e, domain.CategoryGPU, "gpu-4070")
	mustSelect(t, e, domain.CategoryCase, "case-mid")
}
