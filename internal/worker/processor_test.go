package worker

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"pharmacy-finder/internal/models"
)

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
}

func TestRunJobDispatch(t *testing.T) {
	p := &Processor{handlers: make(map[string]Handler)}

	var got models.GenerationJob
	p.RegisterHandler(models.JobKindBlog, func(ctx context.Context, job models.GenerationJob) error {
		got = job
		return nil
	})

	job := models.GenerationJob{ID: "j1", Kind: models.JobKindBlog, Slug: "pharmacy-guide", Title: "야간 약국 안내"}
	if err := p.runJob(context.Background(), job); err != nil {
		t.Fatalf("runJob: %v", err)
	}
	if got.Slug != "pharmacy-guide" || got.Title != "야간 약국 안내" {
		t.Fatalf("handler received wrong job: %+v", got)
	}
}

func TestRunJobUnknownKind(t *testing.T) {
	p := &Processor{handlers: make(map[string]Handler)}
	err := p.runJob(context.Background(), models.GenerationJob{ID: "j1", Kind: "mystery"})
	if err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}

func TestRegisterHandlerIgnoresEmpty(t *testing.T) {
	p := &Processor{handlers: make(map[string]Handler)}
	p.RegisterHandler("", func(ctx context.Context, job models.GenerationJob) error { return nil })
	p.RegisterHandler("x", nil)
	if len(p.handlers) != 0 {
		t.Fatalf("expected no handlers registered, got %d", len(p.handlers))
	}
}

func TestRunJobHandlerError(t *testing.T) {
	p := &Processor{handlers: make(map[string]Handler)}
	want := errors.New("provider unavailable")
	p.RegisterHandler(models.JobKindPharmacy, func(ctx context.Context, job models.GenerationJob) error {
		return want
	})
	if err := p.runJob(context.Background(), models.GenerationJob{Kind: models.JobKindPharmacy}); !errors.Is(err, want) {
		t.Fatalf("expected handler error, got %v", err)
	}
}
