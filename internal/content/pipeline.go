// Package content drives the lifecycle of generated content items:
// candidate selection, AI generation with near-duplicate screening,
// dispersion scheduling, and the pending→published/failed transitions.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pharmacy-finder/internal/ai"
	"pharmacy-finder/internal/dedup"
	"pharmacy-finder/internal/models"
	"pharmacy-finder/internal/schedule"
	"pharmacy-finder/internal/store"
	"pharmacy-finder/internal/telemetry"
)

// corpusSize bounds the recent-history corpus loaded for dedup checks.
const corpusSize = 50

// Store is the narrow slice of persistence the pipeline needs.
type Store interface {
	GenerationCandidates(ctx context.Context, limit int) ([]models.Pharmacy, error)
	GetContent(ctx context.Context, slug string) (models.ContentItem, error)
	GetContentByHPID(ctx context.Context, hpid string) (models.ContentItem, error)
	UpsertContent(ctx context.Context, item models.ContentItem) error
	MarkContentFailed(ctx context.Context, slug string) error
	RecentSummaries(ctx context.Context, limit int) ([]string, error)
	DuePending(ctx context.Context, now time.Time, limit int) ([]models.ContentItem, error)
	MarkPublished(ctx context.Context, slug string, at time.Time) error
	BackfillAIFields(ctx context.Context, item models.ContentItem) error
}

// Provider generates structured content from a prompt. A nil result always
// comes with an error and means "generation failed", never a crash.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts ai.Options) (*ai.Result, error)
}

// Pipeline wires generation and publishing. Not safe for concurrent use;
// batch jobs run it sequentially by design to throttle provider calls.
type Pipeline struct {
	store    Store
	provider Provider
	filter   *dedup.Filter
	limiter  *rate.Limiter
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// Deps collects pipeline collaborators. Now defaults to time.Now; inject a
// fixed clock in tests.
type Deps struct {
	Store      Store
	Provider   Provider
	Filter     *dedup.Filter
	RatePerSec float64
	Location   *time.Location
	Now        func() time.Time
	Logger     *slog.Logger
}

func NewPipeline(d Deps) *Pipeline {
	if d.Filter == nil {
		d.Filter = dedup.New(0, nil)
	}
	if d.RatePerSec <= 0 {
		d.RatePerSec = 1
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Pipeline{
		store:    d.Store,
		provider: d.Provider,
		filter:   d.Filter,
		limiter:  rate.NewLimiter(rate.Limit(d.RatePerSec), 1),
		loc:      d.Location,
		now:      d.Now,
		logger:   d.Logger.With("component", "content"),
	}
}

// PharmacySlug derives the stable content slug for a pharmacy.
func PharmacySlug(hpid string) string {
	return "pharmacy-" + strings.ToLower(hpid)
}

// GenerateBatch selects up to limit pharmacies without complete content and
// generates for each sequentially. One bad item never aborts the rest.
// Returns how many items were generated.
func (p *Pipeline) GenerateBatch(ctx context.Context, limit int) (int, error) {
	candidates, err := p.store.GenerationCandidates(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("select candidates: %w", err)
	}

	generated := 0
	for _, ph := range candidates {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		if err := p.GeneratePharmacy(ctx, ph); err != nil {
			p.logger.Warn("generation failed", "hpid", ph.HPID, "err", err.Error())
			continue
		}
		generated++
	}
	return generated, nil
}

// GeneratePharmacy runs one pharmacy through the generation workflow:
// completeness gate, provider call, dedup screen (one re-generation on a
// hit), dispersion scheduling, and the pending upsert.
//
// The gate is check-then-act: two overlapping runs can both see "incomplete"
// and both regenerate. Accepted race; the duplicate work is cheap and the
// slug upsert keeps the row single.
func (p *Pipeline) GeneratePharmacy(ctx context.Context, ph models.Pharmacy) error {
	slug := PharmacySlug(ph.HPID)

	existing, found, err := p.lookup(ctx, slug, ph.HPID)
	if err != nil {
		return err
	}
	if found && existing.Complete() &&
		(existing.Status == models.StatusPublished || existing.Status == models.StatusPending) {
		p.logger.Debug("skip complete item", "slug", existing.Slug)
		return nil
	}

	result, err := p.generateChecked(ctx, buildPharmacyPrompt(ph))
	if err != nil {
		// Best effort: only an already-created row can transition to failed.
		if found {
			if markErr := p.store.MarkContentFailed(ctx, existing.Slug); markErr != nil {
				p.logger.Warn("mark failed", "slug", existing.Slug, "err", markErr.Error())
			}
		}
		return fmt.Errorf("generate %s: %w", slug, err)
	}

	now := p.now()
	hpid := ph.HPID
	item := models.ContentItem{
		Slug:          slug,
		HPID:          &hpid,
		Title:         ph.Name,
		ContentHTML:   renderFallbackHTML(ph),
		AISummary:     result.Summary,
		AIBullets:     result.Bullets,
		AIFAQ:         result.FAQ,
		AICTA:         result.CTA,
		ExtraSections: result.ExtraSections,
		Status:        models.StatusPending,
		PublishAt:     schedule.DispersedPublishTime(ph.HPID, now),
	}
	if err := p.store.UpsertContent(ctx, item); err != nil {
		if found {
			_ = p.store.MarkContentFailed(ctx, existing.Slug)
		}
		return fmt.Errorf("store %s: %w", slug, err)
	}
	p.logger.Info("content queued", "slug", slug, "publish_at", item.PublishAt)
	return nil
}

// GenerateBlog creates or regenerates a standalone blog post keyed by slug,
// scheduled on the fixed daily cadence instead of per-entity dispersion.
func (p *Pipeline) GenerateBlog(ctx context.Context, slug, title, topic string) error {
	existing, err := p.store.GetContent(ctx, slug)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup blog %s: %w", slug, err)
	}
	found := err == nil
	if found && existing.Complete() &&
		(existing.Status == models.StatusPublished || existing.Status == models.StatusPending) {
		return nil
	}

	result, err := p.generateChecked(ctx, buildBlogPrompt(title, topic))
	if err != nil {
		if found {
			_ = p.store.MarkContentFailed(ctx, slug)
		}
		return fmt.Errorf("generate blog %s: %w", slug, err)
	}

	item := models.ContentItem{
		Slug:          slug,
		Title:         title,
		AISummary:     result.Summary,
		AIBullets:     result.Bullets,
		AIFAQ:         result.FAQ,
		AICTA:         result.CTA,
		ExtraSections: result.ExtraSections,
		Status:        models.StatusPending,
		PublishAt:     schedule.NextSlot(p.now()),
	}
	if err := p.store.UpsertContent(ctx, item); err != nil {
		if found {
			_ = p.store.MarkContentFailed(ctx, slug)
		}
		return fmt.Errorf("store blog %s: %w", slug, err)
	}
	return nil
}

// generateChecked calls the provider (rate-paced) and screens the summary
// against recent history. On a near-duplicate hit the provider is re-invoked
// exactly once with an avoid instruction; the second result is accepted
// either way.
func (p *Pipeline) generateChecked(ctx context.Context, prompt string) (*ai.Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := p.provider.Generate(ctx, prompt, ai.Options{})
	if err != nil {
		return nil, err
	}
	if result.Summary == nil {
		return result, nil
	}

	corpus, err := p.store.RecentSummaries(ctx, corpusSize)
	if err != nil {
		// Dedup is a heuristic; a corpus read failure only skips the screen.
		p.logger.Warn("dedup corpus unavailable", "err", err.Error())
		return result, nil
	}
	matches := p.filter.FindNearDuplicates(*result.Summary, corpus)
	if len(matches) == 0 {
		return result, nil
	}

	telemetry.DedupRegenerates.Inc()
	p.logger.Info("near-duplicate summary, regenerating once",
		"score", matches[0].Score, "matches", len(matches))
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	retry, err := p.provider.Generate(ctx, prompt, ai.Options{AvoidText: matches[0].Text})
	if err != nil {
		return nil, err
	}
	return retry, nil
}

// lookup finds the existing row for a pharmacy by hpid, falling back to the
// slug. Only a confirmed missing row reports found=false; any other store
// failure aborts the caller so the completeness gate is never skipped blind.
func (p *Pipeline) lookup(ctx context.Context, slug, hpid string) (models.ContentItem, bool, error) {
	item, err := p.store.GetContentByHPID(ctx, hpid)
	if err == nil {
		return item, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.ContentItem{}, false, fmt.Errorf("lookup by hpid %s: %w", hpid, err)
	}
	item, err = p.store.GetContent(ctx, slug)
	if err == nil {
		return item, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.ContentItem{}, false, fmt.Errorf("lookup %s: %w", slug, err)
	}
	return models.ContentItem{}, false, nil
}

func buildPharmacyPrompt(ph models.Pharmacy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "다음 약국의 소개 페이지 콘텐츠를 작성하세요.\n")
	fmt.Fprintf(&b, "약국명: %s\n", ph.Name)
	fmt.Fprintf(&b, "주소: %s %s %s\n", ph.Sido, ph.Gugun, ph.Address)
	if ph.Phone != "" {
		fmt.Fprintf(&b, "전화: %s\n", ph.Phone)
	}
	if len(ph.Hours) > 0 {
		b.WriteString("영업시간:\n")
		for _, day := range []string{models.DayMon, models.DayTue, models.DayWed, models.DayThu, models.DayFri, models.DaySat, models.DaySun, models.DayHoliday} {
			if slot := ph.Hours[day]; slot != nil {
				fmt.Fprintf(&b, "  %s: %s-%s\n", day, slot.Open, slot.Close)
			}
		}
	}
	return b.String()
}

func buildBlogPrompt(title, topic string) string {
	return fmt.Sprintf("제목 %q의 블로그 글 콘텐츠를 작성하세요. 주제: %s", title, topic)
}

// renderFallbackHTML is the template-derived body shown when AI fields are
// missing; full page rendering is out of scope here.
func renderFallbackHTML(ph models.Pharmacy) string {
	return fmt.Sprintf("<h1>%s</h1><p>%s %s %s</p>", ph.Name, ph.Sido, ph.Gugun, ph.Address)
}
