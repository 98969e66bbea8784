package content

import (
	"context"
	"fmt"

	"pharmacy-finder/internal/ai"
	"pharmacy-finder/internal/models"
	"pharmacy-finder/internal/telemetry"
)

// PublishDue sweeps pending items whose publish_at has passed and
// transitions them to published. Items still missing AI fields get one
// fallback provider call to backfill; a backfill failure never blocks the
// publish itself. Returns the number of items published.
func (p *Pipeline) PublishDue(ctx context.Context, limit int) (int, error) {
	now := p.now()
	due, err := p.store.DuePending(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("select due pending: %w", err)
	}

	published := 0
	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if !item.Complete() {
			p.backfill(ctx, &item)
		}
		if err := p.store.MarkPublished(ctx, item.Slug, now); err != nil {
			p.logger.Warn("publish failed", "slug", item.Slug, "err", err.Error())
			continue
		}
		telemetry.PublishedItems.Inc()
		p.logger.Info("published", "slug", item.Slug)
		published++
	}
	return published, nil
}

// backfill tries one provider call to fill missing AI fields in place.
// MarkPublished and BackfillAIFields are independent updates; no multi-row
// atomicity is assumed between them.
func (p *Pipeline) backfill(ctx context.Context, item *models.ContentItem) {
	prompt := buildBackfillPrompt(*item)
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	result, err := p.provider.Generate(ctx, prompt, ai.Options{})
	if err != nil {
		p.logger.Warn("backfill generation failed, publishing as-is",
			"slug", item.Slug, "err", err.Error())
		return
	}

	patch := *item
	patch.AISummary = result.Summary
	patch.AIBullets = result.Bullets
	patch.AIFAQ = result.FAQ
	patch.AICTA = result.CTA
	patch.ExtraSections = result.ExtraSections
	if err := p.store.BackfillAIFields(ctx, patch); err != nil {
		p.logger.Warn("backfill store failed, publishing as-is",
			"slug", item.Slug, "err", err.Error())
	}
}

func buildBackfillPrompt(item models.ContentItem) string {
	return fmt.Sprintf("페이지 %q의 누락된 요약과 FAQ를 작성하세요. 제목: %s", item.Slug, item.Title)
}
