package models

import (
	"time"
)

// ContentStatus enumerates lifecycle states persisted in Postgres.
const (
	StatusPending   = "pending"
	StatusReview    = "review"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// FAQEntry is one generated question/answer pair.
type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Section is a generated free-form content block.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ContentItem represents one unit of publishable content: a per-pharmacy
// page (HPID set) or a standalone blog post (HPID nil). Keyed by Slug.
type ContentItem struct {
	Slug          string     `json:"slug"`
	HPID          *string    `json:"hpid,omitempty"`
	Title         string     `json:"title"`
	ContentHTML   string     `json:"content_html"`
	AISummary     *string    `json:"ai_summary,omitempty"`
	AIBullets     []string   `json:"ai_bullets,omitempty"`
	AIFAQ         []FAQEntry `json:"ai_faq,omitempty"`
	AICTA         *string    `json:"ai_cta,omitempty"`
	ExtraSections []Section  `json:"extra_sections,omitempty"`
	Status        string     `json:"status"`
	PublishAt     time.Time  `json:"publish_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Complete reports whether the item carries the full AI payload. A complete
// published item must not be regenerated or duplicated for the same HPID.
func (c ContentItem) Complete() bool {
	return c.AISummary != nil && *c.AISummary != "" && len(c.AIFAQ) > 0
}

const (
	JobKindPharmacy = "pharmacy"
	JobKindBlog     = "blog"
)

// GenerationJob is the payload carried through the Redis queue for one
// content-generation run.
type GenerationJob struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"` // "pharmacy" or "blog"
	HPID     string    `json:"hpid,omitempty"`
	Slug     string    `json:"slug"`
	Title    string    `json:"title,omitempty"`
	Topic    string    `json:"topic,omitempty"`
	Attempts int       `json:"attempts"`
	RunAt    time.Time `json:"run_at"`
}
