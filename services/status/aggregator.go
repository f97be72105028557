package status

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/services/quota"
)

// JobLister lists a user's jobs, newest first
type JobLister interface {
	ListForOwner(ctx context.Context, ownerID string) ([]*models.AuditJob, error)
}

// QuotaReader reads a tenant's ledger snapshot
type QuotaReader interface {
	Status(ctx context.Context, tenantKey string) (*quota.Status, error)
}

// JobView is the normalized per-job reporting view
type JobView struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Email          string     `json:"email"`
	Status         string     `json:"status"`
	Score          *float64   `json:"score"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt"`
	DeliveryMethod *string    `json:"deliveryMethod"`
	AuditType      string     `json:"auditType"`
	BatchID        *string    `json:"batchId"`
}

// Stats counts jobs per bucket. Unclassified jobs only count toward Total.
type Stats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
}

// QuotaView is the ledger summary embedded in a report
type QuotaView struct {
	Used      int    `json:"used"`
	Total     int    `json:"total"`
	Remaining int    `json:"remaining"`
	Tier      string `json:"tier"`
}

// Organization is the tenant metadata passed through to the report
type Organization struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Meta describes the report itself
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	TotalJobs int       `json:"totalJobs"`
	UserID    string    `json:"userId"`
}

// Report is the status overview of one tenant
type Report struct {
	Jobs         []JobView    `json:"jobs"`
	Stats        Stats        `json:"stats"`
	Quota        QuotaView    `json:"quota"`
	Organization Organization `json:"organization"`
	Meta         Meta         `json:"meta"`
}

// Aggregator builds status reports
type Aggregator struct {
	jobs   JobLister
	quota  QuotaReader
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates a new status aggregator
func NewAggregator(jobs JobLister, quota QuotaReader, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		jobs:   jobs,
		quota:  quota,
		logger: logger,
		now:    time.Now,
	}
}

// Aggregate lists the tenant user's jobs and reduces them to a report
func (a *Aggregator) Aggregate(ctx context.Context, tenant models.Tenant) (*Report, error) {
	jobs, err := a.jobs.ListForOwner(ctx, tenant.UserID)
	if err != nil {
		return nil, err
	}

	q, err := a.quota.Status(ctx, tenant.QuotaKey())
	if err != nil {
		return nil, err
	}

	views, stats := Summarize(jobs)

	return &Report{
		Jobs:  views,
		Stats: stats,
		Quota: QuotaView{
			Used:      q.Used,
			Total:     q.Total,
			Remaining: q.Remaining,
			Tier:      string(q.Tier),
		},
		Organization: Organization{
			ID:   tenant.OrgID,
			Slug: tenant.OrgSlug,
			Name: tenant.OrgName,
		},
		Meta: Meta{
			Timestamp: a.now().UTC(),
			TotalJobs: len(views),
			UserID:    tenant.UserID,
		},
	}, nil
}

// Summarize normalizes jobs and counts them per bucket
func Summarize(jobs []*models.AuditJob) ([]JobView, Stats) {
	views := make([]JobView, 0, len(jobs))
	stats := Stats{Total: len(jobs)}

	for _, job := range jobs {
		switch Classify(job.Status) {
		case Completed:
			stats.Completed++
		case Processing:
			stats.Processing++
		case Failed:
			stats.Failed++
		case Pending:
			stats.Pending++
		}
		views = append(views, normalize(job))
	}

	return views, stats
}

func normalize(job *models.AuditJob) JobView {
	st := job.Status
	if st == "" {
		st = models.JobStatusPending
	}

	auditType := string(job.AuditType)
	if auditType == "" {
		auditType = string(models.AuditTypeManual)
	}

	// a zero score is reported as absent, like a missing one
	var score *float64
	if job.ScoreGlobal != nil && *job.ScoreGlobal != 0 {
		v := *job.ScoreGlobal
		score = &v
	}

	var delivery *string
	if job.DeliveryMethod != nil && *job.DeliveryMethod != "" {
		delivery = job.DeliveryMethod
	}

	return JobView{
		ID:             job.ID.String(),
		URL:            job.URL,
		Email:          job.Email,
		Status:         st,
		Score:          score,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
		DeliveryMethod: delivery,
		AuditType:      auditType,
		BatchID:        BatchIDFromCorrelation(job.WebhookID),
	}
}
