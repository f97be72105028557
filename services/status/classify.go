package status

import "strings"

// Bucket is the reporting category of a raw job status
type Bucket string

const (
	Completed    Bucket = "completed"
	Processing   Bucket = "processing"
	Failed       Bucket = "failed"
	Pending      Bucket = "pending"
	Unclassified Bucket = "unclassified"
)

// rule matches raw statuses that belong to a bucket
type rule struct {
	bucket   Bucket
	exact    []string
	contains []string
}

// classificationTable lists the vocabulary the workflow engine is known to
// emit, localized variants included. Matching is case-sensitive and the
// first matching rule wins. Extend the table; do not special-case callers.
var classificationTable = []rule{
	{bucket: Completed, exact: []string{"completed", "succeeded", "Terminé"}},
	{bucket: Processing, exact: []string{"processing", "running"}, contains: []string{"cours", "progress"}},
	{bucket: Failed, exact: []string{"failed", "error", "Erreur"}},
	{bucket: Pending, exact: []string{"pending", "starting", "queued"}},
}

// Classify maps a raw status string to its bucket
func Classify(raw string) Bucket {
	for _, r := range classificationTable {
		for _, s := range r.exact {
			if raw == s {
				return r.bucket
			}
		}
		for _, s := range r.contains {
			if strings.Contains(raw, s) {
				return r.bucket
			}
		}
	}
	return Unclassified
}

const batchPrefix = "batch_"

// BatchIDFromCorrelation returns the batch token of a correlation id of the
// form batch_<token>_<suffix>, or nil for any other id.
func BatchIDFromCorrelation(correlationID string) *string {
	if !strings.HasPrefix(correlationID, batchPrefix) {
		return nil
	}
	id := strings.Split(correlationID, "_")[1]
	return &id
}
