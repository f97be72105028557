package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/upb/audit-quota/models"
)

// Kind selects the workflow a message triggers
type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

// Message is one workflow trigger. Body is the exact JSON sent to the
// engine; it is also what gets signed.
type Message struct {
	Kind          Kind
	CorrelationID string
	Body          []byte
}

// SinglePayload triggers the single-site audit workflow
type SinglePayload struct {
	URL            string `json:"url"`
	Email          string `json:"email"`
	UserID         string `json:"user_id"`
	OrgSlug        string `json:"org_slug"`
	CorrelationID  string `json:"correlation_id"`
	DeliveryMethod string `json:"delivery_method"`
}

// BatchPayload triggers the batch upload workflow
type BatchPayload struct {
	UserID         string `json:"user_id"`
	CSVData        string `json:"csv_data"`
	BatchName      string `json:"batch_name"`
	OrgSlug        string `json:"org_slug"`
	CorrelationID  string `json:"correlation_id"`
	DeliveryMethod string `json:"delivery_method"`
}

// NewSingleMessage encodes a single audit trigger
func NewSingleMessage(p SinglePayload) (Message, error) {
	if p.DeliveryMethod == "" {
		p.DeliveryMethod = models.DeliveryDashboard
	}
	return encode(KindSingle, p.CorrelationID, p)
}

// NewBatchMessage encodes a batch trigger. An empty batch name becomes
// "Batch <now in RFC3339>".
func NewBatchMessage(p BatchPayload, now time.Time) (Message, error) {
	if p.BatchName == "" {
		p.BatchName = "Batch " + now.UTC().Format(time.RFC3339)
	}
	if p.DeliveryMethod == "" {
		p.DeliveryMethod = models.DeliveryDashboard
	}
	return encode(KindBatch, p.CorrelationID, p)
}

func encode(kind Kind, correlationID string, payload interface{}) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return Message{Kind: kind, CorrelationID: correlationID, Body: body}, nil
}
