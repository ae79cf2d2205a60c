package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Refresh reasons carried on ReportRefreshMessage.
const (
	ReasonManual    = "manual"
	ReasonScheduled = "scheduled"
	ReasonImport    = "import"
)

var ErrInvalidMessage = errors.New("invalid refresh message")

// ReportRefreshMessage asks the worker to rebuild and persist the report.
// RunID identifies the request, not the report the worker produces.
type ReportRefreshMessage struct {
	RunID     string    `json:"run_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReportRefreshMessage(reason string) *ReportRefreshMessage {
	return &ReportRefreshMessage{
		RunID:     uuid.NewString(),
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

func (m *ReportRefreshMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReportRefreshMessageFromJSON decodes and validates a message body.
func ReportRefreshMessageFromJSON(data []byte) (*ReportRefreshMessage, error) {
	var msg ReportRefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Reason == "" {
		return nil, ErrInvalidMessage
	}
	return &msg, nil
}
