package consumer

import (
	"time"

	"github.com/BarkinBalci/event-ingestion-service/internal/domain"
)

// MessageParser turns a raw queue message body into a processed event stamped at processedAt
type MessageParser interface {
	Parse(body []byte, processedAt time.Time) (*domain.Event, error)
}
