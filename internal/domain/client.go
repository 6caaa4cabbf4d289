package domain

import "time"

// Client is an API consumer allowed to submit events
type Client struct {
	ID        string
	Name      string
	APIKey    string
	IsActive  bool
	RateLimit int
	CreatedAt time.Time
}
