package vision

import (
	"context"
	"time"
)

// Provider defines the interface for image-to-text backends.
// Implementations handle request formatting, authentication, and response
// parsing for one service.
type Provider interface {
	// Describe sends an instruction plus one inline image and returns the
	// service's text reply.
	Describe(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single prompt with one attached image.
type Request struct {
	Prompt   string
	Image    []byte
	MimeType string
}

// Response is the text the service produced. Text is empty when the service
// answered without a candidate.
type Response struct {
	Text string
}

// Config holds common configuration for vision providers.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}
