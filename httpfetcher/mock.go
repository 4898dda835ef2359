package httpfetcher

import "context"

// Mock is a scriptable Fetcher for unit tests: Handler is invoked for
// every Post call.
type Mock struct {
	Handler func(ctx context.Context, url, contentType string, body []byte) (*Response, error)
}

func (m *Mock) Post(ctx context.Context, url string, contentType string, body []byte) (*Response, error) {
	return m.Handler(ctx, url, contentType, body)
}
