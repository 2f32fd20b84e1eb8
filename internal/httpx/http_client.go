package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 90 * time.Second

// externalHTTPClient is shared by the Jira, Slack and Anthropic clients so
// one setting bounds every outbound call.
var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}

func Client() *http.Client {
	return externalHTTPClient
}

// WithTransport returns a client that keeps the configured timeout but
// sends requests through rt, e.g. an auth transport.
func WithTransport(rt http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: rt,
		Timeout:   externalHTTPClient.Timeout,
	}
}
