package task

import (
	"net/url"
	"strings"
)

// MaxRetries bounds the retry budget a request may carry.
const MaxRetries = 10

// Request is the immutable description of an HTTP call. The only mutable
// piece of bookkeeping is Remaining, which is owned by the task's state
// machine once the task is submitted; no other component writes it.
type Request struct {
	// URL is fully percent-encoded. Query parameters supplied at
	// construction time are merged in exactly once.
	URL     string
	Headers map[string]string
	Body    Body

	// Retries is the total retry budget, in [0, MaxRetries].
	Retries int
	// Remaining counts retries not yet consumed. It starts at Retries and
	// only decreases.
	Remaining int
}

// NewRequest validates and builds a Request. rawURL may carry an existing
// query string; params are merged in and the result is encoded once.
func NewRequest(rawURL string, params map[string]string, headers map[string]string, body any, retries int) (Request, error) {
	if retries < 0 || retries > MaxRetries {
		return Request{}, invalid("retries", "must be between 0 and 10")
	}
	b, err := NewBody(body)
	if err != nil {
		return Request{}, err
	}
	u, err := ComposeURL(rawURL, params)
	if err != nil {
		return Request{}, err
	}
	return Request{
		URL:       u,
		Headers:   cloneHeaders(headers),
		Body:      b,
		Retries:   retries,
		Remaining: retries,
	}, nil
}

// Equal compares two requests by URL only. Headers, body and retry budget
// are deliberately excluded from request identity.
func (r Request) Equal(o Request) bool {
	return r.URL == o.URL
}

// ComposeURL appends params to rawURL ("&" when a query string is already
// present, "?" otherwise) and percent-encodes the result exactly once via
// net/url. Input that is already encoded passes through unchanged.
func ComposeURL(rawURL string, params map[string]string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", invalid("url", "must not be empty")
	}
	s := rawURL
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		sep := "?"
		if strings.Contains(s, "?") {
			sep = "&"
		}
		s += sep + q.Encode()
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", invalid("url", err.Error())
	}
	return u.String(), nil
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
