// Package batchdata provides a client for the BatchData skiptrace API.
package batchdata

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client performs property skiptrace lookups against the BatchData API.
type Client interface {
	// Lookup resolves phone candidates for a person at a property address.
	Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error)
}

// LookupRequest identifies the subject of a skiptrace lookup.
type LookupRequest struct {
	FirstName     string
	LastName      string
	StreetAddress string
	City          string
	State         string
	PostalCode    string
}

// lookupBody is the wire shape of the skiptrace request.
type lookupBody struct {
	Requests []lookupItem `json:"requests"`
}

type lookupItem struct {
	Name            *subjectName    `json:"name,omitempty"`
	PropertyAddress propertyAddress `json:"propertyAddress"`
}

type subjectName struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

type propertyAddress struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// LookupResponse is the parsed BatchData skiptrace response.
type LookupResponse struct {
	Status  ResponseStatus `json:"status"`
	Results Results        `json:"results"`
}

// ResponseStatus reports the provider-side request outcome.
type ResponseStatus struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

// Results holds the ranked person matches and match metadata.
type Results struct {
	Persons []Person `json:"persons"`
	Meta    *Meta    `json:"meta,omitempty"`
}

// Person is a single identity match. A non-empty DNC map means the person
// is on a do-not-call list; callers must not use any phone number then.
type Person struct {
	ID           string            `json:"_id"`
	DNC          map[string]any    `json:"dnc"`
	Name         PersonName        `json:"name"`
	Emails       []Email           `json:"emails,omitempty"`
	PhoneNumbers []PhoneNumber     `json:"phoneNumbers,omitempty"`
	Property     map[string]any    `json:"propertyAddress,omitempty"`
	Litigator    bool              `json:"litigator,omitempty"`
}

// PersonName is the matched person's name.
type PersonName struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// Email is a matched email address.
type Email struct {
	Email string `json:"email"`
}

// PhoneNumber is one phone candidate with provider quality signals.
type PhoneNumber struct {
	Number    string  `json:"number"`
	Carrier   string  `json:"carrier"`
	Type      string  `json:"type"` // "Mobile" or "Land Line"
	Tested    bool    `json:"tested"`
	Reachable bool    `json:"reachable"`
	Score     float64 `json:"score"`
}

// Meta carries aggregate match counts.
type Meta struct {
	Results *MetaResults `json:"results,omitempty"`
}

// MetaResults holds the per-request match tallies.
type MetaResults struct {
	RequestCount int `json:"requestCount"`
	MatchCount   int `json:"matchCount"`
	NoMatchCount int `json:"noMatchCount"`
	ErrorCount   int `json:"errorCount"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit caps outgoing lookups at rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a BatchData skiptrace client.
func NewClient(endpoint, apiKey string, opts ...Option) Client {
	c := &httpClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "batchdata: rate limit wait")
		}
	}

	item := lookupItem{
		PropertyAddress: propertyAddress{
			Street: req.StreetAddress,
			City:   req.City,
			State:  req.State,
			Zip:    req.PostalCode,
		},
	}
	if req.FirstName != "" || req.LastName != "" {
		item.Name = &subjectName{First: req.FirstName, Last: req.LastName}
	}

	body, err := json.Marshal(lookupBody{Requests: []lookupItem{item}})
	if err != nil {
		return nil, eris.Wrap(err, "batchdata: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "batchdata: create request")
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	// Fail closed: a 2xx body that does not match the schema is a
	// provider error, never a half-parsed result.
	var result LookupResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: "malformed response body: " + err.Error()}
	}

	return &result, nil
}
