// Package catalog queries the course catalog search endpoint and parses the
// returned html into course outcomes.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursetracker/internal/assert"
	"coursetracker/internal/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var (
	// ErrTransport means the request failed or the endpoint did not answer with a 2xx.
	ErrTransport = errors.New("catalog request failed")
	// ErrEmptyPayload means the endpoint answered but with nothing to parse.
	ErrEmptyPayload = errors.New("catalog returned an empty payload")
)

var tracer = otel.Tracer("coursetracker.catalog")

type Query struct {
	Subject string
	Number  string
	Term    string
}

func (q Query) String() string {
	return fmt.Sprintf("%s-%s (%s)", q.Subject, q.Number, q.Term)
}

type ClientOptions struct {
	SearchUrl string
	UserAgent string
	// Timeout bounds a single request.
	Timeout           time.Duration
	RequestsPerSecond float64
	// Output receives a dump of every request/response, it may be nil.
	Output telemetry.InstrumentOutput
}

type Client struct {
	http      *resty.Client
	searchUrl string
	tel       telemetry.API
}

func NewClient(opts ClientOptions, tel telemetry.API) Client {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.SearchUrl, "search url")

	tel = telemetry.NewScopedAPI("catalog", tel)

	httpClient := resty.New()
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	if opts.UserAgent != "" {
		httpClient.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	if opts.RequestsPerSecond > 0 {
		// burst of 1 keeps requests evenly spaced
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel, opts.Output)

	return Client{
		http:      httpClient,
		searchUrl: opts.SearchUrl,
		tel:       tel,
	}
}

type searchResponse struct {
	Html *string `json:"html"`
}

// Fetch queries the catalog for a single course and returns the html fragment
// of the result. Errors wrap either ErrTransport or ErrEmptyPayload, reporting
// them is left to the caller.
func (c Client) Fetch(ctx context.Context, q Query) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "catalog:Fetch")
	defer span.End()

	span.SetAttributes(
		attribute.String("subject", q.Subject),
		attribute.String("number", q.Number),
		attribute.String("term", q.Term),
	)

	c.tel.ReportDebug("fetch course", q.String())

	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"subject":           q.Subject,
			"course-number":     q.Number,
			"term":              q.Term,
			"course-inequality": "=",
			"to":                "1",
			"table-only":        "0",
		}).
		Post(c.searchUrl)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrTransport, q, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	if !res.IsSuccess() {
		err = fmt.Errorf("%w: %s: status %d", ErrTransport, q, res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-2xx response")
		return nil, err
	}

	fragment, err := decodeSearchResponse(res.Body())
	if err != nil {
		err = fmt.Errorf("%s: %w", q, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty payload")
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		err = fmt.Errorf("%w: %s: parse html: %w", ErrEmptyPayload, q, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparsable html")
		return nil, err
	}

	return doc, nil
}

func decodeSearchResponse(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrEmptyPayload)
	}

	// the endpoint answers with `false` or `null` for courses it does not know
	var payload searchResponse
	err := json.Unmarshal(body, &payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEmptyPayload, err)
	}
	if payload.Html == nil || strings.TrimSpace(*payload.Html) == "" {
		return "", fmt.Errorf("%w: no html in response", ErrEmptyPayload)
	}
	return *payload.Html, nil
}
