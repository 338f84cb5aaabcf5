package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
)

// Handle serves an API Gateway proxy event through the same router as the
// HTTP server. Errors are always rendered into the response; the returned
// error is reserved for failures the Lambda runtime should retry.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req, err := requestFromEvent(ctx, event)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       fmt.Sprintf(`{"detail":%q}`, err.Error()),
		}, nil
	}

	rec := &responseRecorder{header: http.Header{}}
	h.ServeHTTP(rec, req)
	return rec.response(), nil
}

func requestFromEvent(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("handler: decode base64 body: %w", err)
		}
		body = decoded
	}

	path := event.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{Path: path, RawQuery: eventQuery(event).Encode()}

	method := event.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("handler: build request: %w", err)
	}

	for k, vs := range event.MultiValueHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range event.Headers {
		if _, ok := req.Header[http.CanonicalHeaderKey(k)]; !ok {
			req.Header.Set(k, v)
		}
	}
	if req.Header.Get(correlationHeader) == "" {
		if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
			req.Header.Set(correlationHeader, lc.AwsRequestID)
		}
	}
	req.RemoteAddr = event.RequestContext.Identity.SourceIP
	return req, nil
}

func eventQuery(event events.APIGatewayProxyRequest) url.Values {
	q := url.Values{}
	for k, vs := range event.MultiValueQueryStringParameters {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	for k, v := range event.QueryStringParameters {
		if _, ok := q[k]; !ok {
			q.Set(k, v)
		}
	}
	return q
}

// responseRecorder buffers a response for conversion into a proxy response.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

func (r *responseRecorder) response() events.APIGatewayProxyResponse {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	single := make(map[string]string, len(r.header))
	for k, vs := range r.header {
		single[k] = strings.Join(vs, ",")
	}
	return events.APIGatewayProxyResponse{
		StatusCode:        status,
		Headers:           single,
		MultiValueHeaders: r.header,
		Body:              r.body.String(),
	}
}
