package template

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const apiPrefix = "/api/v1/templates"

// HTTPClientGateway is a Gateway backed by the template REST API. The server
// derives the owner from the request credentials, so the ownerID arguments of
// List, Create and Stats only need to match the authenticated user.
type HTTPClientGateway struct {
	baseURL string
	client  *http.Client
	token   func(ctx context.Context) (string, error)
	headers http.Header
}

type ClientOption func(*HTTPClientGateway)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *HTTPClientGateway) { g.client = c }
}

// WithToken sends a fixed bearer token.
func WithToken(token string) ClientOption {
	return func(g *HTTPClientGateway) {
		g.token = func(context.Context) (string, error) { return token, nil }
	}
}

// WithTokenSource fetches the bearer token per request.
func WithTokenSource(fn func(ctx context.Context) (string, error)) ClientOption {
	return func(g *HTTPClientGateway) { g.token = fn }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ClientOption {
	return func(g *HTTPClientGateway) { g.headers.Set(key, value) }
}

func NewHTTPClientGateway(baseURL string, opts ...ClientOption) *HTTPClientGateway {
	g := &HTTPClientGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *HTTPClientGateway) List(ctx context.Context, _ uuid.UUID, f SearchFilters) (*ListResult, error) {
	f = f.Normalized()
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	q.Set("order_by", string(f.OrderBy))
	q.Set("order_direction", string(f.Direction))
	q.Set("limit", strconv.Itoa(f.Limit))
	q.Set("offset", strconv.Itoa(f.Offset))

	var res ListResult
	if err := g.do(ctx, http.MethodGet, apiPrefix+"?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	if res.Templates == nil {
		res.Templates = []Template{}
	}
	return &res, nil
}

func (g *HTTPClientGateway) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	var t Template
	if err := g.do(ctx, http.MethodGet, apiPrefix+"/"+id.String(), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (g *HTTPClientGateway) Create(ctx context.Context, _ uuid.UUID, req CreateRequest) (*Template, error) {
	var t Template
	if err := g.do(ctx, http.MethodPost, apiPrefix, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (g *HTTPClientGateway) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Template, error) {
	var t Template
	if err := g.do(ctx, http.MethodPatch, apiPrefix+"/"+id.String(), req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (g *HTTPClientGateway) Delete(ctx context.Context, id uuid.UUID) error {
	return g.do(ctx, http.MethodDelete, apiPrefix+"/"+id.String(), nil, nil)
}

func (g *HTTPClientGateway) RecordUsage(ctx context.Context, id uuid.UUID) (*UsageResult, error) {
	var res UsageResult
	if err := g.do(ctx, http.MethodPost, apiPrefix+"/"+id.String()+"/usage", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (g *HTTPClientGateway) Stats(ctx context.Context, _ uuid.UUID) (*Stats, error) {
	var st Stats
	if err := g.do(ctx, http.MethodGet, apiPrefix+"/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Check asks the server whether structure text looks like a medical report.
func (g *HTTPClientGateway) Check(ctx context.Context, structure string) (bool, error) {
	var res checkResponse
	if err := g.do(ctx, http.MethodPost, apiPrefix+"/check", checkRequest{Structure: structure}, &res); err != nil {
		return false, err
	}
	return res.LooksMedical, nil
}

// do sends one request and decodes a 2xx body into out. Every failure comes
// back as an *Error.
func (g *HTTPClientGateway) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return NewValidationError(FieldError{Field: "body", Message: err.Error()})
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return NewConnectionError(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range g.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if g.token != nil {
		token, err := g.token(ctx)
		if err != nil {
			return NewAuthRequiredError(err.Error())
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return NewConnectionError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewConnectionError(fmt.Errorf("decoding %s %s response: %w", method, path, err))
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	_ = json.Unmarshal(raw, &body)

	kind := kindFromStatus(resp.StatusCode)
	if known(body.Code) && HTTPStatus(body.Code) == resp.StatusCode {
		kind = body.Code
	}
	msg := body.Message
	if msg == "" {
		msg = fmt.Sprintf("server returned %s", resp.Status)
	}
	e := &Error{Kind: kind, Message: msg, Fields: body.Fields}
	if resp.StatusCode == http.StatusRequestEntityTooLarge && len(e.Fields) == 0 {
		e.Fields = []FieldError{{Field: "body", Message: msg}}
	}
	if kind == KindConnection {
		e.Cause = fmt.Errorf("status %d", resp.StatusCode)
	}
	return e
}

func known(k Kind) bool {
	switch k {
	case KindValidation, KindEmptyUpdate, KindDuplicateName, KindLimitExceeded, KindInvalidContent,
		KindNotFound, KindAuthRequired, KindAuthExpired, KindConnection:
		return true
	}
	return false
}
