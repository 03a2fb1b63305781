package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/roach88/progsync/internal/model"
)

var _ Service = (*Client)(nil)

// HTTPError is a non-2xx answer from the remote service.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.Status, e.Body)
}

// Client is the HTTP implementation of Service.
//
// The access token is held by the client; SignIn and SignOut change it and
// publish the matching auth event on the client's Hub.
type Client struct {
	http *resty.Client
	hub  *Hub

	mu    sync.RWMutex
	token string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAccessToken starts the client with an existing session token.
func WithAccessToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithRequestTimeout sets a per-request transport timeout. The failsafe
// deadlines in the sync core are independent of it.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// NewClient creates a client for the service at baseURL.
// apiKey is sent as the "apikey" header on every request.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)

	c := &Client{
		http: hc,
		hub:  NewHub(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close stops auth event delivery.
func (c *Client) Close() {
	c.hub.Close()
}

// Subscribe registers fn for auth events.
func (c *Client) Subscribe(fn func(AuthEvent)) Subscription {
	return c.hub.Subscribe(fn)
}

// SignIn installs token, resolves the identity and publishes SIGNED_IN.
func (c *Client) SignIn(ctx context.Context, token string) (*model.Identity, error) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	id, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, model.ErrAuthSessionMissing
	}
	c.hub.Publish(AuthEvent{Type: SignedIn, Identity: id})
	return id, nil
}

// SignOut forgets the token and publishes SIGNED_OUT.
func (c *Client) SignOut() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	c.hub.Publish(AuthEvent{Type: SignedOut})
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if token := c.accessToken(); token != "" {
		r.SetAuthToken(token)
	}
	return r
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GetSession resolves the identity behind the current token.
// Returns (nil, nil) when there is no token or the token is rejected.
func (c *Client) GetSession(ctx context.Context) (*model.Identity, error) {
	if c.accessToken() == "" {
		return nil, nil
	}

	var user userPayload
	resp, err := c.request(ctx).SetResult(&user).Get("/auth/v1/user")
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, nil
	case resp.IsError():
		return nil, &HTTPError{Op: "get session", Status: resp.StatusCode(), Body: resp.String()}
	}
	if user.ID == "" {
		return nil, nil
	}
	return &model.Identity{UserID: user.ID, Email: user.Email}, nil
}

// GetActiveEnrollment returns the newest enrollment of userID, or nil.
func (c *Client) GetActiveEnrollment(ctx context.Context, userID string) (*model.Enrollment, error) {
	var rows []model.Enrollment
	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"user_id": "eq." + userID,
			"order":   "created_at.desc",
			"limit":   "1",
		}).
		SetResult(&rows).
		Get("/rest/v1/enrollments")
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Op: "get enrollment", Status: resp.StatusCode(), Body: resp.String()}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e := rows[0].Normalize()
	return &e, nil
}

type createEnrollmentBody struct {
	Program    string `json:"program"`
	TrackLevel string `json:"track_level"`
	Locale     string `json:"locale"`
}

// CreateEnrollment inserts an enrollment for the signed-in user.
// The service assigns id, user_id and created_at.
func (c *Client) CreateEnrollment(ctx context.Context, program, level, locale string) (*model.Enrollment, error) {
	var rows []model.Enrollment
	resp, err := c.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(createEnrollmentBody{Program: program, TrackLevel: level, Locale: locale}).
		SetResult(&rows).
		Post("/rest/v1/enrollments")
	if err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Op: "create enrollment", Status: resp.StatusCode(), Body: resp.String()}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create enrollment: empty representation")
	}
	e := rows[0].Normalize()
	return &e, nil
}

// InsertActivityResponse appends one activity response row.
func (c *Client) InsertActivityResponse(ctx context.Context, ar model.ActivityResponse) error {
	ar.SubmittedAt = ar.SubmittedAt.UTC()
	resp, err := c.request(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(ar).
		Post("/rest/v1/activity_responses")
	if err != nil {
		return fmt.Errorf("insert activity response: %w", err)
	}
	if resp.IsError() {
		return &HTTPError{Op: "insert activity response", Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

type sectionRow struct {
	SectionIndex int `json:"section_index"`
}

// ListActivityResponses returns the section indices with a stored response
// for (userID, week), ascending and de-duplicated.
func (c *Client) ListActivityResponses(ctx context.Context, userID string, week int) ([]int, error) {
	var rows []sectionRow
	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"user_id":     "eq." + userID,
			"week_number": "eq." + strconv.Itoa(week),
			"select":      "section_index",
			"order":       "section_index.asc",
		}).
		SetResult(&rows).
		Get("/rest/v1/activity_responses")
	if err != nil {
		return nil, fmt.Errorf("list activity responses: %w", err)
	}
	if resp.IsError() {
		return nil, &HTTPError{Op: "list activity responses", Status: resp.StatusCode(), Body: resp.String()}
	}

	indices := make([]int, 0, len(rows))
	for i, r := range rows {
		if i > 0 && rows[i-1].SectionIndex == r.SectionIndex {
			continue
		}
		indices = append(indices, r.SectionIndex)
	}
	return indices, nil
}
