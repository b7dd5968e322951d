package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rythmo/internal/events"
	"rythmo/internal/services"
	"rythmo/internal/store"
	"rythmo/internal/workflow"
)

// Error is a non-2xx answer from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the status back to the error marker the daemon classified it with.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusUnprocessableEntity:
		return services.ErrPrecondition
	case http.StatusBadRequest:
		return services.ErrValidation
	default:
		return nil
	}
}

// Client talks to a running daemon over HTTP.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon at baseURL ("127.0.0.1:7490" or a
// full http URL).
func NewClient(baseURL, token string) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("daemon address is empty")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	return &Client{
		base:  parsed,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: longPollTimeout + 10*time.Second},
	}, nil
}

// Health fetches pipeline, tool and directory readiness.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &resp)
	return resp, err
}

// Capabilities lists which features the daemon can run.
func (c *Client) Capabilities(ctx context.Context) (workflow.Capabilities, error) {
	var resp workflow.Capabilities
	err := c.do(ctx, http.MethodGet, "/api/capabilities", nil, nil, &resp)
	return resp, err
}

// CreateProject registers a project.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "/api/projects", nil, req, &resp)
	return resp, err
}

// Project fetches a project with its record counts.
func (c *Client) Project(ctx context.Context, id int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id), nil, nil, &resp)
	return resp, err
}

// Jobs returns the four job slots of a project.
func (c *Client) Jobs(ctx context.Context, id int64) ([]workflow.JobStatus, error) {
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, projectPath(id)+"/jobs", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Status returns one job slot.
func (c *Client) Status(ctx context.Context, id int64, feature store.Feature) (workflow.JobStatus, error) {
	var resp workflow.JobStatus
	err := c.do(ctx, http.MethodGet, jobPath(id, feature), nil, nil, &resp)
	return resp, err
}

// Start queues a job. params may be nil.
func (c *Client) Start(ctx context.Context, id int64, feature store.Feature, params any) (StartResponse, error) {
	var resp StartResponse
	err := c.do(ctx, http.MethodPost, jobPath(id, feature), nil, params, &resp)
	return resp, err
}

// Cancel requests cancellation of the feature's active job.
func (c *Client) Cancel(ctx context.Context, id int64, feature store.Feature) error {
	return c.do(ctx, http.MethodPost, jobPath(id, feature)+"/cancel", nil, nil, nil)
}

// Events fetches one batch of events after since. A zero project means all
// projects.
func (c *Client) Events(ctx context.Context, since uint64, wait bool, project int64) (EventsResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if wait {
		query.Set("wait", "1")
	}
	if project > 0 {
		query.Set("project", strconv.FormatInt(project, 10))
	}
	var resp EventsResponse
	err := c.do(ctx, http.MethodGet, "/api/events", query, nil, &resp)
	return resp, err
}

// Watch streams events over a websocket until ctx ends, the daemon closes the
// stream or fn returns an error. A zero project means all projects.
func (c *Client) Watch(ctx context.Context, since *uint64, project int64, fn func(events.Event) error) error {
	target := *c.base
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.Path += "/api/events/ws"
	query := url.Values{}
	if since != nil {
		query.Set("since", strconv.FormatUint(*since, 10))
	}
	if project > 0 {
		query.Set("project", strconv.FormatInt(project, 10))
	}
	target.RawQuery = query.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := *c.base
	target.Path += path
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload ErrorResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return &Error{Status: resp.StatusCode, Message: payload.Error}
	}
	return &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

func projectPath(id int64) string {
	return "/api/projects/" + strconv.FormatInt(id, 10)
}

func jobPath(id int64, feature store.Feature) string {
	return projectPath(id) + "/jobs/" + feature.Slug()
}
