package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fedikit/masto/internal/logging"
)

// Client provides thin wrappers over the documented REST endpoints. Every
// method is a uniform request/response mapping built on Execute and
// CheckResponse; no endpoint carries logic of its own.
type Client struct {
	executor    *Executor
	instanceURL string
}

// NewClient creates an API client for the given instance, executing all
// calls through executor.
func NewClient(executor *Executor, instanceURL string) *Client {
	return &Client{
		executor:    executor,
		instanceURL: strings.TrimRight(instanceURL, "/"),
	}
}

// InstanceURL returns the configured instance base URL.
func (c *Client) InstanceURL() string {
	return c.instanceURL
}

// get performs a GET against path and decodes the JSON response into T.
func get[T any](ctx context.Context, c *Client, path string, query url.Values, requireAuth bool) (T, error) {
	opts := DefaultExecuteOptions()
	opts.RequireAuth = requireAuth
	return Execute(ctx, c.executor, func(ctx context.Context, transport Transport) (T, error) {
		var zero T
		endpoint := c.instanceURL + path
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return zero, fmt.Errorf("create request failed: %w", err)
		}
		return roundTrip[T](transport, req)
	}, opts)
}

// postForm performs a form-encoded POST against path and decodes the JSON
// response into T. All POSTing endpoints require authentication.
func postForm[T any](ctx context.Context, c *Client, path string, form url.Values) (T, error) {
	return Execute(ctx, c.executor, func(ctx context.Context, transport Transport) (T, error) {
		var zero T
		var body *strings.Reader
		if len(form) > 0 {
			body = strings.NewReader(form.Encode())
		} else {
			body = strings.NewReader("")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.instanceURL+path, body)
		if err != nil {
			return zero, fmt.Errorf("create request failed: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return roundTrip[T](transport, req)
	}, nil)
}

// del performs a DELETE against path and decodes the JSON response into T.
func del[T any](ctx context.Context, c *Client, path string) (T, error) {
	return Execute(ctx, c.executor, func(ctx context.Context, transport Transport) (T, error) {
		var zero T
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.instanceURL+path, nil)
		if err != nil {
			return zero, fmt.Errorf("create request failed: %w", err)
		}
		return roundTrip[T](transport, req)
	}, nil)
}

// roundTrip sends the request, classifies failures, and decodes the body.
func roundTrip[T any](transport Transport, req *http.Request) (T, error) {
	var zero T
	if id := logging.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	resp, err := transport.Do(req)
	if err != nil {
		return zero, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err = CheckResponse(resp); err != nil {
		return zero, err
	}
	var result T
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return zero, fmt.Errorf("decode response failed: %w", err)
	}
	return result, nil
}

// timelineQuery assembles the shared pagination parameters.
func timelineQuery(limit int, maxID string) url.Values {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if maxID != "" {
		query.Set("max_id", maxID)
	}
	return query
}

// HomeTimeline returns statuses from the home timeline.
func (c *Client) HomeTimeline(ctx context.Context, limit int, maxID string) ([]Status, error) {
	return get[[]Status](ctx, c, "/api/v1/timelines/home", timelineQuery(limit, maxID), true)
}

// PublicTimeline returns statuses from the public timeline. It does not
// require authentication.
func (c *Client) PublicTimeline(ctx context.Context, limit int, maxID string) ([]Status, error) {
	return get[[]Status](ctx, c, "/api/v1/timelines/public", timelineQuery(limit, maxID), false)
}

// PostStatusParams carries the optional fields of a new status.
type PostStatusParams struct {
	InReplyToID string
	SpoilerText string
	Visibility  string
	Sensitive   bool
}

// PostStatus publishes a new status.
func (c *Client) PostStatus(ctx context.Context, text string, params *PostStatusParams) (*Status, error) {
	form := url.Values{"status": {text}}
	if params != nil {
		if params.InReplyToID != "" {
			form.Set("in_reply_to_id", params.InReplyToID)
		}
		if params.SpoilerText != "" {
			form.Set("spoiler_text", params.SpoilerText)
		}
		if params.Visibility != "" {
			form.Set("visibility", params.Visibility)
		}
		if params.Sensitive {
			form.Set("sensitive", "true")
		}
	}
	status, err := postForm[Status](ctx, c, "/api/v1/statuses", form)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// DeleteStatus removes one of the account's own statuses.
func (c *Client) DeleteStatus(ctx context.Context, id string) error {
	_, err := del[Status](ctx, c, "/api/v1/statuses/"+url.PathEscape(id))
	return err
}

// Favourite marks a status as favourited.
func (c *Client) Favourite(ctx context.Context, id string) (*Status, error) {
	return statusAction(ctx, c, id, "favourite")
}

// Unfavourite removes a favourite.
func (c *Client) Unfavourite(ctx context.Context, id string) (*Status, error) {
	return statusAction(ctx, c, id, "unfavourite")
}

// Reblog boosts a status.
func (c *Client) Reblog(ctx context.Context, id string) (*Status, error) {
	return statusAction(ctx, c, id, "reblog")
}

// Unreblog removes a boost.
func (c *Client) Unreblog(ctx context.Context, id string) (*Status, error) {
	return statusAction(ctx, c, id, "unreblog")
}

func statusAction(ctx context.Context, c *Client, id, action string) (*Status, error) {
	status, err := postForm[Status](ctx, c, "/api/v1/statuses/"+url.PathEscape(id)+"/"+action, nil)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Follow follows an account.
func (c *Client) Follow(ctx context.Context, accountID string) (*Relationship, error) {
	return accountAction(ctx, c, accountID, "follow")
}

// Unfollow unfollows an account.
func (c *Client) Unfollow(ctx context.Context, accountID string) (*Relationship, error) {
	return accountAction(ctx, c, accountID, "unfollow")
}

func accountAction(ctx context.Context, c *Client, accountID, action string) (*Relationship, error) {
	rel, err := postForm[Relationship](ctx, c, "/api/v1/accounts/"+url.PathEscape(accountID)+"/"+action, nil)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// Notifications lists notifications about account activity.
func (c *Client) Notifications(ctx context.Context, limit int, maxID string) ([]Notification, error) {
	return get[[]Notification](ctx, c, "/api/v1/notifications", timelineQuery(limit, maxID), true)
}

// VerifyCredentials returns the account the current credentials belong to.
func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	account, err := get[Account](ctx, c, "/api/v1/accounts/verify_credentials", nil, true)
	if err != nil {
		return nil, err
	}
	return &account, nil
}
