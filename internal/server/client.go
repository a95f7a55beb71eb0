package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cameronsjo/rigging/internal/compose"
	"github.com/cameronsjo/rigging/internal/manifest"
)

// Client talks to a rigging server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// do sends a request and decodes a JSON response into out when out is not
// nil. Any status outside 2xx becomes the typed error from the body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var eb ErrorBody
		if err := json.Unmarshal(data, &eb); err != nil || eb.Code == "" {
			return resp.StatusCode, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return resp.StatusCode, eb.Err()
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview composes without persisting.
func (c *Client) Preview(ctx context.Context, req compose.Request) (*compose.Result, error) {
	var out compose.Result
	if _, err := c.do(ctx, http.MethodPost, "/composition/preview", req, &out); err != nil {
		return nil, err
	}
	return normalizeResult(&out)
}

// Commit composes and persists. A failed composition is returned as a result
// with Success false and no error, matching Service.Commit.
func (c *Client) Commit(ctx context.Context, req compose.CommitRequest) (*compose.Result, *manifest.CompositeResource, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/composition/commit", bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out struct {
		compose.Result
		Composite *manifest.CompositeResource `json:"composite,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	res, err := normalizeResult(&out.Result)
	if err != nil {
		return nil, nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if out.Composite != nil {
			if err := out.Composite.Normalize(); err != nil {
				return nil, nil, err
			}
		}
		return res, out.Composite, nil
	case http.StatusUnprocessableEntity:
		return res, nil, nil
	}

	// A failed save is reported as the last error of the result.
	if n := len(res.Errors); n > 0 {
		return res, nil, ErrorBody{Message: res.Errors[n-1]}.Err()
	}
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Code != "" {
		return nil, nil, eb.Err()
	}
	return nil, nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// normalizeResult converts json.Number values in the composed document back
// into the document model.
func normalizeResult(res *compose.Result) (*compose.Result, error) {
	if res.ComposedDocument != nil {
		doc, err := manifest.Normalize(res.ComposedDocument)
		if err != nil {
			return nil, fmt.Errorf("decode composed document: %w", err)
		}
		res.ComposedDocument = doc.(map[string]any)
	}
	return res, nil
}

func profilePath(category manifest.Category, id string) string {
	p := "/profiles/" + url.PathEscape(string(category))
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

// ListProfiles lists profiles of a category.
func (c *Client) ListProfiles(ctx context.Context, category manifest.Category, namespace string) ([]*manifest.Profile, error) {
	path := profilePath(category, "")
	if namespace != "" {
		path += "?namespace=" + url.QueryEscape(namespace)
	}
	var out []*manifest.Profile
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return normalizeProfiles(out...)
}

// GetProfile fetches one profile.
func (c *Client) GetProfile(ctx context.Context, category manifest.Category, id string) (*manifest.Profile, error) {
	var out manifest.Profile
	if _, err := c.do(ctx, http.MethodGet, profilePath(category, id), nil, &out); err != nil {
		return nil, err
	}
	return normalizeProfile(&out)
}

// CreateProfile creates a profile under category.
func (c *Client) CreateProfile(ctx context.Context, category manifest.Category, p *manifest.Profile) (*manifest.Profile, error) {
	var out struct {
		ID      string            `json:"id"`
		Profile *manifest.Profile `json:"profile"`
	}
	if _, err := c.do(ctx, http.MethodPost, profilePath(category, ""), p, &out); err != nil {
		return nil, err
	}
	if out.Profile == nil {
		return nil, fmt.Errorf("server returned no profile")
	}
	return normalizeProfile(out.Profile)
}

// UpdateProfile replaces a profile.
func (c *Client) UpdateProfile(ctx context.Context, category manifest.Category, id string, p *manifest.Profile) (*manifest.Profile, error) {
	var out manifest.Profile
	if _, err := c.do(ctx, http.MethodPut, profilePath(category, id), p, &out); err != nil {
		return nil, err
	}
	return normalizeProfile(&out)
}

// PatchProfile partially updates a profile.
func (c *Client) PatchProfile(ctx context.Context, category manifest.Category, id string, patch compose.ProfilePatch) (*manifest.Profile, error) {
	var out manifest.Profile
	if _, err := c.do(ctx, http.MethodPatch, profilePath(category, id), patch, &out); err != nil {
		return nil, err
	}
	return normalizeProfile(&out)
}

// DeleteProfile deletes a profile. A referenced profile yields
// *manifest.DependentsExistError.
func (c *Client) DeleteProfile(ctx context.Context, category manifest.Category, id string) error {
	_, err := c.do(ctx, http.MethodDelete, profilePath(category, id), nil, nil)
	return err
}

// Dependents lists the consumers of a profile.
func (c *Client) Dependents(ctx context.Context, profileID string) ([]manifest.ConsumerRef, error) {
	var out []manifest.ConsumerRef
	if _, err := c.do(ctx, http.MethodGet, "/dependents/"+url.PathEscape(profileID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListComposites lists composites.
func (c *Client) ListComposites(ctx context.Context, namespace string) ([]*manifest.CompositeResource, error) {
	path := "/composites"
	if namespace != "" {
		path += "?namespace=" + url.QueryEscape(namespace)
	}
	var out []*manifest.CompositeResource
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	for _, cr := range out {
		if err := cr.Normalize(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetComposite fetches one composite.
func (c *Client) GetComposite(ctx context.Context, id string) (*manifest.CompositeResource, error) {
	var out manifest.CompositeResource
	if _, err := c.do(ctx, http.MethodGet, "/composites/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	if err := out.Normalize(); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveComposite stores a composite without composing it.
func (c *Client) SaveComposite(ctx context.Context, cr *manifest.CompositeResource) (*manifest.CompositeResource, error) {
	var out manifest.CompositeResource
	if _, err := c.do(ctx, http.MethodPost, "/composites", cr, &out); err != nil {
		return nil, err
	}
	if err := out.Normalize(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Render composes a stored composite.
func (c *Client) Render(ctx context.Context, id string) (*compose.Result, error) {
	var out compose.Result
	if _, err := c.do(ctx, http.MethodGet, "/composites/"+url.PathEscape(id)+"/render", nil, &out); err != nil {
		return nil, err
	}
	return normalizeResult(&out)
}

// DeleteComposite deletes a composite and its dependency edges.
func (c *Client) DeleteComposite(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/composites/"+url.PathEscape(id), nil, nil)
	return err
}

// Categories lists the categories in application order.
func (c *Client) Categories(ctx context.Context) ([]manifest.Category, error) {
	var out struct {
		Categories []manifest.Category `json:"categories"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/categories", nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

func normalizeProfile(p *manifest.Profile) (*manifest.Profile, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return p, nil
}

func normalizeProfiles(ps ...*manifest.Profile) ([]*manifest.Profile, error) {
	for _, p := range ps {
		if _, err := normalizeProfile(p); err != nil {
			return nil, err
		}
	}
	if ps == nil {
		ps = []*manifest.Profile{}
	}
	return ps, nil
}
