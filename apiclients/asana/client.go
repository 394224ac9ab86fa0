// Package asana wraps the outbound calls made to the Asana REST API:
// project creation and update, section creation and listing, and task
// creation. All calls are authenticated with a personal access token.
//
// When no access token is configured the client runs in dry-run mode:
// every operation logs a warning and returns its zero value without a
// network call. This is the documented local-development behaviour,
// not an error.
package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"

	"oppsync/config"
)

// baseURL sets out the currently supported Asana API used for this
// client.
const baseURL = "https://app.asana.com/api/1.0"

// requestTimeout bounds each outbound call so a hung Asana API cannot
// hang a webhook delivery indefinitely.
const requestTimeout = 30 * time.Second

// sectionPageLimit is the page size used when listing sections.
const sectionPageLimit = 100

// Client is a wrapper for making authenticated calls to the Asana API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	workspaceID string
	teamID      string
	dryRun      bool
	log         *slog.Logger
}

// NewClient returns an Asana client configured from cfg. With no
// access token the client is put in dry-run mode.
func NewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) *Client {

	c := &Client{
		baseURL:     baseURL,
		workspaceID: cfg.Asana.WorkspaceID,
		teamID:      cfg.Asana.TeamID,
		log:         logger,
	}

	if cfg.DryRun() {
		c.dryRun = true
		return c
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Asana.AccessToken})
	c.httpClient = oauth2.NewClient(ctx, ts)
	c.httpClient.Timeout = requestTimeout
	return c
}

// skipDryRun reports and logs a skipped call in dry-run mode.
func (c *Client) skipDryRun(operation string) bool {
	if !c.dryRun {
		return false
	}
	c.log.Warn(fmt.Sprintf("No Asana token configured: skipping %s", operation))
	return true
}

// CreateProject creates a project in the configured workspace (and
// team, if set) and returns its id. In dry-run mode no call is made
// and an empty id is returned.
func (c *Client) CreateProject(ctx context.Context, name, notes, color string, public bool) (string, error) {

	if c.skipDryRun("project create") {
		return "", nil
	}

	data := ProjectData{
		Name:      name,
		Notes:     notes,
		Public:    public,
		Workspace: c.workspaceID,
		Team:      c.teamID,
	}
	// Asana rejects unknown color names; "none" is expressed by
	// omitting the field.
	if color != "" && color != "none" {
		data.Color = color
	}

	body, err := json.Marshal(projectRequest{Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal project request: %w", err)
	}

	requestURL := fmt.Sprintf("%s/projects", c.baseURL)
	req, err := c.newRequest(ctx, "POST", requestURL, body)
	if err != nil {
		c.log.Error(fmt.Sprintf("CreateProject: new request error: %v", err))
		return "", fmt.Errorf("new project request error: %w", err)
	}

	var response projectResponse
	if _, err := c.do(req, &response); err != nil {
		c.log.Error(fmt.Sprintf("CreateProject: response error: %v", err))
		return "", fmt.Errorf("project create error: %w", err)
	}

	c.log.Info(fmt.Sprintf("CreateProject: created project %s %q", response.Data.GID, response.Data.Name))
	return response.Data.GID, nil
}

// UpdateProject updates the name and notes of an existing project.
func (c *Client) UpdateProject(ctx context.Context, projectID, name, notes string) error {

	if c.skipDryRun("project update") {
		return nil
	}

	body, err := json.Marshal(projectRequest{Data: ProjectData{Name: name, Notes: notes}})
	if err != nil {
		return fmt.Errorf("failed to marshal project update request: %w", err)
	}

	requestURL := fmt.Sprintf("%s/projects/%s", c.baseURL, projectID)
	req, err := c.newRequest(ctx, "PUT", requestURL, body)
	if err != nil {
		c.log.Error(fmt.Sprintf("UpdateProject: new request error: %v", err))
		return fmt.Errorf("new project update request error: %w", err)
	}

	if _, err := c.do(req, nil); err != nil {
		c.log.Error(fmt.Sprintf("UpdateProject: response error: %v", err))
		return fmt.Errorf("project update error: %w", err)
	}

	c.log.Info(fmt.Sprintf("UpdateProject: updated project %s", projectID))
	return nil
}

// CreateSection creates a named section within a project and returns
// its id.
func (c *Client) CreateSection(ctx context.Context, projectID, name string) (string, error) {

	if c.skipDryRun("section create") {
		return "", nil
	}

	body, err := json.Marshal(sectionRequest{Data: SectionData{Name: name}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal section request: %w", err)
	}

	requestURL := fmt.Sprintf("%s/projects/%s/sections", c.baseURL, projectID)
	req, err := c.newRequest(ctx, "POST", requestURL, body)
	if err != nil {
		c.log.Error(fmt.Sprintf("CreateSection: new request error: %v", err))
		return "", fmt.Errorf("new section request error: %w", err)
	}

	var response sectionResponse
	if _, err := c.do(req, &response); err != nil {
		c.log.Error(fmt.Sprintf("CreateSection: response error for %q: %v", name, err))
		return "", fmt.Errorf("section create error for %q: %w", name, err)
	}
	return response.Data.GID, nil
}

// ListSections fetches the sections of a project in order, following
// Asana's offset pagination.
func (c *Client) ListSections(ctx context.Context, projectID string) ([]Section, error) {

	if c.skipDryRun("section list") {
		return nil, nil
	}

	opts := listOptions{Limit: sectionPageLimit, OptFields: "name"}
	var sections []Section
	var pageNo int
	for {
		pageNo++
		params, err := query.Values(opts)
		if err != nil {
			return nil, fmt.Errorf("list options encoding error: %w", err)
		}
		requestURL := fmt.Sprintf("%s/projects/%s/sections?%s", c.baseURL, projectID, params.Encode())
		c.log.Debug(fmt.Sprintf("ListSections: page %d: url %s", pageNo, requestURL))

		req, err := c.newRequest(ctx, "GET", requestURL, nil)
		if err != nil {
			c.log.Error(fmt.Sprintf("ListSections: new request error page %d: %v", pageNo, err))
			return nil, fmt.Errorf("new section list request error page %d: %w", pageNo, err)
		}

		var response sectionsResponse
		if _, err := c.do(req, &response); err != nil {
			c.log.Error(fmt.Sprintf("ListSections: response error page %d: %v", pageNo, err))
			return nil, fmt.Errorf("section list error page %d: %w", pageNo, err)
		}
		sections = append(sections, response.Data...)
		if response.NextPage == nil || response.NextPage.Offset == "" {
			break
		}
		opts.Offset = response.NextPage.Offset
	}
	return sections, nil
}

// CreateTask creates a task in a project, placed within sectionID if
// one is provided and unfiled otherwise. DueOn, when not empty, is a
// date in 2006-01-02 form.
func (c *Client) CreateTask(ctx context.Context, projectID, sectionID, name, notes, dueOn string) error {

	if c.skipDryRun("task create") {
		return nil
	}

	data := TaskData{
		Name:  name,
		Notes: notes,
		DueOn: dueOn,
	}
	if sectionID != "" {
		data.Memberships = []Membership{{Project: projectID, Section: sectionID}}
	} else {
		data.Projects = []string{projectID}
	}

	body, err := json.Marshal(taskRequest{Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal task request: %w", err)
	}

	requestURL := fmt.Sprintf("%s/tasks", c.baseURL)
	req, err := c.newRequest(ctx, "POST", requestURL, body)
	if err != nil {
		c.log.Error(fmt.Sprintf("CreateTask: new request error: %v", err))
		return fmt.Errorf("new task request error: %w", err)
	}

	if _, err := c.do(req, nil); err != nil {
		c.log.Error(fmt.Sprintf("CreateTask: response error for %q: %v", name, err))
		return fmt.Errorf("task create error for %q: %w", name, err)
	}
	return nil
}

// newRequest is a helper to create a new HTTP request with common headers.
func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do is a helper to execute an HTTP request and decode the JSON response.
func (c *Client) do(req *http.Request, v any) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}

// DryRun reports whether the client is in dry-run mode.
func (c *Client) DryRun() bool {
	return c.dryRun
}
