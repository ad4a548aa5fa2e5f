// Package concourse is a minimal client for the Concourse CI control plane,
// covering the single operation this tool needs: triggering a job build.
package concourse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/gardener/cnudie-transport-tool/config"
)

// requestTimeout bounds the trigger call; Concourse answers fast or not at
// all.
const requestTimeout = 30 * time.Second

// Client talks to one Concourse installation as one team.
type Client struct {
	baseURL    string
	team       string
	token      string
	httpClient *http.Client
}

// NewClient creates a Concourse client.
func NewClient(baseURL, team, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		team:    team,
		token:   token,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// NewFromConfig creates a client from a validated configuration.
func NewFromConfig(cfg config.ConcourseConfig) *Client {
	return NewClient(cfg.URL, cfg.Team, cfg.Token)
}

// build is the response body of a created job build.
type build struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// TriggerJob schedules a new build of the named job in the named pipeline.
func (c *Client) TriggerJob(ctx context.Context, pipeline, job string) error {
	endpoint := fmt.Sprintf(
		"%s/api/v1/teams/%s/pipelines/%s/jobs/%s/builds",
		c.baseURL,
		url.PathEscape(c.team),
		url.PathEscape(pipeline),
		url.PathEscape(job),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach Concourse at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		// fall through to decode
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("authentication to Concourse failed (HTTP %d)", resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("pipeline %q or job %q not found (HTTP 404)", pipeline, job)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf(
			"failed to trigger job %s/%s: HTTP %d: %s",
			pipeline, job, resp.StatusCode, strings.TrimSpace(string(body)),
		)
	}

	var created build
	if decodeErr := json.NewDecoder(resp.Body).Decode(&created); decodeErr != nil {
		// The build was scheduled; a malformed body is only a logging loss.
		logger.Warnf("Triggered %s/%s but could not decode response: %v", pipeline, job, decodeErr)
		return nil
	}

	logger.Infof("Triggered build %s (#%d) of %s/%s", created.Name, created.ID, pipeline, job)
	return nil
}
