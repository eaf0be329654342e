package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hari-sh-S/options-algo/internal/models"
)

// client talks to a running 'algo serve'.
type client struct {
	base  string
	owner string
	http  *http.Client
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

func newClient(addr, owner string) *client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &client{
		base:  base,
		owner: owner,
		http:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (a *App) client(cmd *cobra.Command, owner string) *client {
	addr := a.Config.API.Addr
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		addr = v
	}
	return newClient(addr, a.owner(owner))
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.owner != "" {
		req.Header.Set("X-Owner", c.owner)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server at %s unreachable (is 'algo serve' running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Replies. These mirror the server's JSON.

type jobReply struct {
	JobID     string `json:"job_id"`
	Owner     string `json:"owner"`
	ExecuteAt string `json:"execute_at"`
	Strategy  string `json:"strategy"`
	Index     string `json:"index"`
	Expiry    string `json:"expiry"`
	Lots      int    `json:"lots"`
}

type autoReply struct {
	Active   bool                      `json:"active"`
	Schedule *models.SquareOffSchedule `json:"schedule,omitempty"`
}

type messageReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (c *client) scheduleJob(ctx context.Context, req models.StrategyRequest, executeAt string) (*jobReply, error) {
	body := struct {
		models.StrategyRequest
		ExecuteAt string `json:"execute_at"`
	}{req, executeAt}

	var out jobReply
	if err := c.do(ctx, http.MethodPost, "/api/scheduler/schedule", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) listJobs(ctx context.Context) ([]jobReply, error) {
	var out struct {
		Jobs []jobReply `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/scheduler/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *client) cancelJob(ctx context.Context, jobID string) (string, error) {
	var out messageReply
	if err := c.do(ctx, http.MethodDelete, "/api/scheduler/jobs/"+jobID, nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *client) jobHistory(ctx context.Context, limit int) ([]models.JobRun, error) {
	var out struct {
		Runs []models.JobRun `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/scheduler/history?limit=%d", limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *client) setAutoSquareOff(ctx context.Context, executeAt string) (*autoReply, error) {
	var out autoReply
	body := map[string]string{"execute_at": executeAt}
	if err := c.do(ctx, http.MethodPost, "/api/squareoff/auto", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) getAutoSquareOff(ctx context.Context) (*autoReply, error) {
	var out autoReply
	if err := c.do(ctx, http.MethodGet, "/api/squareoff/auto", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) cancelAutoSquareOff(ctx context.Context) (string, error) {
	var out messageReply
	if err := c.do(ctx, http.MethodDelete, "/api/squareoff/auto", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}
