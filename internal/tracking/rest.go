package tracking

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RESTStore is a Store backed by a remote tracking server speaking the
// API served by NewHandler.
type RESTStore struct {
	base string
	rest *resty.Client
}

// NewRESTStore returns a client for the tracking server at base.
func NewRESTStore(base string, timeout time.Duration) *RESTStore {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	return &RESTStore{base: strings.TrimRight(base, "/"), rest: r}
}

type putRunRequest struct {
	Run      Run    `json:"run"`
	Artifact []byte `json:"artifact,omitempty"`
}

type runsResponse struct {
	Runs []Run `json:"runs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *RESTStore) PutRun(ctx context.Context, run Run, artifact []byte) error {
	errResp := &errorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(putRunRequest{Run: run, Artifact: artifact}).
		SetError(errResp).
		Post(c.base + "/api/v1/runs")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	case resp.IsError():
		return fmt.Errorf("tracking server: status %d: %s", resp.StatusCode(), errResp.Error)
	}
	return nil
}

func (c *RESTStore) Runs(ctx context.Context, q Query) ([]Run, error) {
	params := url.Values{}
	if q.Model != "" {
		params.Set("model", q.Model)
	}
	if q.Type != "" {
		params.Set("type", string(q.Type))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	for k, v := range q.Tags {
		params.Add("tag", k+":"+v)
	}

	out := &runsResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetResult(out).
		Get(c.base + "/api/v1/runs")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("tracking server: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	return out.Runs, nil
}

func (c *RESTStore) Artifact(ctx context.Context, runID string) ([]byte, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("id", runID).
		Get(c.base + "/api/v1/runs/{id}/artifact")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return resp.Body(), nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: artifact of run %s", ErrNotFound, runID)
	}
	return nil, fmt.Errorf("tracking server: status %d, body: %s", resp.StatusCode(), resp.String())
}
