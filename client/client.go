// Package client is the Go SDK for the Elytra HTTP surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	elytra "github.com/go-elytra/elytra"
)

// APIError is a non-2xx response from the control plane
type APIError struct {
	Status  int
	Message string
}

// Error returns a textual representation of this APIError
func (e APIError) Error() string {
	return fmt.Sprintf("elytra API responded %d: %s", e.Status, e.Message)
}

// Client calls the Elytra control plane
type Client struct {
	BaseURL    string // e.g. http://localhost:8080
	APIKey     string
	HTTPClient *http.Client
}

// New creates a Client for the control plane at baseURL
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// RegisterDatasetRequest mirrors the register-dataset endpoint body
type RegisterDatasetRequest struct {
	Name       string            `json:"name"`
	StorageKey string            `json:"storageKey"`
	Bucket     string            `json:"bucket"`
	PublicURL  string            `json:"publicUrl,omitempty"`
	Format     string            `json:"format,omitempty"`
	RowGroups  []elytra.RowGroup `json:"rowGroups"`
}

// RegisterDatasetResponse is the successful registration reply
type RegisterDatasetResponse struct {
	DatasetID     string `json:"datasetId"`
	RowGroupCount int    `json:"rowGroupCount"`
}

// RegisterDataset records a dataset in the control plane's catalog
func (c *Client) RegisterDataset(ctx context.Context, req RegisterDatasetRequest) (*RegisterDatasetResponse, error) {
	var resp RegisterDatasetResponse
	if err := c.do(ctx, http.MethodPost, "/api/register-dataset", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Datasets lists every registered dataset
func (c *Client) Datasets(ctx context.Context) ([]elytra.DatasetSummary, error) {
	var resp []elytra.DatasetSummary
	if err := c.do(ctx, http.MethodGet, "/api/datasets", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteDataset removes a dataset from the catalog
func (c *Client) DeleteDataset(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/datasets/"+id, nil, nil)
}

type submitJobRequest struct {
	APIKey    string             `json:"apiKey"`
	DatasetID string             `json:"datasetId"`
	Ops       []elytra.Operation `json:"ops"`
}

type submitJobResponse struct {
	Result interface{} `json:"result"`
}

// Run submits a pipeline against a dataset and blocks for the merged
// result
func (c *Client) Run(ctx context.Context, datasetID string, ops []elytra.Operation) (interface{}, error) {
	var resp submitJobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", submitJobRequest{
		APIKey:    c.APIKey,
		DatasetID: datasetID,
		Ops:       ops,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
