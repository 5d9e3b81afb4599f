// Package brokerclient is the orchestrator's client for the task broker's
// HTTP API: create tasks, poll status, and report terminal results back.
package brokerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/taskbroker/internal/httpclient"
	"github.com/ternarybob/taskbroker/internal/models"
)

// Client wraps the broker's external HTTP surface described in §6.
type Client struct {
	baseURL string
	http    *httpclient.DeliveryClient
}

// New builds a Client against baseURL (e.g. "http://localhost:8080").
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: httpclient.NewDeliveryClient(timeout)}
}

// CreateTask creates a child task and returns the broker's create response.
// idempotencyKey is not sent: the request carries no Idempotency-Key header.
func (c *Client) CreateTask(ctx context.Context, req models.CreateTaskRequest, idempotencyKey string) (*models.CreateTaskResponse, error) {
	status, body, err := c.http.PostJSON(ctx, c.baseURL+"/task", req)
	if err != nil {
		return nil, fmt.Errorf("create task request failed: %w", err)
	}
	if status != 202 {
		return nil, fmt.Errorf("create task: unexpected status %d: %s", status, body)
	}
	var resp models.CreateTaskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("create task: failed to decode response: %w", err)
	}
	return &resp, nil
}

// GetStatus fetches a task's status projection.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*models.StatusView, error) {
	status, body, err := c.http.GetJSON(ctx, fmt.Sprintf("%s/task/%s/status", c.baseURL, taskID))
	if err != nil {
		return nil, fmt.Errorf("get status request failed: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("get status: unexpected status %d: %s", status, body)
	}
	var view models.StatusView
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, fmt.Errorf("get status: failed to decode response: %w", err)
	}
	return &view, nil
}

// GetTask fetches the full task record.
func (c *Client) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	status, body, err := c.http.GetJSON(ctx, fmt.Sprintf("%s/task/%s", c.baseURL, taskID))
	if err != nil {
		return nil, fmt.Errorf("get task request failed: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("get task: unexpected status %d: %s", status, body)
	}
	var task models.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("get task: failed to decode response: %w", err)
	}
	return &task, nil
}

// UpdateTask applies a partial update to a task (e.g. marking it
// processing, completed, failed, or cancelled).
func (c *Client) UpdateTask(ctx context.Context, taskID string, req models.UpdateTaskRequest) (*models.Task, error) {
	status, body, err := c.http.PutJSON(ctx, fmt.Sprintf("%s/task/%s", c.baseURL, taskID), req)
	if err != nil {
		return nil, fmt.Errorf("update task request failed: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("update task: unexpected status %d: %s", status, body)
	}
	var task models.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("update task: failed to decode response: %w", err)
	}
	return &task, nil
}

// UpsertConsumer registers the caller as a consumer for topic.
func (c *Client) UpsertConsumer(ctx context.Context, req models.UpsertConsumerRequest) error {
	status, body, err := c.http.PutJSON(ctx, c.baseURL+"/consumer", req)
	if err != nil {
		return fmt.Errorf("upsert consumer request failed: %w", err)
	}
	if status != 200 {
		return fmt.Errorf("upsert consumer: unexpected status %d: %s", status, body)
	}
	return nil
}
