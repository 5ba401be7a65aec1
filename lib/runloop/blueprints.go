package runloop

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Blueprint status values reported by the API
const (
	StatusProvisioning  = "provisioning"
	StatusBuilding      = "building"
	StatusBuildComplete = "build_complete"
	StatusFailed        = "failed"
)

// IsTerminalStatus returns true if a blueprint in this status will not change again
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusBuildComplete, StatusFailed:
		return true
	default:
		return false
	}
}

// Blueprint is a named image definition known to the API
type Blueprint struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreateTimeMs  int64  `json:"create_time_ms,omitempty"`
}

// CreateBlueprintRequest is the body of a blueprint create call
type CreateBlueprintRequest struct {
	Name       string            `json:"name"`
	Dockerfile string            `json:"dockerfile"`
	FileMounts map[string]string `json:"file_mounts,omitempty"`
}

// ListBlueprintsParams pages through existing blueprints
type ListBlueprintsParams struct {
	Limit         int
	StartingAfter string
	Name          string
}

// BlueprintList is one page of blueprints
type BlueprintList struct {
	Blueprints []Blueprint `json:"blueprints"`
	HasMore    bool        `json:"has_more"`
}

// CreateBlueprint submits a new blueprint build
func (c *Client) CreateBlueprint(ctx context.Context, req CreateBlueprintRequest) (*Blueprint, error) {
	var bp Blueprint
	if err := c.do(ctx, http.MethodPost, "/v1/blueprints", nil, req, &bp); err != nil {
		return nil, err
	}
	return &bp, nil
}

// GetBlueprint retrieves a blueprint by ID
func (c *Client) GetBlueprint(ctx context.Context, id string) (*Blueprint, error) {
	if id == "" {
		return nil, fmt.Errorf("blueprint id is required")
	}
	var bp Blueprint
	if err := c.do(ctx, http.MethodGet, "/v1/blueprints/"+url.PathEscape(id), nil, nil, &bp); err != nil {
		return nil, err
	}
	return &bp, nil
}

// ListBlueprints returns one page of blueprints
func (c *Client) ListBlueprints(ctx context.Context, params ListBlueprintsParams) (*BlueprintList, error) {
	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.StartingAfter != "" {
		query.Set("starting_after", params.StartingAfter)
	}
	if params.Name != "" {
		query.Set("name", params.Name)
	}

	var list BlueprintList
	if err := c.do(ctx, http.MethodGet, "/v1/blueprints", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}
