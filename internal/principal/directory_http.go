// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package principal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPDirectory resolves identities and room membership against an
// external directory service.
//
// Endpoints consumed, relative to the base URL:
//
//	GET /users/{id}           -> {"id": ..., "role": ..., "approved": ...}
//	GET /rooms                -> {"rooms": [...]}
//	GET /teachers/{id}/rooms  -> {"rooms": [...]}
//	GET /students/{id}/rooms  -> {"rooms": [...]}
//
// A 404 on the user endpoint maps to ErrUnknownIdentity. Directory
// reads happen once per connection, at resolution time, so no caching
// is layered here.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory creates a directory client for the given base URL.
func NewHTTPDirectory(baseURL string, timeout time.Duration) (*HTTPDirectory, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("directory base URL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse directory base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("directory base URL %q must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type userResponse struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Approved bool   `json:"approved"`
}

type roomsResponse struct {
	Rooms []string `json:"rooms"`
}

// Lookup implements Directory.
func (d *HTTPDirectory) Lookup(ctx context.Context, userID string) (Identity, error) {
	var resp userResponse
	err := d.get(ctx, "/users/"+url.PathEscape(userID), &resp)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: resp.ID, Role: Role(resp.Role), Approved: resp.Approved}, nil
}

// AllRooms implements Directory.
func (d *HTTPDirectory) AllRooms(ctx context.Context) ([]string, error) {
	var resp roomsResponse
	if err := d.get(ctx, "/rooms", &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// RoomsTaughtBy implements Directory.
func (d *HTTPDirectory) RoomsTaughtBy(ctx context.Context, userID string) ([]string, error) {
	var resp roomsResponse
	if err := d.get(ctx, "/teachers/"+url.PathEscape(userID)+"/rooms", &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// RoomsEnrolledBy implements Directory.
func (d *HTTPDirectory) RoomsEnrolledBy(ctx context.Context, userID string) ([]string, error) {
	var resp roomsResponse
	if err := d.get(ctx, "/students/"+url.PathEscape(userID)+"/rooms", &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (d *HTTPDirectory) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("directory request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrUnknownIdentity
	default:
		return fmt.Errorf("directory request %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory response %s: %w", path, err)
	}
	return nil
}
