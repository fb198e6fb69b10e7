// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package models

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"` // "ok", "degraded"
	Message string `json:"message"`
}

// StatusResponse represents detailed controller status
type StatusResponse struct {
	Status   string      `json:"status"` // "ok", "degraded"
	Version  string      `json:"version"`
	Store    StoreStatus `json:"store"`
	Policy   PolicyState `json:"policy"`
	Switches int         `json:"switches"`
	Hosts    int         `json:"hosts"`
	Uptime   int64       `json:"uptime_seconds"`
}

// StoreStatus represents policy store reachability
type StoreStatus struct {
	Status   string `json:"status"` // "ok", "error"
	Revision int64  `json:"revision"`
	Message  string `json:"message,omitempty"`
}

// PolicyState summarizes the last compiled policy
type PolicyState struct {
	Rules    int `json:"rules"`
	Entries  int `json:"entries"`
	Warnings int `json:"warnings"`
}
