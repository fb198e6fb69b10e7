// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package models

import (
	"time"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
	"github.com/sdn-microsegment/src/controller/pkg/policy"
)

// FlowResponse represents one compiled flow entry
type FlowResponse struct {
	RuleID   int64      `json:"rule_id"`
	Priority uint16     `json:"priority"`
	Match    flow.Match `json:"match"`
	Action   string     `json:"action"`
	Flow     string     `json:"flow"`
}

// FlowListResponse represents the compiled flow set
type FlowListResponse struct {
	Flows    []FlowResponse   `json:"flows"`
	Warnings []policy.Warning `json:"warnings"`
	Rules    int              `json:"rules"`
	Count    int              `json:"count"`
}

// NewFlowListResponse converts a compile result
func NewFlowListResponse(res policy.Result) FlowListResponse {
	resp := FlowListResponse{
		Flows:    make([]FlowResponse, 0, len(res.Entries)),
		Warnings: res.Warnings,
		Rules:    res.Rules,
		Count:    len(res.Entries),
	}
	if resp.Warnings == nil {
		resp.Warnings = []policy.Warning{}
	}
	for _, e := range res.Entries {
		resp.Flows = append(resp.Flows, FlowResponse{
			RuleID:   e.RuleID,
			Priority: e.Priority,
			Match:    e.Match,
			Action:   string(e.Verdict),
			Flow:     e.String(),
		})
	}
	return resp
}

// SwitchResponse represents a connected switch
type SwitchResponse struct {
	SwitchID    string    `json:"switch_id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSync    time.Time `json:"last_sync"`
	Installed   int       `json:"installed"`
	Failed      int       `json:"failed"`
}

// SwitchListResponse represents the connected switches
type SwitchListResponse struct {
	Switches []SwitchResponse `json:"switches"`
	Count    int              `json:"count"`
}

// ResyncResponse reports a forced resynchronization
type ResyncResponse struct {
	Entries  int `json:"entries"`
	Warnings int `json:"warnings"`
	Switches int `json:"switches"`
}
