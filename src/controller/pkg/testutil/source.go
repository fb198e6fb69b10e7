// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"context"
	"sync"

	"github.com/sdn-microsegment/src/controller/pkg/policy"
)

// StaticSource is an in-memory policy.Source
type StaticSource struct {
	mu     sync.Mutex
	rules  []policy.Rule
	groups policy.GroupIndex
	err    error
}

// NewStaticSource creates a source serving rules and groups
func NewStaticSource(rules []policy.Rule, groups policy.GroupIndex) *StaticSource {
	return &StaticSource{rules: rules, groups: groups}
}

var _ policy.Source = (*StaticSource)(nil)

// Set replaces the served rules and groups
func (s *StaticSource) Set(rules []policy.Rule, groups policy.GroupIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules, s.groups = rules, groups
}

// SetErr makes every subsequent query fail with err
func (s *StaticSource) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ListRules returns the current rules
func (s *StaticSource) ListRules(context.Context) ([]policy.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]policy.Rule(nil), s.rules...), nil
}

// GroupSnapshot returns a copy of the current groups
func (s *StaticSource) GroupSnapshot(context.Context) (policy.GroupIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(policy.GroupIndex, len(s.groups))
	for k, v := range s.groups {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}
