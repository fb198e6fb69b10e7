// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sdn-microsegment/src/controller/pkg/flow"
)

// Warning records a rule, or part of one, that could not be compiled. The
// affected rule contributes no entries; every other rule still compiles.
type Warning struct {
	RuleID int64  `json:"rule_id"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (w Warning) Error() string {
	return fmt.Sprintf("rule %d: %s=%q: %s", w.RuleID, w.Field, w.Value, w.Reason)
}

// Result is the output of one compilation
type Result struct {
	Entries  []flow.Entry `json:"entries"`
	Warnings []Warning    `json:"warnings"`
	Rules    int          `json:"rules"`
}

// Summary is a one-line description for logs
func (r Result) Summary() string {
	return fmt.Sprintf("%d rules -> %d entries (%d warnings)", r.Rules, len(r.Entries), len(r.Warnings))
}

// Compile translates rules into concrete flow entries, expanding every group
// reference against groups. Rules are processed in the given order and the
// output is a pure function of the inputs.
func Compile(rules []Rule, groups GroupIndex) Result {
	res := Result{Rules: len(rules)}
	for i := range rules {
		entries, warns := compileRule(&rules[i], groups)
		res.Entries = append(res.Entries, entries...)
		res.Warnings = append(res.Warnings, warns...)
	}
	return res
}

// Snapshot reads the current rules and groups from src and compiles them
func Snapshot(ctx context.Context, src Source) (Result, error) {
	rules, err := src.ListRules(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list rules: %w", err)
	}
	groups, err := src.GroupSnapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load groups: %w", err)
	}
	return Compile(rules, groups), nil
}

func compileRule(r *Rule, groups GroupIndex) ([]flow.Entry, []Warning) {
	warn := func(field, value string, err error) []Warning {
		return []Warning{{RuleID: r.ID, Field: field, Value: value, Reason: err.Error()}}
	}

	verdict, err := parseAction(r.Action)
	if err != nil {
		return nil, warn("action", r.Action, err)
	}
	priority, err := parsePriority(r.Priority)
	if err != nil {
		return nil, warn("priority", fmt.Sprint(r.Priority), err)
	}
	dlType, err := parseEtherType(r.DlType)
	if err != nil {
		return nil, warn("dl_type", r.DlType, err)
	}
	nwProto, err := parseProtocol(r.NwProto)
	if err != nil {
		return nil, warn("nw_proto", r.NwProto, err)
	}
	tpSrc, err := parsePort(r.TpSrc)
	if err != nil {
		return nil, warn("tp_src", r.TpSrc, err)
	}
	tpDst, err := parsePort(r.TpDst)
	if err != nil {
		return nil, warn("tp_dst", r.TpDst, err)
	}

	srcs, w := resolve(r, "nw_src", r.NwSrc, groups)
	if w != nil {
		return nil, []Warning{*w}
	}
	dsts, w := resolve(r, "nw_dst", r.NwDst, groups)
	if w != nil {
		return nil, []Warning{*w}
	}

	entries := make([]flow.Entry, 0, len(srcs)*len(dsts))
	for _, src := range srcs {
		for _, dst := range dsts {
			entries = append(entries, flow.Entry{
				RuleID: r.ID,
				Match: flow.Match{
					DlType:  dlType,
					NwProto: nwProto,
					TpSrc:   tpSrc,
					TpDst:   tpDst,
					NwSrc:   src,
					NwDst:   dst,
				},
				Verdict:  verdict,
				Priority: priority,
			})
		}
	}
	return entries, nil
}

// resolve returns the candidate addresses for one address field. A wildcard
// yields the single candidate "", a literal yields itself and a group
// reference yields its members, sorted and deduplicated.
func resolve(r *Rule, field, value string, groups GroupIndex) ([]string, *Warning) {
	if isAny(value) {
		return []string{""}, nil
	}

	if !IsGroupRef(value) {
		addr, err := parseAddress(value)
		if err != nil {
			return nil, &Warning{RuleID: r.ID, Field: field, Value: value, Reason: err.Error()}
		}
		return []string{addr}, nil
	}

	key := strings.TrimPrefix(strings.TrimSpace(value), GroupPrefix)
	members, ok := groups[key]
	if !ok {
		return nil, &Warning{RuleID: r.ID, Field: field, Value: value, Reason: "group not found"}
	}

	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		addr, err := parseAddress(m)
		// Members are validated on insert; a wildcard member would widen
		// the rule to every host, so it is dropped as well.
		if err != nil || addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}
