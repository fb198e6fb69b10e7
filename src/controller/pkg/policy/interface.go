// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import "context"

// Source is the read side of the policy store the compiler works from.
// ListRules returns rules ordered by priority, highest first.
type Source interface {
	ListRules(ctx context.Context) ([]Rule, error)
	GroupSnapshot(ctx context.Context) (GroupIndex, error)
}
