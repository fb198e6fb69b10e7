// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package pipeline reacts to discovery event transitions published by the
// policy store.
//
// A created event fans out into two independent tasks on the worker pool:
// a notification posted to every registered service, and an "add IP to
// group" task when the event's OS type maps to a managed group
// (lower(os_type) + "_group", windows_group and linux_group by default).
// A deleted event queues the matching "remove IP from group" task.
//
// Tasks are fire-and-forget and may be delivered more than once. Add and
// remove for the same address can race; whichever runs last wins.
package pipeline
