// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package api provides the operational HTTP API of the SDN controller.
//
// Rules, groups and services are managed directly in the policy store; this
// API exposes the controller's live state and a few operations on it.
//
// # Endpoints
//
// Health check:
//   - GET /api/v1/health - Simple health check
//   - GET /api/v1/status - Store revision, compiled policy and switch counts
//
// Policy and switches:
//   - GET  /api/v1/flows    - Compiled flow entries and compile warnings
//   - GET  /api/v1/switches - Connected switches and their last sync
//   - POST /api/v1/resync   - Recompile and reinstall on every switch
//
// Discovery:
//   - GET    /api/v1/hosts       - Learned host locations
//   - GET    /api/v1/events      - Discovery events, newest first (?limit=N)
//   - DELETE /api/v1/events/:id  - Delete an event, removing its host from
//     the managed group
//
// Statistics:
//   - GET /api/v1/stats - Snooper, synchronizer, pipeline and watcher counters
//
// # Example Usage
//
//	server, err := api.NewAPIServer(api.DefaultConfig(), api.Deps{
//	    Controller: synchronizer,
//	    Store:      store,
//	    Hosts:      snooper,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
// # Middleware
//
//   - Recovery: Catches panics and prevents server crashes
//   - Logger: Logs all HTTP requests with timing information
//   - CORS: Enables cross-origin resource sharing for web UIs
package api
