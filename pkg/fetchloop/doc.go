// Package fetchloop drives a collection fetch session page by page.
//
// A session starts with Start, which resets the store, requests the first
// page and, when the whole collection was asked for, keeps requesting pages
// until the announced total is reached. Before each follow-up request the
// loop consults the store's auto-continue flag and pauses while it is off.
//
// Example usage:
//
//	store := collection.New(collection.DefaultConfig())
//	loop := fetchloop.New(catalogClient, store, fetchloop.DefaultConfig())
//	defer loop.Close()
//	summary, err := loop.Start(ctx, "username", 25, true)
//
// The loop:
//   - Never retries; any client error ends the session in StateFailed
//   - Supersedes the previous session on every Start (its result is discarded)
//   - Spaces follow-up requests with a rate limiter (UI pacing only)
//   - Stops on an empty page even if the total was not reached
//
// Store handlers run synchronously while the loop holds its session lock and
// must not call Start or Cancel.
package fetchloop
