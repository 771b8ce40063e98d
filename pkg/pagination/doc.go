// Package pagination retrieves one time window of activity events by paging
// through the activity endpoint.
//
// Each Fetch runs a small state machine:
//
//	PAGING -> RETRY_WAIT -> PAGING    transient network failure, 2^attempt s backoff
//	PAGING -> REAUTH -> PAGING        HTTP 403, fresh token, same offset
//	PAGING -> COMPLETE                empty or short page
//	PAGING -> SUBDIVIDE               HTTP 400/404, or offset ceiling reached
//	PAGING -> ABORTED                 retries or 403 budget exhausted, other status, bad body
//
// The transition policy lives in next and has no I/O; Fetcher drives it,
// performing the request, wait or reauthentication each state asks for.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(apiClient, limiter, tokenProvider, pagination.DefaultConfig(), logger)
//	outcome, cred, err := fetcher.Fetch(ctx, cred, pagination.Request{Window: window.Hour(start)}, 10000)
//
// Degraded outcomes (SUBDIVIDE, ABORTED) are not errors: the outcome carries
// the events collected so far and the Reason. Fetch returns an error only
// when ctx is done.
package pagination
