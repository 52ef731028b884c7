package sit

// Logging convention in the `sit` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal
//     operation, with the exception of one time (infrequent) initialization data
//     that is useful for monitoring
//     this includes:
//     - session closes due to liveness timeout or backpressure
//     - maintenance-job query failures and eviction summaries
//     - abnormal exits
// Warning:
//     isolated per-session failures that do not affect other sessions
// V(1):
//     statistics summaries. Frequent events - e.g. publish, fan-out send,
//     backfill - are summarized as statistics printed every "n seconds"
//     rather than logged individually (see stats.go)
// V(2):
//     key per-event traces with short bracket tags that can be used to filter:
//     [fo] fan-out, [sc] snapshot cache, [cs] client session, [ws] endpoint,
//     [id] initial data, [mx] maintenance, [sm] session manager

// shortId trims an id for log tags. Full ids stay in the structured fields.
func shortId(id string) string {
	if 8 < len(id) {
		return id[:8]
	}
	return id
}
