package main

import "testing"

// The backend publishes generation jobs with routing keys equal to these
// queue names; a rename here silently orphans every job it enqueues.
func TestQueueNamesMatchBackendRoutingKeys(t *testing.T) {
	if summaryQueue != "summary-generator" {
		t.Errorf("summary queue = %q, want summary-generator", summaryQueue)
	}
	if podcastQueue != "podcast-generator" {
		t.Errorf("podcast queue = %q, want podcast-generator", podcastQueue)
	}
}
