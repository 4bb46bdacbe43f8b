// Package processors bundles the job-type-specific execution logic the
// daemon registers: backup, webhook delivery, bulk import/export, cleanup,
// and notification publishing.
//
// Processors classify their own failures: transient downstream trouble is
// wrapped retryable, permanent rejection (bad parameters, 4xx responses)
// non-retryable. The queue itself never inspects error content.
//
// Cancellation is cooperative. A processor that runs long should watch its
// context; the queue marks cancelled jobs in the store but never interrupts
// a running processor, it only suppresses the result afterwards.
package processors

import (
	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
)

// stringParam extracts a string parameter, empty when absent.
func stringParam(j *job.Job, key string) string {
	s, _ := j.Parameters[key].(string)
	return s
}

// mapParam extracts a map parameter, nil when absent.
func mapParam(j *job.Job, key string) map[string]any {
	m, _ := j.Parameters[key].(map[string]any)
	return m
}

// numberParam extracts a numeric parameter. JSON round-trips numbers as
// float64.
func numberParam(j *job.Job, key string) (float64, bool) {
	switch v := j.Parameters[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// requireString extracts a mandatory string parameter or fails the job
// permanently.
func requireString(j *job.Job, key string) (string, error) {
	s := stringParam(j, key)
	if s == "" {
		return "", qerrors.NonRetryablef("missing required parameter %q", key)
	}
	return s, nil
}
