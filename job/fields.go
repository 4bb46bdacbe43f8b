package job

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status hash field names. These are the persisted shape of a job: a flat
// map of string fields, with parameters serialized as a JSON map.
const (
	FieldStatus      = "status"
	FieldType        = "job_type"
	FieldPriority    = "priority"
	FieldParameters  = "parameters"
	FieldCreatedAt   = "created_at"
	FieldTimeout     = "timeout"
	FieldDelay       = "delay"
	FieldRetryCount  = "retry_count"
	FieldStartedAt   = "started_at"
	FieldCompletedAt = "completed_at"
	FieldFailedAt    = "failed_at"
	FieldCancelledAt = "cancelled_at"
	FieldLastError   = "last_error"
	FieldLastErrorAt = "last_error_at"
	FieldError       = "error"
)

// FormatTime renders a timestamp as it is stored in the status hash.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a status hash timestamp. Returns the zero time for an
// empty field.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Fields encodes the job as the flat field map written at submission.
func (j *Job) Fields() (map[string]string, error) {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return map[string]string{
		FieldStatus:     string(StatusPending),
		FieldType:       string(j.Type),
		FieldPriority:   strconv.Itoa(int(j.Priority)),
		FieldParameters: string(params),
		FieldCreatedAt:  FormatTime(j.CreatedAt),
		FieldTimeout:    strconv.Itoa(int(j.Timeout / time.Second)),
		FieldDelay:      strconv.Itoa(int(j.Delay / time.Second)),
		FieldRetryCount: strconv.Itoa(j.RetryCount),
	}, nil
}

// FromFields rebuilds a Job from its status hash fields.
func FromFields(id string, fields map[string]string) (*Job, error) {
	j := &Job{ID: id, Parameters: map[string]any{}}

	var err error
	if j.Type, err = ParseType(fields[FieldType]); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = ParseTime(fields[FieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	rank, err := strconv.Atoi(fields[FieldPriority])
	if err != nil || !Priority(rank).Valid() {
		return nil, fmt.Errorf("invalid priority %q", fields[FieldPriority])
	}
	j.Priority = Priority(rank)

	if s := fields[FieldParameters]; s != "" {
		if err := json.Unmarshal([]byte(s), &j.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	j.Timeout = time.Duration(atoiOrZero(fields[FieldTimeout])) * time.Second
	j.Delay = time.Duration(atoiOrZero(fields[FieldDelay])) * time.Second
	j.RetryCount = atoiOrZero(fields[FieldRetryCount])

	return j, nil
}

// RecordFromFields builds a status record from the hash fields. The result
// payload, if any, is attached separately by the reader.
func RecordFromFields(id string, fields map[string]string) (*StatusRecord, error) {
	j, err := FromFields(id, fields)
	if err != nil {
		return nil, err
	}

	r := &StatusRecord{
		ID:         id,
		Status:     Status(fields[FieldStatus]),
		Type:       j.Type,
		Priority:   j.Priority,
		CreatedAt:  j.CreatedAt,
		Timeout:    j.Timeout,
		Delay:      j.Delay,
		RetryCount: j.RetryCount,
		LastError:  fields[FieldLastError],
	}
	for field, dst := range map[string]*time.Time{
		FieldStartedAt:   &r.StartedAt,
		FieldCompletedAt: &r.CompletedAt,
		FieldFailedAt:    &r.FailedAt,
		FieldCancelledAt: &r.CancelledAt,
		FieldLastErrorAt: &r.LastErrorAt,
	} {
		if *dst, err = ParseTime(fields[field]); err != nil {
			return nil, fmt.Errorf("parse %s: %w", field, err)
		}
	}
	return r, nil
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
