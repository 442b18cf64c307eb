// Package handler implements the per-type execution strategies. Each
// handler validates the task payload, performs the external effect and
// classifies the outcome; retry pacing lives in NextRetryDelay.
package handler

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/adapter/client"
	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// retryDelayHoursKey is the per-task metadata override for the backoff base.
const retryDelayHoursKey = "retryDelayHours"

// jitter returns base plus a uniform random spread in [base/10, base/4],
// desynchronizing retry herds across tasks that failed together.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	lo := base / 10
	hi := base / 4
	if hi <= lo {
		return base + lo
	}
	return base + lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// metadataDelayOverride returns the task's metadata backoff override, if set.
func metadataDelayOverride(t domain.Task) (time.Duration, bool) {
	if hours, ok := t.MetadataInt(retryDelayHoursKey); ok && hours > 0 {
		return time.Duration(hours) * time.Hour, true
	}
	return 0, false
}

// statusConfirms reports whether the response body's "status" field matches
// one of the accepted values, case-insensitively.
func statusConfirms(resp map[string]any, accepted ...string) bool {
	got, _ := resp["status"].(string)
	for _, want := range accepted {
		if strings.EqualFold(got, want) {
			return true
		}
	}
	return false
}

// unexpectedStatus flags a 2xx reply whose body does not confirm the
// effect. The downstream may still converge, so the failure is retryable.
func unexpectedStatus(resp map[string]any) domain.Result {
	status, _ := resp["status"].(string)
	if status == "" {
		status = "null"
	}
	message, _ := resp["message"].(string)
	return domain.Fail(fmt.Sprintf("Unexpected status: %s - %s", status, message), "UNEXPECTED_STATUS")
}

// classifyServiceError maps a downstream HTTP failure to a Result using the
// shared status taxonomy: 404 and 409 are permanent with entity-specific
// error types, 400 and 422 are permanent validation failures, everything
// else follows the retryable HTTP_<code> convention.
func classifyServiceError(err error, notFoundType, conflictType string) domain.Result {
	var se *client.ServiceError
	if !errors.As(err, &se) {
		return domain.FailFromError(err)
	}
	switch se.StatusCode {
	case 404:
		return domain.PermanentFail(se.Error(), notFoundType)
	case 409:
		return domain.PermanentFail(se.Error(), conflictType)
	case 400:
		return domain.PermanentFail(se.Error(), "VALIDATION_ERROR")
	case 422:
		return domain.PermanentFail(se.Error(), "BUSINESS_RULE_VIOLATION")
	}
	return domain.HTTPFail(se.StatusCode, se.Error())
}
