package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
)

func TestClassify(t *testing.T) {
	throttle := &connectors.ThrottleError{RetryAfter: time.Second, Cause: errors.New("429")}
	partial := &domain.PartialMutationError{TargetID: "N/0", SubOp: "enable", Completed: 1, Cause: errors.New("400")}

	cases := []struct {
		name       string
		err        error
		idempotent bool
		want       Action
	}{
		{"nil error", nil, true, AbortTarget},
		{"throttle idempotent", throttle, true, Retry},
		{"throttle non-idempotent", throttle, false, Retry},
		{"429 non-idempotent", &connectors.APIError{StatusCode: 429}, false, Retry},
		{"500 idempotent", &connectors.APIError{StatusCode: 500}, true, Retry},
		{"503 idempotent", &connectors.APIError{StatusCode: 503}, true, Retry},
		{"500 non-idempotent", &connectors.APIError{StatusCode: 500}, false, AbortTarget},
		{"400 idempotent", &connectors.APIError{StatusCode: 400}, true, AbortTarget},
		{"404 idempotent", &connectors.APIError{StatusCode: 404}, true, AbortTarget},
		{"403 non-idempotent", &connectors.APIError{StatusCode: 403}, false, AbortTarget},
		{"partial mutation idempotent", partial, true, AbortAndRollback},
		{"partial mutation non-idempotent", partial, false, AbortAndRollback},
		{"deadline idempotent", context.DeadlineExceeded, true, Retry},
		{"deadline non-idempotent", context.DeadlineExceeded, false, AbortTarget},
		{"cancel idempotent", context.Canceled, true, Retry},
		{"transport idempotent", errors.New("connection reset by peer"), true, Retry},
		{"transport non-idempotent", errors.New("connection reset by peer"), false, AbortTarget},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err, tc.idempotent))
		})
	}
}

func TestClassifyWrappedErrors(t *testing.T) {
	// Ошибка, обернутая слоями вызова, классифицируется по вложенной
	inner := &connectors.APIError{StatusCode: 500}
	wrapped := errors.Join(errors.New("write ssid N/0"), inner)
	assert.Equal(t, Retry, Classify(wrapped, true))

	// PartialMutationError берет верх даже если внутри APIError 4xx
	partial := &domain.PartialMutationError{
		TargetID: "N/0", SubOp: "enable", Completed: 2,
		Cause: &connectors.APIError{StatusCode: 400},
	}
	assert.Equal(t, AbortAndRollback, Classify(partial, true))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "abort_target", AbortTarget.String())
	assert.Equal(t, "abort_and_rollback", AbortAndRollback.String())
}
