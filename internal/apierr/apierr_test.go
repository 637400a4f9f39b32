package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindStatusCode(t *testing.T) {
	testCases := []struct {
		kind Kind
		want int
	}{
		{KindBadRequest, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{KindQuotaExceeded, http.StatusTooManyRequests},
		{KindInternal, http.StatusInternalServerError},
		{Kind(0), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			if got := tc.kind.StatusCode(); got != tc.want {
				t.Errorf("StatusCode() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("mongo: connection refused")
	err := Wrap(KindInternal, "internal server error", cause)

	// 底層錯誤可以被 errors.Is 找到
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}

	// 安全訊息不包含底層細節
	if err.Message != "internal server error" {
		t.Errorf("Message = %q, want safe message", err.Message)
	}
}

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed error", New(KindForbidden, "email does not match key owner"), KindForbidden},
		{"wrapped typed error", fmt.Errorf("pipeline: %w", New(KindUnauthorized, "invalid credentials")), KindUnauthorized},
		{"raw error fails closed", errors.New("boom"), KindInternal},
		{"nil-cause quota error", QuotaExceeded("burst", 7), KindQuotaExceeded},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestQuotaExceededCarriesRetryAfter(t *testing.T) {
	err := QuotaExceeded("hour", 1800)

	if err.RetryAfterSeconds != 1800 {
		t.Errorf("RetryAfterSeconds = %d, want 1800", err.RetryAfterSeconds)
	}
	if err.Window != "hour" {
		t.Errorf("Window = %q, want hour", err.Window)
	}
	if err.Kind.StatusCode() != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", err.Kind.StatusCode())
	}
}
