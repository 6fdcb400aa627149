package board

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorClass
	}{
		{401, ClassAuth},
		{403, ClassAuthz},
		{404, ClassNotFound},
		{429, ClassRateLimit},
		{400, ClassValidation},
		{422, ClassValidation},
		{500, ClassTemporaryServer},
		{502, ClassTemporaryServer},
		{503, ClassTemporaryServer},
		{418, ClassUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyStatus(tc.status), "HTTP %d", tc.status)
	}
}

func TestClassifyEmbedded(t *testing.T) {
	cases := []struct {
		code    string
		message string
		want    ErrorClass
	}{
		{"USER_UNAUTHORIZED", "", ClassAuth},
		{"unauthenticated", "", ClassAuth},
		{"FORBIDDEN", "", ClassAuthz},
		{"INVALID_BOARD_ID", "", ClassNotFound},
		{"COMPLEXITY_BUDGET_EXHAUSTED", "", ClassRateLimit},
		{"RATE_LIMIT_EXCEEDED", "", ClassRateLimit},
		{"COLUMN_VALUE_EXCEPTION", "", ClassValidation},
		{"INTERNAL_SERVER_ERROR", "", ClassTemporaryServer},
		{"", "Rate limit exceeded, retry in 12 seconds", ClassRateLimit},
		{"", "query complexity too high", ClassRateLimit},
		{"", "something odd happened", ClassUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyEmbedded(tc.code, tc.message), "code=%q msg=%q", tc.code, tc.message)
	}
}

func TestClassifyTransport(t *testing.T) {
	assert.Equal(t, ClassTimeout, classifyTransport(context.DeadlineExceeded))
	assert.Equal(t, ClassTimeout, classifyTransport(fmt.Errorf("do request: %w", context.DeadlineExceeded)))
	assert.Equal(t, ClassNetwork, classifyTransport(errors.New("connection refused")))
}

func TestAPIError_Retryable(t *testing.T) {
	retryable := []ErrorClass{ClassRateLimit, ClassTemporaryServer, ClassTimeout, ClassNetwork}
	for _, class := range retryable {
		assert.True(t, (&APIError{Class: class}).Retryable(), string(class))
	}

	permanent := []ErrorClass{ClassAuth, ClassAuthz, ClassNotFound, ClassValidation, ClassUnknown}
	for _, class := range permanent {
		assert.False(t, (&APIError{Class: class}).Retryable(), string(class))
	}
}

func TestIsRetryable_UnwrapsChain(t *testing.T) {
	wrapped := fmt.Errorf("push batch: %w", &APIError{Class: ClassTimeout, Message: "deadline"})
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ClassTimeout, ClassOf(wrapped))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ClassUnknown, ClassOf(errors.New("plain")))
}
