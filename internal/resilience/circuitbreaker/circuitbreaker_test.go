package circuitbreaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"prodscout/internal/resilience/circuitbreaker"
)

func TestCircuitBreaker_ConsecutiveFailuresTrip(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.GraphQLConfig(3, time.Minute))

	fail := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(fail); errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("breaker opened early at call %d", i+1)
		}
	}

	if !cb.IsOpen() {
		t.Fatal("breaker not open after threshold consecutive failures")
	}
	if _, err := cb.Execute(fail); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Execute() after trip error = %v, want ErrOpenState", err)
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.GraphQLConfig(3, time.Minute))

	fail := func() (interface{}, error) { return nil, errors.New("boom") }
	ok := func() (interface{}, error) { return "fine", nil }

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(fail)
	}
	if _, err := cb.Execute(ok); err != nil {
		t.Fatalf("Execute() success error = %v", err)
	}
	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(fail)
	}

	if cb.IsOpen() {
		t.Error("breaker open although the failure run was interrupted by a success")
	}
}

func TestCircuitBreaker_RatioConfigNeedsMinRequests(t *testing.T) {
	cb := circuitbreaker.New(circuitbreaker.LLMConfig())

	fail := func() (interface{}, error) { return nil, errors.New("boom") }

	// Below MinRequests the ratio must not trip the breaker.
	for i := 0; i < 4; i++ {
		_, _ = cb.Execute(fail)
	}
	if cb.IsOpen() {
		t.Error("breaker tripped below the minimum request count")
	}
}
