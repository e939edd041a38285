package core

import (
	"testing"
	"time"

	"github.com/dominionrnd/crypto-licensing/test"
)

func TestRetryBackoff(t *testing.T) {
	base := 200 * time.Millisecond
	max := 3200 * time.Millisecond

	test.AssertEquals(t, RetryBackoff(1, base, max, 4.0), 200*time.Millisecond)
	test.AssertEquals(t, RetryBackoff(2, base, max, 4.0), 800*time.Millisecond)
	test.AssertEquals(t, RetryBackoff(3, base, max, 4.0), 3200*time.Millisecond)
	test.AssertEquals(t, RetryBackoff(4, base, max, 4.0), max)
}

func TestRetryBackoffNonPositiveFailures(t *testing.T) {
	test.AssertEquals(t, RetryBackoff(0, 200*time.Millisecond, 3200*time.Millisecond, 4.0), time.Duration(0))
}
