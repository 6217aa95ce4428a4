package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryStrategy_WaitsUpToLimit(t *testing.T) {
	s := retryStrategy(time.Second)

	var waited time.Duration
	polls := 0
	for {
		backoff := s.NextBackoff()
		if backoff == 0 {
			break
		}
		waited += backoff
		polls++
	}

	assert.Equal(t, 4, polls)
	assert.Equal(t, time.Second, waited)
}

func TestRetryStrategy_NoWait(t *testing.T) {
	assert.Zero(t, retryStrategy(0).NextBackoff())
}
