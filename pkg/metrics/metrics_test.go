package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerMeasuresElapsedTime(t *testing.T) {
	timer := NewTimer("commit")
	time.Sleep(10 * time.Millisecond)

	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Equal(t, "commit", timer.Name())
}

func TestTimerStopIsRepeatable(t *testing.T) {
	timer := NewTimer("load")

	first := timer.Stop()
	second := timer.Stop()
	assert.GreaterOrEqual(t, second, first)
}
