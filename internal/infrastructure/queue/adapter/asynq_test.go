package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatcore/internal/infrastructure/queue/port"
)

func TestParseQueueWeights(t *testing.T) {
	assert.Equal(t, map[string]int{"critical": 6, "default": 1, "low": 1},
		parseQueueWeights(" critical=6, default ,low=x,=3"))
	assert.Empty(t, parseQueueWeights(""))
}

func TestToAsynqOptions(t *testing.T) {
	assert.Nil(t, toAsynqOptions(nil))
	// queue, max retry and task id
	assert.Len(t, toAsynqOptions([]port.EnqueueOption{{Queue: "notifications", MaxRetry: 0, TaskID: "m1:u2"}}), 3)
	assert.Len(t, toAsynqOptions([]port.EnqueueOption{{MaxRetry: -1, Retention: time.Hour}}), 1)
	// a negative MaxRetry leaves the server default
	assert.Empty(t, toAsynqOptions([]port.EnqueueOption{{MaxRetry: -1}}))
}
