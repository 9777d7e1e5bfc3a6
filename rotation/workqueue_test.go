package rotation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func TestAsyncQueue_RunsAllTasksBeforeClose(t *testing.T) {
	q := NewAsyncQueue(3, 4)

	var (
		done atomic.Int64
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Submit(func() { done.Inc() }))
		}()
	}
	wg.Wait()
	q.Close()

	assert.Equal(t, int64(20), done.Load())
	assert.ErrorIs(t, q.Submit(func() {}), ErrQueueClosed)

	// closing twice is harmless
	q.Close()
}

func TestInlineQueue_RunsSynchronously(t *testing.T) {
	ran := false
	assert.NoError(t, InlineQueue{}.Submit(func() { ran = true }))
	assert.True(t, ran)
}
