package workerpool_test

import (
	"sync/atomic"
	"testing"
	"time"

	"kinetic-client/internal/workerpool"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunsAllSubmittedJobs(t *testing.T) {
	p := workerpool.New(4, 8)
	defer p.Close()

	var n int64
	const jobs = 50
	for i := 0; i < jobs; i++ {
		p.Submit(func() { atomic.AddInt64(&n, 1) })
	}
	assert.Eventually(t, func() bool { return atomic.LoadInt64(&n) == jobs }, time.Second, time.Millisecond)
}

func TestTrySubmitReportsFullQueue(t *testing.T) {
	block := make(chan struct{})
	p := workerpool.New(1, 1)
	defer func() {
		close(block)
		p.Close()
	}()

	started := make(chan struct{})
	p.Submit(func() { close(started); <-block }) // occupies the one worker
	<-started                                    // the worker has dequeued it
	ok := p.TrySubmit(func() {})                 // fills the one-slot queue
	assert.True(t, ok)
	ok = p.TrySubmit(func() {}) // queue now full, worker still busy
	assert.False(t, ok)
}
