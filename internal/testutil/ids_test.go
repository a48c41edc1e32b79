package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDSequence(t *testing.T) {
	s := NewIDSequence("run")
	assert.Equal(t, "run-1", s.Next())
	assert.Equal(t, "run-2", s.Next())

	assert.Equal(t, "exec-1", NewIDSequence("").Next())
}

func TestIDSequence_Concurrent(t *testing.T) {
	s := NewIDSequence("")
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := s.Next()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
	assert.Equal(t, "exec-51", s.Next())
}
