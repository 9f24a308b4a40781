package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
}

func TestKeyedMutex_IndependentKeysAndCleanup(t *testing.T) {
	k := newKeyedMutex()
	ua := k.Lock("a")
	ub := k.Lock("b")
	assert.Equal(t, 2, k.size())
	ua()
	ub()
	assert.Equal(t, 0, k.size())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock("c")()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, k.size())
}
