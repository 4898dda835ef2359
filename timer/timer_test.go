package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Pakkapon0000/vpn-libraries/looper"
)

func TestTimerFiresInOrder(t *testing.T) {
	l := new(looper.Looper)
	defer l.Halt()

	var mu sync.Mutex
	var fired []ID

	q := NewQueue(l, func(id ID) {
		mu.Lock()
		fired = append(fired, id)
		mu.Unlock()
	})
	q.Start()
	defer q.Halt()

	idA := q.StartTimer(30 * time.Millisecond)
	idB := q.StartTimer(5 * time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []ID{idB, idA}, fired)
}

func TestCancelTimerSuppressesExpiry(t *testing.T) {
	l := new(looper.Looper)
	defer l.Halt()

	var mu sync.Mutex
	fired := false

	q := NewQueue(l, func(id ID) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	q.Start()
	defer q.Halt()

	id := q.StartTimer(10 * time.Millisecond)
	q.CancelTimer(id)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, fired)
}
