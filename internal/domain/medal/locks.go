package medal

import "sync"

// ChallengeLocks serializes work per challenge inside one process.
// Entries are dropped once nobody holds or waits for them.
type ChallengeLocks struct {
	mu    sync.Mutex
	locks map[int64]*challengeLock
}

type challengeLock struct {
	mu   sync.Mutex
	refs int
}

// NewChallengeLocks creates an empty lock set.
func NewChallengeLocks() *ChallengeLocks {
	return &ChallengeLocks{locks: make(map[int64]*challengeLock)}
}

// Lock blocks until the caller owns challengeID and returns the release func.
func (l *ChallengeLocks) Lock(challengeID int64) (unlock func()) {
	l.mu.Lock()
	cl, ok := l.locks[challengeID]
	if !ok {
		cl = &challengeLock{}
		l.locks[challengeID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cl.mu.Unlock()
			l.mu.Lock()
			cl.refs--
			if cl.refs == 0 {
				delete(l.locks, challengeID)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of challenges currently locked or awaited.
func (l *ChallengeLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
