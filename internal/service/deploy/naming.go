package deploy

import (
	"strings"
	"sync"
)

// maxRemoteName is the provider's project name limit.
const maxRemoteName = 63

// RemoteName derives the provider project name for slug: lowercased, runs of
// characters outside [a-z0-9-] folded into a single dash, prefixed and capped.
func RemoteName(prefix, slug string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(slug) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			if !dash {
				b.WriteByte('-')
				dash = true
			}
			continue
		}
		b.WriteRune(r)
		dash = false
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "site"
	}
	name = prefix + name
	if len(name) > maxRemoteName {
		name = name[:maxRemoteName]
	}
	return strings.TrimRight(name, "-")
}

// projectLocks serializes operations per project. Entries live only while
// a caller holds or waits on them.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	mu   sync.Mutex
	refs int
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*projectLock)}
}

func (l *projectLocks) lock(projectID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[projectID]
	if !ok {
		entry = &projectLock{}
		l.locks[projectID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, projectID)
		}
		l.mu.Unlock()
	}
}

func (l *projectLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
