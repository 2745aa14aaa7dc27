package reactor

import "time"

// now returns the cached time if caching is enabled and a cache is
// populated, else queries the monotonic clock directly (spec §4.3
// "Clock"). Caller must hold r.mu.
func (r *Reactor) now() time.Time {
	if !r.cfg.NoCacheTime && !r.cachedNow.IsZero() {
		return r.cachedNow
	}
	return time.Now()
}

// refreshClock repopulates the time cache. Caller must hold r.mu.
func (r *Reactor) refreshClock() {
	if r.cfg.NoCacheTime {
		return
	}
	r.cachedNow = time.Now()
}

// clearClock empties the time cache, forcing the next now() to read
// the system clock. Caller must hold r.mu.
func (r *Reactor) clearClock() {
	r.cachedNow = time.Time{}
}

// GetTimeCached returns the reactor's last-known time: the cached
// value if populated, otherwise a fresh read. Safe for callbacks to
// call without risking a syscall on every invocation (spec §6
// gettimeofday_cached).
func (r *Reactor) GetTimeCached() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now()
}
