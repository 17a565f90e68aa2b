// Package resilience guards operations that can fail in bursts.
//
// A Breaker wraps github.com/sony/gobreaker with the defaults used for
// process spawning: it opens after a run of consecutive failures, rejects
// calls with ErrOpen during a cooldown, then lets one probe through.
//
//	spawns := resilience.New("pty_spawn", resilience.Settings{Logger: log})
//	err := spawns.Do(func() error {
//		proc, err = start(spec)
//		return err
//	})
//	if errors.Is(err, resilience.ErrOpen) {
//		// fail fast, do not retry
//	}
package resilience
