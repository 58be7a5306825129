package cache

import "time"

// retry runs fn up to attempts times, doubling the pause after each failure.
func retry(attempts int, base time.Duration, fn func() error) error {
	var err error
	wait := base
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(wait)
			wait *= 2
		}
	}
	return err
}
