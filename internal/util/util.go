package util

import (
	"fmt"
	"sync"
	"time"
)

// CreateAsyncErrorChannel produces a channel for errors, buffered to
// capacity so that every sender completes even though only the first
// error is ever consumed
func CreateAsyncErrorChannel(capacity int) chan error {
	return make(chan error, capacity)
}

// WaitAndFetchError attempts to fetch an error from an async goroutine
func WaitAndFetchError(wg *sync.WaitGroup, errors chan error) error {
	// use reading from the errors channel to block, rather than
	// the WaitGroup directly.
	go func() {
		defer close(errors)
		wg.Wait()
	}()
	for {
		select {
		case err := <-errors:
			if err != nil {
				return err
			}
			return nil
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// FormatMultiError formats multierrors for logging
func FormatMultiError(merrs []error) string {
	var msg = ""
	for i := 0; i < len(merrs); i++ {
		msg += fmt.Sprintf("%+v\n", merrs[i])
	}
	return msg
}
