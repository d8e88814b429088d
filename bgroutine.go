package main

import (
	"log"
	"sync"
)

// startBackgroundRoutine runs workfn until the returned stop function is
// called. Stop blocks until workfn returned and is safe to call twice.
func startBackgroundRoutine(name string, workfn func(exitchan <-chan struct{})) func() {
	log.Printf("Starting %s routine", name)
	exitchan := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		workfn(exitchan)
	}()
	return sync.OnceFunc(func() {
		log.Printf("Stopping %s routine", name)
		close(exitchan)
		<-done
		log.Printf("Routine %s stopped", name)
	})
}
