package audio

// Drain reads from ch until it is closed, discarding all values. Use it when a
// stream's frames are no longer wanted but its producer still needs a reader
// to shut down.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
