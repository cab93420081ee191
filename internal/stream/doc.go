// Package stream classifies decoded frames into typed events and fans them out
// to registered observers.
//
// The Dispatcher is driven by a single receive loop. Observers run on that
// loop in frame order; a panicking observer is recovered, logged and counted,
// and never stops delivery to the others. Registration and removal are safe to
// call at any time, including from inside an observer.
//
// A Tap buffers events for a consumer that reads at its own pace (for example a
// streaming relay client), so a slow reader never blocks the receive loop.
package stream
