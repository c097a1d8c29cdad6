// Package async provides panic-safe background goroutines and a bounded worker
// pool. The media pipeline runs on a WorkerPool; fire-and-forget side effects
// of HTTP handlers (emails, audit writes, push fan-out) use SafeGo so they
// survive the request context being cancelled.
package async
