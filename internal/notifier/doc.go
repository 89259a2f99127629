// Package notifier delivers composed notifications to a sink asynchronously.
//
// Notify enqueues; a small worker pool drains the queue through a token-bucket rate
// limiter and retries failed deliveries with jittered exponential backoff. Identical
// notifications (same kind, subject, text and target) inside the dedup window are
// suppressed.
//
// # Lifecycle events
//
// Every stage is published on the event bus under the notifier.* topics so metrics and
// the status command can observe delivery without coupling to the service.
//
// # History
//
// The service keeps a small in-memory ring of recently delivered notifications.
package notifier
