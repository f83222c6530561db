// Package notifier delivers Pushcut calls asynchronously.
//
// Dispatch hands a Delivery to Enqueue and returns immediately. A fixed pool
// of workers drains the queue under one provider-wide rate limit, so a burst
// of Plex events never stalls the webhook handler.
//
// # Failures
//
// A full queue rejects the delivery with ErrQueueFull. A failed send is
// logged and recorded in history; it is not retried.
//
// # History
//
// The service keeps the last few hundred outcomes in memory for the status
// route.
package notifier
