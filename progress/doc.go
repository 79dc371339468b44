// Package progress delivers ingestion progress to observers.
//
// A Broker keeps one topic per session and one per project. Each
// Subscription owns a bounded buffer; Publish never blocks, and a message
// that finds a full buffer (or no subscriber) is dropped. Delivery is
// therefore at-most-once with no replay: a subscriber sees only messages
// published after it subscribed.
//
// Tracker turns chunk counts into progress messages with throughput figures.
// Sinks forward every published message to an external bus such as NATS.
// ConsoleReporter renders a subscription as a progress bar for the CLI.
package progress
