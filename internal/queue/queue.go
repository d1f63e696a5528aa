// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package queue owns the NATS JetStream plumbing: the embedded server,
// stream provisioning, the publisher producers use, the durable
// subscriber the processor consumes from, and the Watermill router that
// stitches middleware around the handler.
package queue

// Topic names. The stream captures everything under "charts.".
const (
	// TopicSnapshots carries chart snapshot messages from producers.
	TopicSnapshots = "charts.snapshots"

	// TopicPoison receives messages the processor classified as
	// unprocessable. They are kept for inspection, never redelivered.
	TopicPoison = "charts.poison"
)
