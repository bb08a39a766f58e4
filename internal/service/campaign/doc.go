// Package campaign implements the control-plane business logic for blast
// campaigns: creation (template rendering, config resolution, queue
// population with a partial ordinal shuffle), reads, and the next-recipient
// preview. Lifecycle transitions are driven by the runner manager; this
// package never mutates a running campaign.
package campaign
