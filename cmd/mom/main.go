// Command mom runs the per-channel agent harness: one Slack workspace
// connection, one Channel Supervisor per channel, and a filesystem-backed
// event scheduler, all rooted at a single on-disk workspace directory
// (spec §6 "CLI surface").
package main

func main() {
	Execute()
}
