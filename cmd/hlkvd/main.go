// Command hlkvd is the demo and benchmark driver for the engine package:
// it serves an in-memory engine's metrics over HTTP, drives
// testing.Benchmark-based load against it, and walks through the scenarios
// from the engine's test matrix on demand.
package main

func main() {
	Execute()
}
