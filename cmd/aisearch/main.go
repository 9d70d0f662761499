// Command aisearch runs the search ingestion pipeline: an HTTP server, a
// one-shot terminal search, stream replay, and dead-letter redelivery.
package main

func main() {
	Execute()
}
