// Command taskqueued runs the background job worker daemon for the task
// tracking service and offers operational access to the queue.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
