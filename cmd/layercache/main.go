// Command layercache inspects and edits a redis-backed layercache from the
// command line and tails its backplane.
//
//	layercache --redis localhost:6379 --cache users get user:42
//	layercache --config layercache.yaml set user:42 '{"name":"ada"}' --ttl 10m
//	layercache watch
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
