// Command loomd runs the loom daemon in the foreground. It is the
// systemd-friendly entry point; `loom start` achieves the same by launching
// the hidden `loom daemon` subcommand in a detached process.
package main

import (
	"context"
	"errors"
	"log"

	"loom/internal/config"
	"loom/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Fatalf("loomd: %v", err)
	}
}
