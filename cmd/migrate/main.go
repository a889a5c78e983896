// migrate applies the embedded schema migrations; go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"fmt"
	"os"

	"careportal/internal/config"
	"careportal/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "up, down or version")
	steps := flag.Int("steps", 0, "migrations to roll back with -direction down (0 = all)")
	flag.Parse()

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	status, err := migrate.Run(cfg.DatabaseURL, dir, *steps)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("schema version %d (dirty=%t)\n", status.Version, status.Dirty)
}
