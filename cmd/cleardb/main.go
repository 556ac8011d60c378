// Command cleardb wipes all traces, annotations, and users from the
// storage database. Intended for resetting local development data.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/opencoding/backend/internal/storage/sqlite"
	"github.com/opencoding/backend/pkg/config"
)

func main() {
	force := flag.Bool("force", false, "skip the confirmation prompt")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if !*force {
		fmt.Printf("This will delete ALL data in %s. Continue? [y/N] ", cfg.Storage.Path)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted.")
			return
		}
	}

	db, err := sqlite.NewClient(cfg.Storage.Path)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.ClearAll(); err != nil {
		fmt.Printf("Failed to clear database: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Database cleared.")
}
