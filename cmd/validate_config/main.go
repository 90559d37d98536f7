// Command validate-config loads the layered otlp2parquet configuration
// (defaults, then TOML file, then OTLP2PARQUET_* environment overrides)
// and runs the same validation the runtime profiles run at startup.
// Useful in CI to catch missing credentials or an invalid catalog mode
// before a deploy.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/smithclay/otlp2parquet-go/internal/config"
)

func main() {
	usage := `otlp2parquet configuration validator.

Usage:
  validate-config [--config=<config_file>] [--env=<env_file>]
  validate-config -h | --help

Options:
  -h --help               Show this screen.
  --config=<config_file>  Path to a TOML configuration file.
  --env=<env_file>        Path to a .env file loaded ahead of the real environment.
`

	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatalf("Error parsing arguments: %v", err)
	}

	tomlPath, _ := arguments.String("--config")
	envPath, _ := arguments.String("--env")

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); os.IsNotExist(err) {
			log.Fatalf("Configuration file '%s' does not exist.", tomlPath)
		}
	}

	cfg, err := config.Load(tomlPath, envPath)
	if err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	fmt.Printf("Configuration is valid (catalog mode %q, storage bucket %q).\n",
		cfg.Catalog.Mode, cfg.Storage.Bucket)
}
