// Package main implements the genconfig tool that writes config.default.toml
// from config.DefaultConfig().
//
// It is invoked by go generate via the directive in internal/config/config.go.
package main

import (
	"fmt"
	"os"

	"tools.zach/dev/driver/internal/config"
)

// go generate runs from internal/config/; the root package embeds the file.
const outPath = "../../config.default.toml"

func main() {
	if err := run(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "genconfig: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote config.default.toml")
}

func run(path string) error {
	data, err := config.Render(config.DefaultConfig())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
