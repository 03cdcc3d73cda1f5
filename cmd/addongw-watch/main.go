package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/addongw/internal/config"
	"github.com/mattjoyce/addongw/internal/watch"
)

func main() {
	fs := flag.NewFlagSet("addongw-watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (reads recorder.path)")
	recordPath := fs.String("file", "", "Recorder JSONL file to tail (overrides -config)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	path := *recordPath
	if path == "" && *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.Recorder.Path
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "No recorder file: pass -file or a -config with recorder.path set")
		os.Exit(1)
	}

	p := tea.NewProgram(watch.New(path))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch TUI failed: %v\n", err)
		os.Exit(1)
	}
}
