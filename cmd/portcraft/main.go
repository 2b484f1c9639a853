// Command portcraft is the CLI front end for the corebuild resolver, ABI
// tagger, binary cache, and build orchestrator. Grounded on
// internal/hokuto/cli.go's Main: a flat os.Args switch, no cobra/urfave
// framework, colorized help table via gookit/color.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gookit/color"

	"github.com/portcraft/portcraft/internal/corebuild"
)

func printHelp() {
	color.Success.Println("Usage: portcraft <command> [arguments]")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct{ Cmd, Args, Desc string }
	cmds := []cmdInfo{
		{"install, i", "<pkg[feature]:triplet>...", "Resolve and build/install packages"},
		{"plan", "<pkg[feature]:triplet>...", "Print an install plan without executing it"},
		{"abi", "<pkg:triplet>", "Compute and print an ABI tag"},
		{"checksum, c", "<pkg>", "Fetch sources and verify checksums"},
		{"log", "", "TUI build log and tombstone viewer"},
		{"version, --version", "", "Version information"},
	}

	maxLen := 0
	for _, c := range cmds {
		l := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			l++
		}
		if l > maxLen {
			maxLen = l
		}
	}
	width := maxLen + 4

	for _, c := range cmds {
		usage := c.Cmd
		if c.Args != "" {
			usage = c.Cmd + " " + c.Args
		}
		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}
		pad := width - len(usage)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(0)
	}

	cfg, err := corebuild.LoadConfig(corebuild.DefaultConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	reporter := corebuild.NewConsoleReporter(os.Stdout, os.Getenv("PORTCRAFT_DEBUG") != "")

	switch os.Args[1] {
	case "version", "--version":
		fmt.Println("portcraft (dev build)")

	case "plan":
		if err := runPlan(cfg, reporter, os.Args[2:], false); err != nil {
			reporter.Fatal("%v", err)
			os.Exit(1)
		}

	case "install", "i":
		if err := runPlan(cfg, reporter, os.Args[2:], true); err != nil {
			reporter.Fatal("%v", err)
			os.Exit(1)
		}

	case "abi":
		if err := runAbi(cfg, reporter, os.Args[2:]); err != nil {
			reporter.Fatal("%v", err)
			os.Exit(1)
		}

	case "checksum", "c":
		if err := runChecksum(cfg, reporter, os.Args[2:]); err != nil {
			reporter.Fatal("%v", err)
			os.Exit(1)
		}

	case "log":
		if err := runLogViewer(cfg); err != nil {
			reporter.Fatal("%v", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}
