package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/BaSui01/flowcanvas/config"
)

var errConfigUsage = errors.New("invalid config command usage")

func runConfig(args []string) {
	if err := configCommand(args, os.Stdout); err != nil {
		if errors.Is(err, errConfigUsage) {
			printConfigUsage(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
}

// configCommand 处理 check 与 env 两个子命令
func configCommand(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing subcommand", errConfigUsage)
	}

	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printConfigUsage(out)
		return nil
	}
	if sub != "check" && sub != "env" {
		return fmt.Errorf("%w: unknown subcommand %q", errConfigUsage, sub)
	}

	fs := flag.NewFlagSet("config "+sub, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%w: %v", errConfigUsage, err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	if sub == "check" {
		fmt.Fprintf(out, "OK (store=%s, http_port=%d, palette_categories=%d)\n",
			cfg.Store.Type, cfg.Server.HTTPPort, len(cfg.Editor.Palette))
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tTYPE\tCURRENT")
	for _, b := range config.EnvBindings(cfg, config.DefaultEnvPrefix) {
		value := b.Value
		if strings.HasSuffix(b.Key, "_PASSWORD") && value != "" {
			value = "******"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Key, b.Type, value)
	}
	return tw.Flush()
}

func printConfigUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage:
  flowcanvas config check [--config <path>]   Load and validate the effective configuration
  flowcanvas config env   [--config <path>]   List environment overrides with their current values`)
}
