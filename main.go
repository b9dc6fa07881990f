package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultConfigFile = "config.yaml"

// AppOptions carries the parsed command line. Zero values mean "not set on
// the command line" and leave the config file value in place.
type AppOptions struct {
	ConfigFile    string
	SourcePath    string
	TargetPath    string
	SeedDict      string
	OutputFile    string
	MaxWords      int
	PairSelection string
	Scoring       string
	Iterations    int
	Publish       bool
	Name          string
	Serve         bool
	HttpPort      int
	Verbose       bool
}

// Runner is what run dispatches to; tests substitute a mock.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunAlign(ctx context.Context) error
	RunServe(ctx context.Context) error
}

func main() {
	app := NewApp(os.Stdout)
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("vecalign: %v", err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("vecalign", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", defaultConfigFile, "Path to configuration file")
	fs.StringVar(&opts.SourcePath, "source", "", "Source embeddings (word2vec text format)")
	fs.StringVar(&opts.TargetPath, "target", "", "Target embeddings (word2vec text format)")
	fs.StringVar(&opts.SeedDict, "seed-dict", "", "Optional seed dictionary: one 'source target' pair per line")
	fs.StringVar(&opts.OutputFile, "output", "", "Result file (.json, .json.zst or .json.lz4)")
	fs.IntVar(&opts.MaxWords, "max-words", 0, "Read at most this many vectors per space (0 = all)")
	fs.StringVar(&opts.PairSelection, "pair-selection", "", "Dictionary mining: mutual-nn or hungarian")
	fs.StringVar(&opts.Scoring, "scoring", "", "Similarity: cosine or csls")
	fs.IntVar(&opts.Iterations, "iterations", 0, "Maximum refinement iterations")
	fs.BoolVar(&opts.Publish, "publish", false, "Publish the result to MQTT")
	fs.StringVar(&opts.Name, "name", "default", "Run name used in MQTT topics and HTTP lookups")
	fs.BoolVar(&opts.Serve, "serve", false, "Serve a stored result over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Log every refinement iteration")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fmt.Fprintf(out, "vecalign version: %s\n", Version)
	app.ApplyOptions(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Serve {
		fmt.Fprintln(out, "vecalign server starting...")
		return app.RunServe(ctx)
	}
	return app.RunAlign(ctx)
}
