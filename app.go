package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/vecalign/align"
)

// App encapsulates the application state and dependencies
type App struct {
	Config *align.FileConfig
	State  *align.ResultState
	Logger *align.Logger

	// CLI options
	opts AppOptions
	out  io.Writer

	// connectMQTT is swapped in tests.
	connectMQTT func(ctx context.Context, cfg align.MQTTConfig, logger *align.Logger) (mqtt.Client, error)
}

// NewApp creates a new App instance
func NewApp(out io.Writer) *App {
	if out == nil {
		out = io.Discard
	}
	return &App{
		State:       align.NewResultState(),
		Logger:      align.NewTextLogger(slog.LevelInfo),
		out:         out,
		connectMQTT: align.ConnectMQTT,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
	if opts.Verbose {
		a.Logger = align.NewTextLogger(slog.LevelDebug)
	}
}

// loadConfig reads the config file and layers the CLI options on top. A
// missing file is fine only when it is the default path.
func (a *App) loadConfig() (*align.FileConfig, error) {
	cfg := align.DefaultFileConfig()
	if path := a.opts.ConfigFile; path != "" {
		loaded, err := align.LoadConfig(path)
		switch {
		case err == nil:
			cfg = loaded
			log.Printf("Loaded config from %s", path)
		case path == defaultConfigFile && isNotExist(path):
			log.Printf("No %s found, using defaults", path)
		default:
			return nil, err
		}
	}

	o := a.opts
	if o.SourcePath != "" {
		cfg.Embeddings.Source = o.SourcePath
	}
	if o.TargetPath != "" {
		cfg.Embeddings.Target = o.TargetPath
	}
	if o.SeedDict != "" {
		cfg.Embeddings.SeedDictionary = o.SeedDict
	}
	if o.MaxWords > 0 {
		cfg.Embeddings.MaxWords = o.MaxWords
	}
	if o.OutputFile != "" {
		cfg.Output.Path = o.OutputFile
	}
	if cfg.Output.Path == "" {
		cfg.Output.Path = align.DefaultResultPath
	}
	if o.Iterations > 0 {
		cfg.Alignment.MaxIterations = o.Iterations
	}
	if o.PairSelection != "" {
		ps, err := align.ParsePairSelection(o.PairSelection)
		if err != nil {
			return nil, err
		}
		cfg.Alignment.PairSelection = ps
	}
	if o.Scoring != "" {
		sm, err := align.ParseScoreMetric(o.Scoring)
		if err != nil {
			return nil, err
		}
		cfg.Alignment.Scoring = sm
	}
	if err := cfg.Alignment.Validate(); err != nil {
		return nil, err
	}

	a.Config = cfg
	return cfg, nil
}

// RunAlign loads both spaces, runs refinement, stores the result and
// optionally publishes it.
func (a *App) RunAlign(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateInputs(); err != nil {
		return err
	}

	src, err := align.LoadTextEmbeddingsFile(ctx, cfg.Embeddings.Source, cfg.Embeddings.MaxWords)
	if err != nil {
		return fmt.Errorf("loading source embeddings: %w", err)
	}
	tgt, err := align.LoadTextEmbeddingsFile(ctx, cfg.Embeddings.Target, cfg.Embeddings.MaxWords)
	if err != nil {
		return fmt.Errorf("loading target embeddings: %w", err)
	}
	fmt.Fprintf(a.out, "Loaded %d source and %d target vectors (dim %d)\n", src.Len(), tgt.Len(), src.Dim())

	var seed align.Dictionary
	if cfg.Embeddings.SeedDictionary != "" {
		var skipped int
		seed, skipped, err = align.LoadSeedDictionaryFile(ctx, cfg.Embeddings.SeedDictionary, src, tgt)
		if err != nil {
			return fmt.Errorf("loading seed dictionary: %w", err)
		}
		fmt.Fprintf(a.out, "Seed dictionary: %d pairs (%d skipped)\n", len(seed), skipped)
	}

	refiner, err := align.NewRefiner(cfg.Alignment, align.WithLogger(a.Logger))
	if err != nil {
		return err
	}

	start := time.Now()
	res, alignErr := refiner.Align(ctx, src, tgt, seed)
	if res == nil {
		return fmt.Errorf("alignment: %w", alignErr)
	}

	rec := align.NewResultRecord(res, src, tgt)
	a.State.Update(a.opts.Name, rec)
	if err := align.SaveResult(cfg.Output.Path, rec); err != nil {
		return err
	}
	a.printSummary(rec, time.Since(start), cfg.Output.Path)

	if a.opts.Publish {
		if err := a.publish(ctx, cfg, rec); err != nil {
			return err
		}
	}

	// Cancellation still saved the best-so-far result above.
	return alignErr
}

func (a *App) publish(ctx context.Context, cfg *align.FileConfig, rec *align.ResultRecord) error {
	mc := cfg.ResolveMQTT()
	client, err := a.connectMQTT(ctx, mc, a.Logger)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	if client == nil {
		return errors.New("publish requested but no MQTT broker is configured")
	}
	defer client.Disconnect(250)

	pub := align.NewPublisher(client, mc.PublishPrefix)
	if err := pub.PublishResult(a.opts.Name, rec); err != nil {
		return fmt.Errorf("publishing result: %w", err)
	}
	fmt.Fprintf(a.out, "Published result to %s/%s\n", mc.PublishPrefix, a.opts.Name)
	return nil
}

func (a *App) printSummary(rec *align.ResultRecord, elapsed time.Duration, path string) {
	fmt.Fprintln(a.out, "\nAlignment Result")
	fmt.Fprintln(a.out, "================")
	fmt.Fprintf(a.out, "Status:         %s\n", rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(a.out, "Detail:         %s\n", rec.Error)
	}
	fmt.Fprintf(a.out, "Iterations:     %d (best %d)\n", rec.Iterations, rec.BestIteration)
	fmt.Fprintf(a.out, "Pairs:          %d\n", len(rec.Pairs))
	fmt.Fprintf(a.out, "Matched score:  %.4f\n", rec.MatchedScore)
	fmt.Fprintf(a.out, "Matched cosine: %.4f\n", rec.MatchedCosine)
	fmt.Fprintf(a.out, "Elapsed:        %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(a.out, "Saved to:       %s\n", path)

	for i, p := range rec.TopPairs(10) {
		if i == 0 {
			fmt.Fprintln(a.out, "\nTop pairs:")
		}
		fmt.Fprintf(a.out, "  %-20s -> %-20s %.4f\n", p.SourceToken, p.TargetToken, p.Score)
	}
}

// RunServe loads the stored result and serves it until ctx ends.
func (a *App) RunServe(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rec, err := align.LoadResult(cfg.Output.Path)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no result at %s; run an alignment first", cfg.Output.Path)
	}
	a.State.Update(a.opts.Name, rec)
	log.Printf("Loaded result %q from %s (%d pairs)", a.opts.Name, cfg.Output.Path, len(rec.Pairs))

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.opts.HttpPort),
		Handler:           newHTTPServer(a.State),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[HTTP] Starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Printf("[HTTP] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func isNotExist(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}
