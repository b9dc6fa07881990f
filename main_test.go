package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }

func (m *mockApp) RunAlign(context.Context) error {
	m.called["RunAlign"] = true
	return nil
}

func (m *mockApp) RunServe(context.Context) error {
	m.called["RunServe"] = true
	return nil
}

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Align",
			args:           []string{"--source", "en.vec", "--target", "de.vec", "--output", "out.json.zst"},
			expectedCalled: "RunAlign",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.SourcePath != "en.vec" || opts.TargetPath != "de.vec" {
					t.Errorf("unexpected inputs %q %q", opts.SourcePath, opts.TargetPath)
				}
				if opts.OutputFile != "out.json.zst" {
					t.Errorf("expected OutputFile out.json.zst, got %s", opts.OutputFile)
				}
				if opts.ConfigFile != defaultConfigFile {
					t.Errorf("expected default config, got %s", opts.ConfigFile)
				}
			},
		},
		{
			name:           "AlignPolicies",
			args:           []string{"--pair-selection", "hungarian", "--scoring", "cosine", "--iterations", "7", "--max-words", "500", "--seed-dict", "seed.txt"},
			expectedCalled: "RunAlign",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.PairSelection != "hungarian" {
					t.Errorf("expected PairSelection hungarian, got %s", opts.PairSelection)
				}
				if opts.Scoring != "cosine" {
					t.Errorf("expected Scoring cosine, got %s", opts.Scoring)
				}
				if opts.Iterations != 7 {
					t.Errorf("expected Iterations 7, got %d", opts.Iterations)
				}
				if opts.MaxWords != 500 {
					t.Errorf("expected MaxWords 500, got %d", opts.MaxWords)
				}
				if opts.SeedDict != "seed.txt" {
					t.Errorf("expected SeedDict seed.txt, got %s", opts.SeedDict)
				}
			},
		},
		{
			name:           "Publish",
			args:           []string{"--publish", "--name", "en-de", "--verbose"},
			expectedCalled: "RunAlign",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.Publish || !opts.Verbose {
					t.Error("expected Publish and Verbose true")
				}
				if opts.Name != "en-de" {
					t.Errorf("expected Name en-de, got %s", opts.Name)
				}
			},
		},
		{
			name:           "Serve",
			args:           []string{"--serve", "--http-port", "9090", "--config", "alt.yaml"},
			expectedCalled: "RunServe",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.Serve {
					t.Error("expected Serve true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
				if opts.ConfigFile != "alt.yaml" {
					t.Errorf("expected ConfigFile alt.yaml, got %s", opts.ConfigFile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if err == nil {
		t.Error("expected error from --help, got nil")
	}
	if !strings.Contains(out.String(), "Usage of vecalign") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run on --help, got %v", app.called)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--no-such-flag"}, &out, newMockApp()); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRun_StrayArgument(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"extra"}, &out, newMockApp()); err == nil {
		t.Error("expected error for positional argument")
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "vecalign version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !app.called["RunAlign"] {
		t.Error("expected align mode by default")
	}
	if app.opts.Name != "default" {
		t.Errorf("expected default name, got %s", app.opts.Name)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}

// expectRunner records calls through testify's mock package.
type expectRunner struct {
	mock.Mock
}

func (r *expectRunner) ApplyOptions(opts AppOptions) { r.Called(opts) }

func (r *expectRunner) RunAlign(ctx context.Context) error {
	return r.Called(ctx).Error(0)
}

func (r *expectRunner) RunServe(ctx context.Context) error {
	return r.Called(ctx).Error(0)
}

func TestRun_PropagatesModeError(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		method string
	}{
		{"align", []string{"--source", "a.vec"}, "RunAlign"},
		{"serve", []string{"--serve"}, "RunServe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boom := errors.New("boom")
			r := &expectRunner{}
			r.On("ApplyOptions", mock.AnythingOfType("main.AppOptions")).Once()
			r.On(tt.method, mock.Anything).Return(boom).Once()

			err := run(tt.args, &bytes.Buffer{}, r)
			assert.ErrorIs(t, err, boom)
			r.AssertExpectations(t)
		})
	}
}
