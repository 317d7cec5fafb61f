// Command workflowctl validates, describes and simulates workflow definitions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/goliatone/go-workflow/config"
	"github.com/goliatone/go-workflow/engine"
)

type Globals struct {
	Config    string `help:"Configuration file (yaml, json or toml)." type:"path" env:"WORKFLOW_CONFIG"`
	LogLevel  string `help:"Override log.level." name:"log-level"`
	LogFormat string `help:"Override log.format (console or json)." name:"log-format"`
}

type cli struct {
	Globals

	Validate validateCmd `cmd:"" help:"Compile workflow definitions and report errors."`
	Describe describeCmd `cmd:"" help:"Print the states and transitions of a workflow."`
	Simulate simulateCmd `cmd:"" help:"Run a scripted scenario against an in-process engine."`
	Types    typesCmd    `cmd:"" help:"List the built-in workflow types."`
}

// app is bound into every command's Run method.
type app struct {
	ctx    context.Context
	out    io.Writer
	errOut io.Writer
	cfg    config.Config
	logger engine.Logger
}

func newApp(ctx context.Context, g Globals, out, errOut io.Writer) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	return &app{
		ctx:    ctx,
		out:    out,
		errOut: errOut,
		cfg:    cfg,
		logger: newLogger(errOut, cfg.Log.Level, cfg.Log.Format),
	}, nil
}

func newParser(c *cli, out, errOut io.Writer) (*kong.Kong, error) {
	return kong.New(c,
		kong.Name("workflowctl"),
		kong.Description("Permission-aware workflow engine tooling."),
		kong.Writers(out, errOut),
		kong.UsageOnError(),
	)
}

func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	var c cli
	parser, err := newParser(&c, out, errOut)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, c.Globals, out, errOut)
	if err != nil {
		return err
	}
	return kctx.Run(a)
}

// reportError prints err with the status an HTTP or gRPC front end would return for it.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "workflowctl: %v\n", err)
	env := engine.RPCErrorForError(err)
	if env == nil || engine.ErrorCode(err) == "" {
		return
	}
	fmt.Fprintf(w, "code: %s (http %d, grpc %s", env.Code, engine.HTTPStatusForError(err), engine.GRPCCodeForError(err))
	if engine.MapError(err).Retryable {
		fmt.Fprint(w, ", retryable")
	}
	fmt.Fprintln(w, ")")
	for _, msg := range env.Messages {
		fmt.Fprintf(w, "  - %s\n", msg)
	}
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}
