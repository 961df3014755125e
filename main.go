package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flavioribeiro/grainsmith/internal/app"
	"github.com/flavioribeiro/grainsmith/internal/controllers/engine"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"go.uber.org/fx"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: grainsmith <command> [flags] <input>

Commands:
  inspect    write the grain table a video already carries
  apply      rewrite a video with grain from a table file
  generate   rewrite a video with photon noise grain for an ISO rating
  remove     rewrite a video with every frame's grain turned off
  diff       fit a grain table from a grainy video and its clean master

Run 'grainsmith <command> -h' for that command's flags.
`)
}

// buildRequest turns one subcommand invocation into a request. Flags come
// before the input path. Returns nil for a command it does not know.
func buildRequest(cmd string, args []string) *entities.StreamRequest {
	req := &entities.StreamRequest{}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.StringVar(&req.OutPath, "o", "", "output path")
	fs.BoolVar(&req.Overwrite, "y", false, "overwrite the output if it already exists")

	switch cmd {
	case "inspect":
		req.Action = entities.ActionInspect
	case "apply":
		req.Action = entities.ActionApply
		fs.StringVar(&req.TablePath, "g", "", "grain table to apply")
	case "generate":
		req.Action = entities.ActionGenerate
		fs.IntVar(&req.ISO, "iso", 0, "ISO rating for the generated grain (1-6400)")
		fs.BoolVar(&req.Chroma, "chroma", false, "grain the chroma planes too")
	case "remove":
		req.Action = entities.ActionRemove
	case "diff":
		req.Action = entities.ActionDiff
		fs.StringVar(&req.CleanPath, "clean", "", "clean master to diff the input against")
	default:
		return nil
	}

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: grainsmith %s [flags] <input>\n", cmd)
		fs.PrintDefaults()
	}
	fs.Parse(args)
	req.InPath = fs.Arg(0)
	return req
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	req := buildRequest(cmd, os.Args[2:])
	if req == nil {
		fmt.Fprintf(os.Stderr, "grainsmith: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	var (
		c          *entities.Config
		controller *engine.GrainEngineController
	)
	fxApp := fx.New(
		app.Dependencies(),
		fx.NopLogger,
		fx.Populate(&c, &controller),
	)
	if err := fxApp.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "grainsmith: %v\n", err)
		os.Exit(1)
	}

	if req.Action == entities.ActionGenerate && req.ISO == 0 {
		req.ISO = c.DefaultISO
	}

	eng, err := controller.EngineFor(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "grainsmith %s: %v\n", cmd, err)
		fmt.Fprintf(os.Stderr, "run 'grainsmith %s -h' for usage\n", cmd)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "grainsmith %s: %v\n", cmd, err)
		os.Exit(1)
	}
}
