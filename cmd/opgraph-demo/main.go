// Command opgraph-demo builds a small model with the fluent builder,
// drives it through the translate/declutter/codegen pipeline, and runs it,
// printing the result -- a smoke test for the whole stack runnable from the
// command line.
package main

import (
	"fmt"
	"os"

	"github.com/gomlx/opgraph/build"
	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/plan"
	"github.com/gomlx/opgraph/rewrite"
	"github.com/gomlx/opgraph/shape"
	"github.com/gomlx/opgraph/tensor"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var log = logger.With().Caller().Logger().Output(zerolog.ConsoleWriter{Out: os.Stderr})

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

func main() {
	var (
		scale         = pflag.Float32("scale", 4, "constant multiplier applied to the input before taking the absolute value")
		maxIterations = pflag.Int("max-declutter-iterations", 10, "fixpoint ceiling for the declutter pass")
		verbose       = pflag.BoolP("verbose", "v", false, "log every pipeline stage")
	)
	pflag.Parse()
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(*scale, *maxIterations); err != nil {
		log.Error().Err(err).Msg("opgraph-demo failed")
		os.Exit(1)
	}
}

// run builds abs(x * scale) for a 4-element F32 vector, translates it to the
// typed stage, declutters it to a fixpoint, codegens it, and evaluates it
// against a fixed input vector.
func run(scale float32, maxIterations int) error {
	b := build.New()
	x, err := b.Input("x", datum.F32, shape.Int(4))
	if err != nil {
		return err
	}
	scaleTensor, err := tensor.FromValue(scale)
	if err != nil {
		return err
	}
	c, err := b.Const("scale", scaleTensor)
	if err != nil {
		return err
	}
	scaled, err := x.Mul(c)
	if err != nil {
		return err
	}
	out, err := scaled.Abs()
	if err != nil {
		return err
	}
	inference, err := b.Build(out)
	if err != nil {
		return err
	}
	log.Debug().Int("nodes", len(inference.Nodes())).Msg("built inference-stage model")

	typed, err := rewrite.Translate(inference)
	if err != nil {
		return err
	}
	log.Debug().Msg("translated to typed stage")

	decluttered, err := rewrite.Declutter(typed, maxIterations)
	if err != nil {
		return err
	}
	log.Debug().Int("nodes", len(decluttered.Nodes())).Msg("decluttered to fixpoint")

	codegenned, err := rewrite.Codegen(decluttered)
	if err != nil {
		return err
	}

	input, err := tensor.FromValue([]float32{1, -2, 3, -4})
	if err != nil {
		return err
	}
	results, err := plan.New(codegenned).Run([]*tensor.Tensor{input}, nil)
	if err != nil {
		return err
	}
	fmt.Println(results[0])
	return nil
}
