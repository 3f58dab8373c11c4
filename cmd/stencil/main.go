// Command stencil runs an iterative row-band parallel 2D convolution.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/notargets/StencilKernel/cmd/stencil/cmd"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd.Root.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
