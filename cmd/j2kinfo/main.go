// Command j2kinfo inspects and decodes JPEG 2000 codestreams from the
// command line. It exists mainly as a thin collaborator exercising the
// library's public API end to end; most of the interesting work happens
// in the jpeg2000 package itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adeilla-codes/j2kcore/cmd/j2kinfo/cmd"
)

var gitSHA = "NA"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := cmd.NewRoot(ctx, gitSHA)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
