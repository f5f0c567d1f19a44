// Command rain-task-echo is a minimal executor: it copies each input
// straight to the output at the same index, useful as a smoke test for the
// executor protocol and as a worked example for writing a real executor
// binary against the task package.
package main

import (
	"fmt"
	"os"

	"github.com/rain-io/rain/task"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	task.Register("echo", echo)

	if err := task.Run(logger); err != nil {
		logger.Fatal("rain-task-echo exited with error", zap.Error(err))
	}
}

func echo(ctx *task.Context, inputs []*task.DataInstance, outputs []*task.Output) error {
	if len(inputs) != len(outputs) {
		return fmt.Errorf("echo requires inputs and outputs of equal length, got %d and %d", len(inputs), len(outputs))
	}
	for i, in := range inputs {
		b, err := in.Bytes()
		if err != nil {
			return fmt.Errorf("read input %s: %w", in.Object, err)
		}
		if _, err := outputs[i].Write(b); err != nil {
			return fmt.Errorf("write output %s: %w", outputs[i].Object, err)
		}
	}
	return nil
}
