package task

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"go.uber.org/zap"
)

// readyFileName is the file an executor creates in its working directory
// once it has registered, matching the path the governor's supervisor
// polls for (workDir/ready, since the subprocess's cwd is its work dir).
const readyFileName = "ready"

// Run dials RAIN_EXECUTOR_SOCKET, registers every Func bound via Register,
// and serves Calls until the connection closes. A single executor
// processes Calls strictly sequentially. It returns when the governor
// closes the socket (normal shutdown) or on a protocol
// error.
func Run(log *zap.Logger) error {
	sockPath := os.Getenv("RAIN_EXECUTOR_SOCKET")
	if sockPath == "" {
		return fmt.Errorf("RAIN_EXECUTOR_SOCKET not set")
	}
	id, err := parseExecutorID(os.Getenv("RAIN_EXECUTOR_ID"))
	if err != nil {
		return fmt.Errorf("parse RAIN_EXECUTOR_ID: %w", err)
	}
	if len(registry) == 0 {
		return fmt.Errorf("no task types registered: call task.Register before task.Run")
	}

	raw, err := net.Dial("unix", sockPath)
	if err != nil {
		return fmt.Errorf("dial executor socket %s: %w", sockPath, err)
	}
	defer raw.Close()

	wc := wire.NewConn(raw)
	if err := wc.WriteMagic(); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}

	taskTypes := make([]string, 0, len(registry))
	for t := range registry {
		taskTypes = append(taskTypes, t)
	}
	sort.Strings(taskTypes)

	reg := wire.Register{ExecutorID: id, TaskTypes: taskTypes}
	if err := wc.WriteFrame(&wire.ExecutorFrame{Kind: wire.FrameRegister, Register: &reg}); err != nil {
		return fmt.Errorf("write register: %w", err)
	}

	if err := os.WriteFile(readyFileName, []byte{}, 0o644); err != nil {
		log.Warn("failed to create ready file", zap.Error(err))
	}

	stageDir, err := os.Getwd()
	if err != nil {
		stageDir = "."
	}

	for {
		var frame wire.ExecutorFrame
		if err := wc.ReadFrame(&frame); err != nil {
			log.Info("executor connection closed", zap.Error(err))
			return nil
		}
		switch frame.Kind {
		case wire.FrameCall:
			if frame.Call == nil {
				return fmt.Errorf("call frame missing payload")
			}
			result := handleCall(log, *frame.Call, stageDir)
			if err := wc.WriteFrame(&wire.ExecutorFrame{Kind: wire.FrameResult, Result: result}); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
		case wire.FrameDropCached:
			// No executor-side cache is kept in this SDK; nothing to do.
		default:
			return fmt.Errorf("unexpected frame kind %q from governor", frame.Kind)
		}
	}
}

func handleCall(log *zap.Logger, call wire.Call, stageDir string) *wire.Result {
	fn, ok := registry[call.TaskType]
	if !ok {
		return &wire.Result{CallID: call.CallID, Error: shared.Protocol(nil, "no task function registered for this call")}
	}

	inputs := make([]*DataInstance, len(call.Inputs))
	for i, in := range call.Inputs {
		inputs[i] = newDataInstance(in)
	}
	outputs := make([]*Output, len(call.Outputs))
	for i, out := range call.Outputs {
		outputs[i] = newOutput(out.Object, stageDir)
	}
	defer func() {
		for _, in := range inputs {
			in.close()
		}
	}()

	ctx := &Context{ctx: context.Background(), task: call.Task}
	if err := fn(ctx, inputs, outputs); err != nil {
		log.Warn("task function failed", zap.Stringer("task", call.Task), zap.Error(err))
		return &wire.Result{CallID: call.CallID, Error: shared.Execution(err.Error(), "task function failed")}
	}

	results := make([]wire.OutputResult, len(outputs))
	for i, out := range outputs {
		r, err := out.result()
		if err != nil {
			return &wire.Result{CallID: call.CallID, Error: shared.Execution(err.Error(), "finalize output %s", out.Object)}
		}
		results[i] = r
	}
	return &wire.Result{CallID: call.CallID, Outputs: results}
}

func parseExecutorID(raw string) (shared.ExecutorID, error) {
	governor, ordinalPart, ok := strings.Cut(raw, "/executor-")
	if !ok {
		return shared.ExecutorID{}, fmt.Errorf("malformed executor id %q, want GOVERNOR/executor-N", raw)
	}
	ordinal, err := strconv.ParseUint(ordinalPart, 10, 32)
	if err != nil {
		return shared.ExecutorID{}, fmt.Errorf("malformed executor ordinal in %q: %w", raw, err)
	}
	return shared.ExecutorID{Governor: shared.GovernorID(governor), Ordinal: uint32(ordinal)}, nil
}
