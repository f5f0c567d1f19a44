// Package executorproto is the governor side of the executor protocol: a
// Unix domain socket per executor process, carrying the same
// length-framed CBOR envelopes defined in shared/wire, with strictly
// sequential Call/Result exchange.
package executorproto

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"go.uber.org/zap"
)

// Conn is one governor<->executor connection, open for the lifetime of the
// executor subprocess. Calls are strictly sequential: Invoke blocks until
// the matching Result arrives (or the connection dies), matching "exactly
// one Call may be outstanding per connection."
type Conn struct {
	log        *zap.Logger
	conn       net.Conn
	wire       *wire.Conn
	mu         sync.Mutex
	register   wire.Register
	nextCallID uint64
}

// Accept completes the handshake on a freshly accepted connection: expects
// the cbor-1 magic, then requires the first frame to be Register. It does
// not return until the executor has identified itself.
func Accept(log *zap.Logger, raw net.Conn) (*Conn, error) {
	wc := wire.NewConn(raw)
	if err := wc.ExpectMagic(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("executor handshake: %w", err)
	}

	var frame wire.ExecutorFrame
	if err := wc.ReadFrame(&frame); err != nil {
		raw.Close()
		return nil, fmt.Errorf("read register frame: %w", err)
	}
	if frame.Kind != wire.FrameRegister || frame.Register == nil {
		raw.Close()
		return nil, fmt.Errorf("expected register frame, got %q", frame.Kind)
	}

	return &Conn{
		log:      log.With(zap.String("executor", frame.Register.ExecutorID.String())),
		conn:     raw,
		wire:     wc,
		register: *frame.Register,
	}, nil
}

// ExecutorID reports the identity the executor announced at Register time.
func (c *Conn) ExecutorID() shared.ExecutorID { return c.register.ExecutorID }

// TaskTypes reports the task type prefixes this executor declared it can
// run.
func (c *Conn) TaskTypes() []string { return c.register.TaskTypes }

// Invoke sends a Call and blocks for its Result. Concurrent callers on the
// same Conn are serialised by c.mu, so at most one Call is on the wire at
// a time; the governor runtime may dispatch several tasks to one executor
// at once and relies on this.
func (c *Conn) Invoke(ctx context.Context, task shared.TaskID, taskType string, inputs []wire.DataInstance, outputs []wire.OutputSlot, config map[string]any) (*wire.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextCallID++
	call := wire.Call{
		CallID:   c.nextCallID,
		Task:     task,
		TaskType: taskType,
		Inputs:   inputs,
		Outputs:  outputs,
		Config:   config,
	}

	done := make(chan struct {
		res *wire.Result
		err error
	}, 1)
	go func() {
		if err := c.wire.WriteFrame(&wire.ExecutorFrame{Kind: wire.FrameCall, Call: &call}); err != nil {
			done <- struct {
				res *wire.Result
				err error
			}{nil, fmt.Errorf("send call: %w", err)}
			return
		}
		var frame wire.ExecutorFrame
		if err := c.wire.ReadFrame(&frame); err != nil {
			done <- struct {
				res *wire.Result
				err error
			}{nil, fmt.Errorf("read result: %w", err)}
			return
		}
		if frame.Kind != wire.FrameResult || frame.Result == nil {
			done <- struct {
				res *wire.Result
				err error
			}{nil, fmt.Errorf("expected result frame, got %q", frame.Kind)}
			return
		}
		if frame.Result.CallID != call.CallID {
			done <- struct {
				res *wire.Result
				err error
			}{nil, fmt.Errorf("result call_id %d does not match call_id %d", frame.Result.CallID, call.CallID)}
			return
		}
		done <- struct {
			res *wire.Result
			err error
		}{frame.Result, nil}
	}()

	select {
	case <-ctx.Done():
		c.conn.Close()
		return nil, ctx.Err()
	case r := <-done:
		return r.res, r.err
	}
}

// DropCached tells the executor to forget a previously sent object.
func (c *Conn) DropCached(object shared.DataObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wire.WriteFrame(&wire.ExecutorFrame{Kind: wire.FrameDropCached, DropCached: &wire.DropCached{Object: object}})
}

// Close tears down the underlying connection: cancellation-by-close, so an
// executor mid-Call observes EOF and aborts.
func (c *Conn) Close() error {
	return c.conn.Close()
}
