// Package serverconn owns the governor's single long-lived connection to
// the server (the GovernorUpstream channel): registration, periodic
// heartbeats with live resource stats, the inbound Assignment stream, and
// outbound StateReports, reconnecting with backoff if the
// server connection drops.
package serverconn

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// HeartbeatInterval is how often the governor reports CPU/mem stats.
const HeartbeatInterval = 5 * time.Second

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Handler receives frames pushed by the server on the upstream connection.
type Handler interface {
	Assignment(wire.Assignment)
}

// Conn manages the governor's connection lifecycle: Run blocks, dialing and
// redialing serverAddr until ctx is cancelled.
type Conn struct {
	log        *zap.Logger
	serverAddr string
	governorID shared.GovernorID
	resources  shared.Resources
	handler    Handler
	freeCPUs   func() int

	reportsMu sync.Mutex
	wc        *wire.Conn
}

// New creates a Conn. freeCPUs is polled at each heartbeat to report live
// scheduling headroom distinct from the static Resources advertised at
// registration.
func New(log *zap.Logger, serverAddr string, governorID shared.GovernorID, resources shared.Resources, handler Handler, freeCPUs func() int) *Conn {
	return &Conn{
		log:        log.Named("serverconn"),
		serverAddr: serverAddr,
		governorID: governorID,
		resources:  resources,
		handler:    handler,
		freeCPUs:   freeCPUs,
	}
}

// Run connects, registers, and serves the upstream connection until ctx is
// cancelled, reconnecting with jittered exponential backoff on failure.
func (c *Conn) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil {
			c.log.Warn("server connection failed, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
	}
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d/2+1)))
}

func (c *Conn) runOnce(ctx context.Context) error {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", c.serverAddr)
	if err != nil {
		return fmt.Errorf("dial server %s: %w", c.serverAddr, err)
	}
	defer raw.Close()

	wc := wire.NewConn(raw)
	if err := wc.WriteMagic(); err != nil {
		return fmt.Errorf("send magic: %w", err)
	}
	reg := wire.GovernorRegister{GovernorID: c.governorID, Resources: c.resources}
	if err := wc.WriteFrame(&wire.NodeFrame{Kind: wire.NodeFrameGovernorRegister, GovernorRegister: &reg}); err != nil {
		return fmt.Errorf("send governor_register: %w", err)
	}

	c.reportsMu.Lock()
	c.wc = wc
	c.reportsMu.Unlock()
	defer func() {
		c.reportsMu.Lock()
		c.wc = nil
		c.reportsMu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go c.heartbeatLoop(ctx, errCh)
	go c.readLoop(wc, errCh)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendHeartbeat(); err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
		}
	}
}

func (c *Conn) sendHeartbeat() error {
	cpuPct := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	memPct := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}

	hb := wire.Heartbeat{
		Governor:   c.governorID,
		FreeCPUs:   c.freeCPUs(),
		CPUPercent: cpuPct,
		MemPercent: memPct,
	}
	return c.send(&wire.NodeFrame{Kind: wire.NodeFrameHeartbeat, Heartbeat: &hb})
}

// ReportState sends a StateReport frame to the server, from whichever
// goroutine observed the state change.
func (c *Conn) ReportState(report wire.StateReport) error {
	return c.send(&wire.NodeFrame{Kind: wire.NodeFrameStateReport, StateReport: &report})
}

func (c *Conn) send(f *wire.NodeFrame) error {
	c.reportsMu.Lock()
	defer c.reportsMu.Unlock()
	if c.wc == nil {
		return fmt.Errorf("not connected to server")
	}
	return c.wc.WriteFrame(f)
}

func (c *Conn) readLoop(wc *wire.Conn, errCh chan<- error) {
	for {
		var frame wire.NodeFrame
		if err := wc.ReadFrame(&frame); err != nil {
			select {
			case errCh <- fmt.Errorf("read from server: %w", err):
			default:
			}
			return
		}
		if frame.Kind == wire.NodeFrameAssignment && frame.Assignment != nil {
			c.handler.Assignment(*frame.Assignment)
		}
	}
}

