// Package task is the executor SDK: the library a rain-task-* binary links
// against to receive Calls from a governor and answer them with Results,
// over the executor protocol. It mirrors the governor's own executorproto
// package from the other side of the same socket.
package task

import (
	"context"

	"github.com/rain-io/rain/shared"
)

// Context is passed to every task function. It carries a Go context and the
// task's identity for logging. The Go context is context.Background(): it
// is not cancelled, even if the governor closes the socket mid-call.
type Context struct {
	ctx  context.Context
	task shared.TaskID
}

// Ctx returns the underlying context.Context, which is never cancelled.
func (c *Context) Ctx() context.Context { return c.ctx }

// Task returns the identity of the task currently being executed.
func (c *Context) Task() shared.TaskID { return c.task }
