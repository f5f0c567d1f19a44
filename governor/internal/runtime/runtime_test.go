package runtime

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/rain-io/rain/governor/internal/fetch"
	"github.com/rain-io/rain/shared"
	"go.uber.org/zap"
)

type fakeReporter struct {
	failed []shared.TaskID
}

func (f *fakeReporter) TaskFinished(shared.TaskID, map[shared.DataObjectID]int64) {}
func (f *fakeReporter) TaskFailed(task shared.TaskID, err *shared.Error) {
	f.failed = append(f.failed, task)
}
func (f *fakeReporter) ObjectFinished(shared.DataObjectID, int64) {}

func TestHandleInputFetchFailedEscalatesAfterMaxRetries(t *testing.T) {
	reporter := &fakeReporter{}
	fetcher := fetch.NewClient(func(ctx context.Context, peer shared.GovernorID) (net.Conn, error) {
		return nil, fmt.Errorf("dial refused")
	})
	r := New(zap.NewNop(), "self:9000", 4, nil, nil, fetcher, nil, reporter)

	task := shared.TaskID{Session: 1, Ordinal: 0}
	object := shared.DataObjectID{Session: 1, Ordinal: 0}
	r.taskSet[task] = &localTask{
		id:            task,
		waiting:       map[shared.DataObjectID]struct{}{object: {}},
		fetchAttempts: make(map[shared.DataObjectID]int),
	}
	r.objects[object] = &localObject{peers: []shared.GovernorID{"peer-a:9000"}}

	for i := 0; i < fetch.MaxRetries-1; i++ {
		r.handleInputFetchFailed(task, object, fmt.Errorf("transient"))
		if len(reporter.failed) != 0 {
			t.Fatalf("task escalated early on attempt %d", i+1)
		}
	}

	r.handleInputFetchFailed(task, object, fmt.Errorf("transient"))
	if len(reporter.failed) != 1 || reporter.failed[0] != task {
		t.Fatalf("expected task to fail after exhausting alternate-peer retries, got %v", reporter.failed)
	}
}

func TestHandleInputFetchFailedFailsImmediatelyWithNoPeers(t *testing.T) {
	reporter := &fakeReporter{}
	fetcher := fetch.NewClient(nil)
	r := New(zap.NewNop(), "self:9000", 4, nil, nil, fetcher, nil, reporter)

	task := shared.TaskID{Session: 1, Ordinal: 0}
	object := shared.DataObjectID{Session: 1, Ordinal: 0}
	r.taskSet[task] = &localTask{
		id:            task,
		waiting:       map[shared.DataObjectID]struct{}{object: {}},
		fetchAttempts: make(map[shared.DataObjectID]int),
	}
	r.objects[object] = &localObject{}

	r.handleInputFetchFailed(task, object, fmt.Errorf("no locations"))

	if len(reporter.failed) != 1 || reporter.failed[0] != task {
		t.Fatalf("expected immediate task failure with no located peers, got %v", reporter.failed)
	}
}
