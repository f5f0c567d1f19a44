// Package scheduler decides which governor should run each ready task. It
// is deliberately a pure function of graph state — no goroutines, no
// timers, no I/O — invoked from the server reactor on submission, task
// finish, object finish, and governor join/loss, never on a schedule.
// Rain has no periodic triggers, so this is purely the decide-and-dispatch
// half of a scheduler, with no cron-style job driver behind it.
package scheduler

import (
	"hash/fnv"
	"sort"

	"github.com/rain-io/rain/server/internal/graph"
	"github.com/rain-io/rain/shared"
)

// Decision assigns one ready task to one governor.
type Decision struct {
	Task     shared.TaskID
	Governor shared.GovernorID
}

// Policy picks a governor for each ready task, given the current graph and
// the set of connected governors. Implementations must be deterministic
// for a fixed graph snapshot so re-running Schedule after an unrelated
// event does not thrash already-placed tasks.
type Policy interface {
	Choose(g *graph.Graph, task *graph.Task, governors []*graph.GovernorRecord) (shared.GovernorID, bool)
}

// Schedule finds every task in graph.TaskReady state and asks policy to
// place it. Tasks the policy cannot place (no governor satisfies their
// resource requirements) are left Ready and retried on the next call —
// they are not an error by themselves; a caller may choose to surface
// shared.Scheduling after enough consecutive failed attempts.
func Schedule(g *graph.Graph, policy Policy) []Decision {
	governors := g.Governors()
	connected := make([]*graph.GovernorRecord, 0, len(governors))
	for _, r := range governors {
		if r.Connected {
			connected = append(connected, r)
		}
	}
	if len(connected) == 0 {
		return nil
	}

	var decisions []Decision
	for _, t := range g.Tasks() {
		if t.State != graph.TaskReady {
			continue
		}
		governorID, ok := policy.Choose(g, t, connected)
		if !ok {
			continue
		}
		decisions = append(decisions, Decision{Task: t.ID, Governor: governorID})
	}
	return decisions
}

// GreedyPolicy is the reference policy: for each
// candidate governor, compute
//
//	sum_of_missing_input_bytes(task, governor) - local_input_bytes(governor, task)
//
// and pick the governor that minimizes it, breaking ties by the lowest
// GovernorID. "Missing" means not yet Located at that governor; "local"
// means already Located there and so free to use. A governor whose
// FreeCPUs is below the task's requested CPUs is never a candidate.
type GreedyPolicy struct{}

func (GreedyPolicy) Choose(g *graph.Graph, task *graph.Task, governors []*graph.GovernorRecord) (shared.GovernorID, bool) {
	type candidate struct {
		id    shared.GovernorID
		score int64
	}
	var candidates []candidate

	for _, rec := range governors {
		if rec.FreeCPUs < task.Spec.Resources.CPUs {
			continue
		}
		var missing, local int64
		for _, inputID := range task.Inputs {
			obj, ok := g.Object(inputID)
			if !ok {
				continue
			}
			if _, here := obj.Located[rec.ID]; here {
				local += obj.Size
			} else {
				missing += obj.Size
			}
		}
		candidates = append(candidates, candidate{id: rec.ID, score: missing - local})
	}

	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	return candidates[0].id, true
}

// RandomPolicy is the baseline policy used in tests and bring-up: it picks
// deterministically among CPU-satisfying governors via
// hash(task.id) mod len(governors), so repeated calls on an unchanged
// graph are stable without needing real randomness.
type RandomPolicy struct{}

func (RandomPolicy) Choose(_ *graph.Graph, task *graph.Task, governors []*graph.GovernorRecord) (shared.GovernorID, bool) {
	var eligible []shared.GovernorID
	for _, rec := range governors {
		if rec.FreeCPUs >= task.Spec.Resources.CPUs {
			eligible = append(eligible, rec.ID)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i] < eligible[j] })

	h := fnv.New64a()
	_, _ = h.Write([]byte(task.ID.String()))
	idx := h.Sum64() % uint64(len(eligible))
	return eligible[idx], true
}
