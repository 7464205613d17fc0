package taskstore

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agenthost/internal/ids"
)

func taskWithID(id string) Task {
	return Task{ID: ids.TaskId(id), Status: Status{State: "submitted"}}
}

func TestUpsertReturnsPreviousValue(t *testing.T) {
	s := New()
	assert.Nil(t, s.Upsert(taskWithID("t1")))

	prev := taskWithID("t1")
	prev.Status.State = "working"
	old := s.Upsert(prev)
	require.NotNil(t, old)
	assert.Equal(t, "submitted", old.Status.State)

	got := s.Get(ids.TaskId("t1"), nil)
	require.NotNil(t, got)
	assert.Equal(t, "working", got.Status.State)
}

func TestGetReturnsNilForAbsentTask(t *testing.T) {
	s := New()
	assert.Nil(t, s.Get(ids.TaskId("missing"), nil))
}

// TestHistoryTruncationBoundary: history_length=0
// clears history, history_length>|history| returns all, nil/negative
// returns all.
func TestHistoryTruncationBoundary(t *testing.T) {
	s := New()
	s.Upsert(taskWithID("t1"))
	for i := 0; i < 5; i++ {
		msg := Message{MessageID: ids.MessageId(fmt.Sprintf("m%d", i)), TaskID: taskIDPtr("t1")}
		s.InsertMessage(msg)
	}

	zero := 0
	got := s.Get("t1", &zero)
	assert.Empty(t, got.History)

	ten := 10
	got = s.Get("t1", &ten)
	assert.Len(t, got.History, 5)

	got = s.Get("t1", nil)
	assert.Len(t, got.History, 5)

	negative := -1
	got = s.Get("t1", &negative)
	assert.Len(t, got.History, 5)
}

// TestHistoryTruncationKeepsLastK: retrieval with
// history_length=K returns the last K messages in insertion order.
func TestHistoryTruncationKeepsLastK(t *testing.T) {
	s := New()
	s.Upsert(taskWithID("t1"))
	for i := 0; i < 5; i++ {
		s.InsertMessage(Message{MessageID: ids.MessageId(fmt.Sprintf("m%d", i)), TaskID: taskIDPtr("t1")})
	}

	three := 3
	got := s.Get("t1", &three)
	require.Len(t, got.History, 3)
	assert.Equal(t, ids.MessageId("m2"), got.History[0].MessageID)
	assert.Equal(t, ids.MessageId("m3"), got.History[1].MessageID)
	assert.Equal(t, ids.MessageId("m4"), got.History[2].MessageID)
}

func TestInsertMessageNoOpWhenTaskUnresolved(t *testing.T) {
	s := New()
	s.InsertMessage(Message{MessageID: ids.MessageId("m1"), TaskID: taskIDPtr("missing")})
	assert.Nil(t, s.Get("missing", nil))
}

func TestCancelSetsStateAndNoOpsForAbsentTask(t *testing.T) {
	s := New()
	assert.Nil(t, s.Cancel("missing"))

	s.Upsert(taskWithID("t1"))
	got := s.Cancel("t1")
	require.NotNil(t, got)
	assert.Equal(t, "cancelled", got.Status.State)
}

func TestDrainUpdatesClearsQueue(t *testing.T) {
	s := New()
	s.Upsert(taskWithID("t1"))
	s.RecordStatusUpdate("t1", nil, Status{State: "working"})
	s.RecordArtifactUpdate("t1", nil, Artifact{})

	updates := s.DrainUpdates("t1")
	require.Len(t, updates, 2)
	assert.Equal(t, UpdateStatus, updates[0].Kind)
	assert.Equal(t, UpdateArtifact, updates[1].Kind)

	assert.Empty(t, s.DrainUpdates("t1"))
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	s := NewWithQueueCapacity(2)
	s.Upsert(taskWithID("t1"))
	s.RecordStatusUpdate("t1", nil, Status{State: "s1"})
	s.RecordStatusUpdate("t1", nil, Status{State: "s2"})
	s.RecordStatusUpdate("t1", nil, Status{State: "s3"})

	updates := s.DrainUpdates("t1")
	require.Len(t, updates, 2)
	assert.Equal(t, "s2", updates[0].Status.State)
	assert.Equal(t, "s3", updates[1].Status.State)
}

// TestListVisitsEachTaskExactlyOnce: List with a
// fixed filter and a walked page_token chain visits each task exactly
// once, in order[] order.
func TestListVisitsEachTaskExactlyOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("paginated List walk covers order[] exactly once", prop.ForAll(
		func(n, pageSize int) bool {
			s := New()
			var want []ids.TaskId
			for i := 0; i < n; i++ {
				id := ids.TaskId(fmt.Sprintf("task-%d", i))
				s.Upsert(Task{ID: id, Status: Status{State: "submitted"}})
				want = append(want, id)
			}

			var seen []ids.TaskId
			token := ""
			for i := 0; i < n+1; i++ {
				page := s.List(ListFilter{PageSize: pageSize, PageToken: token})
				for _, tk := range page.Tasks {
					seen = append(seen, tk.ID)
				}
				if page.NextPageToken == "" {
					break
				}
				token = page.NextPageToken
			}

			if len(seen) != len(want) {
				return false
			}
			for i := range want {
				if seen[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func taskIDPtr(s string) *ids.TaskId {
	id := ids.TaskId(s)
	return &id
}
