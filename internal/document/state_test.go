package document

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	statuses := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	events := []Event{EventClaim, EventSucceed, EventFail}
	allowed := map[Status]map[Event]Status{
		StatusPending:    {EventClaim: StatusProcessing},
		StatusProcessing: {EventSucceed: StatusCompleted, EventFail: StatusFailed},
	}

	for _, st := range statuses {
		for _, ev := range events {
			got, err := Transition(st, ev)
			want, ok := allowed[st][ev]
			if ok {
				require.NoError(t, err, "%s on %s", ev, st)
				assert.Equal(t, want, got)
				continue
			}
			require.Error(t, err, "%s on %s", ev, st)
			assert.True(t, errors.Is(err, ErrIllegalTransition))
			assert.Equal(t, st, got, "rejected transition must not change status")
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestValidate(t *testing.T) {
	now := time.Now()
	d := New("id-1", "notes.pdf", "/tmp/notes.pdf", ContentTypePDF, now)
	require.NoError(t, d.Validate())

	d.Status = StatusCompleted
	assert.ErrorIs(t, d.Validate(), ErrInvariant)
	d.RawText = Ptr("raw")
	d.FormattedText = Ptr("# raw")
	assert.NoError(t, d.Validate())

	f := New("id-2", "x.pdf", "/tmp/x.pdf", ContentTypePDF, now)
	f.Status = StatusFailed
	assert.ErrorIs(t, f.Validate(), ErrInvariant)
	f.ErrorMessage = Ptr("boom")
	assert.NoError(t, f.Validate())

	o := New("id-3", "x.pdf", "/tmp/x.pdf", ContentTypePDF, now)
	o.FormattedText = Ptr("orphan")
	assert.ErrorIs(t, o.Validate(), ErrInvariant)
}

func TestCheckUpdate(t *testing.T) {
	now := time.Now()
	prev := New("id", "a.pdf", "/a.pdf", ContentTypePDF, now)
	prev.Status = StatusProcessing
	prev.RawText = Ptr("first")

	next := prev
	next.RawText = Ptr("second")
	assert.ErrorIs(t, CheckUpdate(prev, next), ErrInvariant, "raw text overwrite")

	next = prev
	next.Status = StatusPending
	assert.ErrorIs(t, CheckUpdate(prev, next), ErrInvariant, "status regression")

	next = prev
	next.SourcePath = "/b.pdf"
	assert.ErrorIs(t, CheckUpdate(prev, next), ErrInvariant, "immutable field")

	next = prev
	next.Status = StatusCompleted
	next.FormattedText = Ptr("# first")
	assert.NoError(t, CheckUpdate(prev, next))

	done := next
	again := done
	again.Status = StatusFailed
	again.ErrorMessage = Ptr("late")
	assert.ErrorIs(t, CheckUpdate(done, again), ErrInvariant, "terminal status changed")
}
