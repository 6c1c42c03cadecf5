package reports

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDrilldown(t *testing.T, pageID PageID) (*DrilldownController, *recordingNotifier) {
	t.Helper()
	page, err := LookupPage(pageID)
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	return NewDrilldownController(page, notifier, NewMetrics(prometheus.NewRegistry()), zap.NewNop()), notifier
}

// matrixRow is a queue-matrix by-queue row, grouped by queue, channel and
// initiation method
func matrixRow(id, name string) Row {
	return NewRow("queue_id", id, "queue_name", name, "channel", "VOICE", "initiation_method", "INBOUND", "received", "42")
}

func TestDeriveFiltersNarrowsToRowKey(t *testing.T) {
	drill, _ := newTestDrilldown(t, PageMissedCalls)

	row := NewRow("queue_id", "q-42", "queue_name", "Sales", "total", "17")
	derived, _, err := drill.DeriveFilters(row, ViewByQueue)
	require.NoError(t, err)
	assert.Equal(t, []FilterKey{FilterQueue}, derived.Keys())
	assert.Equal(t, []string{"q-42"}, derived.Values(FilterQueue))

	drill, _ = newTestDrilldown(t, PageQueueMatrix)

	row = NewRow("did", "+15550100", "total", "3")
	derived, _, err = drill.DeriveFilters(row, ViewByDID)
	require.NoError(t, err)
	assert.Equal(t, []string{"+15550100"}, derived.Values(FilterDID))
}

func TestDeriveFiltersCoversEveryGroupingColumn(t *testing.T) {
	drill, _ := newTestDrilldown(t, PageQueueMatrix)

	derived, _, err := drill.DeriveFilters(matrixRow("SALES", "Sales"), ViewByQueue)
	require.NoError(t, err)
	assert.Equal(t, []FilterKey{FilterChannel, FilterMethod, FilterQueue}, derived.Keys())
	assert.Equal(t, []string{"SALES"}, derived.Values(FilterQueue))
	assert.Equal(t, []string{"VOICE"}, derived.Values(FilterChannel))
	assert.Equal(t, []string{"INBOUND"}, derived.Values(FilterMethod))

	// A by-queue row without its channel split cannot be narrowed exactly
	_, _, err = drill.DeriveFilters(NewRow("queue_id", "SALES", "queue_name", "Sales"), ViewByQueue)
	assert.ErrorIs(t, err, ErrMissingRowKey)
}

func TestDeriveFiltersErrors(t *testing.T) {
	drill, _ := newTestDrilldown(t, PageQueueMatrix)

	_, _, err := drill.DeriveFilters(NewRow("hour", "09"), ViewByHour)
	assert.ErrorIs(t, err, ErrNotDrillable)

	_, _, err = drill.DeriveFilters(NewRow("queue_name", "Sales"), ViewByQueue)
	assert.ErrorIs(t, err, ErrMissingRowKey)

	_, _, err = drill.DeriveFilters(NewRow("queue_id", "ALL"), ViewByQueue)
	assert.ErrorIs(t, err, ErrMissingRowKey)

	_, _, err = drill.DeriveFilters(NewRow("agent_id", "a1"), ViewByAgent)
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestDrilldownOpen(t *testing.T) {
	drill, _ := newTestDrilldown(t, PageAgentPerformance)
	rng := MustDateRange(day(2024, 1, 1), day(2024, 1, 31))

	ticket, err := drill.Open(NewRow("agent_id", "a-7", "agent_name", "Dana"), ViewByAgent, rng)
	require.NoError(t, err)
	assert.Equal(t, TargetDrilldown, ticket.Target)
	assert.Equal(t, QueryAnsweredDrilldown, ticket.Request.QueryName)
	assert.True(t, ticket.Request.DateRange.Equal(rng))
	assert.Equal(t, []string{"a-7"}, ticket.Request.Filters.Values(FilterAgent))

	scope := drill.Scope()
	require.NotNil(t, scope)
	assert.Equal(t, "Dana's Calls", scope.Title)
	assert.Equal(t, ViewByAgent, scope.ParentView)

	snap := drill.Snapshot()
	assert.True(t, snap.Open)
	assert.Equal(t, LoadStateLoading, snap.State)
}

func TestDrilldownTitleFallsBackToKey(t *testing.T) {
	drill, _ := newTestDrilldown(t, PageMissedCalls)
	_, err := drill.Open(NewRow("queue_id", "q-9", "queue_name", " "), ViewByQueue, MustDateRange(day(2024, 1, 1), day(2024, 1, 2)))
	require.NoError(t, err)
	assert.Equal(t, "Missed Calls - q-9", drill.Scope().Title)
}

func TestDrilldownOpenFailureKeepsScope(t *testing.T) {
	drill, _ := newTestDrilldown(t, PageQueueMatrix)
	rng := MustDateRange(day(2024, 1, 1), day(2024, 1, 2))

	ticket, err := drill.Open(matrixRow("q1", "Sales"), ViewByQueue, rng)
	require.NoError(t, err)

	_, err = drill.Open(NewRow("hour", "10"), ViewByHour, rng)
	assert.ErrorIs(t, err, ErrNotDrillable)

	scope := drill.Scope()
	require.NotNil(t, scope)
	assert.Equal(t, ticket.Serial, scope.Serial)
	assert.Equal(t, []string{"q1"}, scope.DerivedFilters.Values(FilterQueue))
}

func TestDrilldownReopenSupersedes(t *testing.T) {
	drill, _ := newTestDrilldown(t, PageQueueMatrix)
	rng := MustDateRange(day(2024, 1, 1), day(2024, 1, 2))

	first, _ := drill.Open(matrixRow("q1", "Sales"), ViewByQueue, rng)
	second, _ := drill.Open(matrixRow("q2", "Support"), ViewByQueue, rng)

	assert.False(t, drill.OnResult(first.Serial, Succeeded(nil, []Row{NewRow("contact_id", "c1")})))
	assert.True(t, drill.OnResult(second.Serial, Succeeded(nil, []Row{NewRow("contact_id", "c2")})))

	snap := drill.Snapshot()
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "c2", snap.Rows[0].Value("contact_id"))
}

func TestDrilldownResultAfterCloseIsDiscarded(t *testing.T) {
	drill, notifier := newTestDrilldown(t, PageQueueMatrix)
	ticket, _ := drill.Open(matrixRow("q1", "Sales"), ViewByQueue, MustDateRange(day(2024, 1, 1), day(2024, 1, 2)))

	drill.Close()
	assert.Nil(t, drill.Scope())

	assert.False(t, drill.OnResult(ticket.Serial, Failed(errors.New("late failure"))))
	assert.False(t, drill.Snapshot().Open)
	assert.Empty(t, notifier.All())

	// Closing twice is harmless
	drill.Close()
}

func TestDrilldownFailureNotifies(t *testing.T) {
	drill, notifier := newTestDrilldown(t, PageAgentPerformance)
	ticket, _ := drill.Open(NewRow("agent_id", "a1"), ViewByAgent, MustDateRange(day(2024, 1, 1), day(2024, 1, 2)))

	assert.True(t, drill.OnResult(ticket.Serial, Failed(errors.New("access denied"))))

	snap := drill.Snapshot()
	assert.Equal(t, LoadStateFailed, snap.State)
	assert.Equal(t, "access denied", snap.Error)

	notes := notifier.All()
	require.Len(t, notes, 1)
	assert.Equal(t, NotificationError, notes[0].Kind)
	assert.Equal(t, "Failed to load agent details", notes[0].Title)
}

func TestDrilldownSuccessIsSilent(t *testing.T) {
	drill, notifier := newTestDrilldown(t, PageMissedCalls)
	ticket, _ := drill.Open(NewRow("did", "+15550100"), ViewByDID, MustDateRange(day(2024, 1, 1), day(2024, 1, 2)))

	assert.True(t, drill.OnResult(ticket.Serial, Succeeded(DrilldownColumns, nil)))
	snap := drill.Snapshot()
	assert.Equal(t, LoadStateLoaded, snap.State)
	assert.True(t, snap.Empty)
	assert.Empty(t, notifier.All())
}

func TestDrilldownPendingResultFails(t *testing.T) {
	drill, notifier := newTestDrilldown(t, PageAgentPerformance)
	ticket, _ := drill.Open(NewRow("agent_id", "a1"), ViewByAgent, MustDateRange(day(2024, 1, 1), day(2024, 1, 2)))

	assert.True(t, drill.OnResult(ticket.Serial, &QueryResult{Status: QueryStatusPending}))
	assert.Equal(t, LoadStateFailed, drill.Snapshot().State)
	require.Len(t, notifier.All(), 1)
	assert.Equal(t, NotificationError, notifier.All()[0].Kind)
}
