package reports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =====================================================
// Enums and Constants
// =====================================================

// QueryName identifies a named query in the analytics backend
type QueryName string

const (
	QueryUnansweredByQueue   QueryName = "unanswered-by-queue"
	QueryUnansweredByDID     QueryName = "unanswered-by-did"
	QueryDistributionByQueue QueryName = "distribution-by-queue"
	QueryDistributionByDID   QueryName = "distribution-by-did"
	QueryDistributionByHour  QueryName = "distribution-by-hour"
	QueryAnsweredByAgent     QueryName = "answered-by-agent"

	QueryAnsweredDrilldown     QueryName = "answered-drilldown"
	QueryUnansweredDrilldown   QueryName = "unanswered-drilldown"
	QueryDistributionDrilldown QueryName = "distribution-drilldown"
)

// FilterKey is a queryable dimension
type FilterKey string

const (
	FilterQueue   FilterKey = "queue"
	FilterDID     FilterKey = "did"
	FilterAgent   FilterKey = "agent"
	FilterChannel FilterKey = "channel"
	FilterMethod  FilterKey = "initiation_method"
)

// AllValues is the sentinel meaning "no constraint on this dimension"
const AllValues = "ALL"

// QueryStatus represents the lifecycle of a query result
type QueryStatus string

const (
	QueryStatusPending   QueryStatus = "PENDING"
	QueryStatusSucceeded QueryStatus = "SUCCEEDED"
	QueryStatusFailed    QueryStatus = "FAILED"
)

// LoadState is the state of a view as seen by callers
type LoadState string

const (
	LoadStateNotLoaded LoadState = "not_loaded"
	LoadStateLoading   LoadState = "loading"
	LoadStateLoaded    LoadState = "loaded"
	LoadStateFailed    LoadState = "failed"
)

// DrilldownColumns is the fixed column order used for drilldown exports.
var DrilldownColumns = []string{
	"contact_id",
	"contact_date",
	"agent_name",
	"queue_name",
	"customer_number",
	"did",
	"channel",
	"initiation_method",
	"interaction_status",
	"ring_time",
	"wait_time",
	"talk_time",
}

// =====================================================
// Date Range
// =====================================================

// BoundaryLayout is the wire encoding of a query boundary
const BoundaryLayout = "2006-01-02 15:04:05.000"

// DateRange is an inclusive [Start, End] pair of calendar days
type DateRange struct {
	start time.Time
	end   time.Time
}

// NewDateRange creates a date range; start must not be after end once both
// are truncated to their calendar day.
func NewDateRange(start, end time.Time) (DateRange, error) {
	s := startOfDay(start)
	e := startOfDay(end.In(start.Location()))
	if s.After(e) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s",
			ErrInvalidDateRange, s.Format("2006-01-02"), e.Format("2006-01-02"))
	}
	return DateRange{start: start, end: end.In(start.Location())}, nil
}

// MustDateRange is NewDateRange for constant inputs
func MustDateRange(start, end time.Time) DateRange {
	r, err := NewDateRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// LastNDays returns the range from n days before now through now
func LastNDays(n int, now time.Time) DateRange {
	return DateRange{start: now.AddDate(0, 0, -n), end: now}
}

// Today returns the range covering the current calendar day
func Today(now time.Time) DateRange {
	return DateRange{start: startOfDay(now), end: now}
}

// Start returns the start date
func (r DateRange) Start() time.Time { return r.start }

// End returns the end date
func (r DateRange) End() time.Time { return r.end }

// IsZero reports whether the range was never set
func (r DateRange) IsZero() bool { return r.start.IsZero() && r.end.IsZero() }

// SingleDay collapses the range onto its start day
func (r DateRange) SingleDay() DateRange {
	return DateRange{start: r.start, end: r.start}
}

// Boundaries returns the start and end tokens sent to the backend. The end
// token is always the last instant of the end day so that "today" covers the
// whole day.
func (r DateRange) Boundaries() (string, string) {
	return startOfDay(r.start).Format(BoundaryLayout), endOfDay(r.end).Format(BoundaryLayout)
}

// Equal compares two ranges by their boundaries
func (r DateRange) Equal(other DateRange) bool {
	s1, e1 := r.Boundaries()
	s2, e2 := other.Boundaries()
	return s1 == s2 && e1 == e2
}

// String formats the range for titles and logs
func (r DateRange) String() string {
	return fmt.Sprintf("%s to %s", r.start.Format("2006-01-02"), r.end.Format("2006-01-02"))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Millisecond)
}

// =====================================================
// Filter Set
// =====================================================

// FilterSet maps a dimension to its selected values. A missing key and a key
// holding the ALL sentinel both mean the dimension is unconstrained.
type FilterSet struct {
	values map[FilterKey][]string
}

// NewFilterSet builds a normalized filter set
func NewFilterSet(values map[FilterKey][]string) FilterSet {
	fs := FilterSet{values: make(map[FilterKey][]string, len(values))}
	for k, v := range values {
		fs.set(k, v)
	}
	return fs
}

// set stores a normalized copy of vals; only used while building a new set
func (f *FilterSet) set(key FilterKey, vals []string) {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.EqualFold(v, AllValues) {
			delete(f.values, key)
			return
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		delete(f.values, key)
		return
	}
	sort.Strings(out)
	f.values[key] = out
}

// Merge returns a new set where the keys of partial overwrite the receiver's
func (f FilterSet) Merge(partial map[FilterKey][]string) FilterSet {
	out := FilterSet{values: make(map[FilterKey][]string, len(f.values)+len(partial))}
	for k, v := range f.values {
		out.values[k] = v
	}
	for k, v := range partial {
		out.set(k, v)
	}
	return out
}

// Restrict returns a new set holding only the given keys
func (f FilterSet) Restrict(keys []FilterKey) FilterSet {
	out := FilterSet{values: make(map[FilterKey][]string)}
	for _, k := range keys {
		if v, ok := f.values[k]; ok {
			out.values[k] = v
		}
	}
	return out
}

// Values returns a copy of the selected values for key, nil when unconstrained
func (f FilterSet) Values(key FilterKey) []string {
	v, ok := f.values[key]
	if !ok {
		return nil
	}
	return append([]string(nil), v...)
}

// Constrained reports whether key narrows the query
func (f FilterSet) Constrained(key FilterKey) bool {
	_, ok := f.values[key]
	return ok
}

// Keys returns the constrained dimensions in sorted order
func (f FilterSet) Keys() []FilterKey {
	keys := make([]FilterKey, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of constrained dimensions
func (f FilterSet) Len() int { return len(f.values) }

// Map returns a copy suitable for adapters
func (f FilterSet) Map() map[FilterKey][]string {
	out := make(map[FilterKey][]string, len(f.values))
	for k, v := range f.values {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Key is a canonical encoding; equal sets produce equal keys
func (f FilterSet) Key() string {
	var b strings.Builder
	for i, k := range f.Keys() {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(string(k))
		b.WriteByte('=')
		b.WriteString(strings.Join(f.values[k], ","))
	}
	return b.String()
}

// Equal compares two sets by content
func (f FilterSet) Equal(other FilterSet) bool { return f.Key() == other.Key() }

// MarshalJSON encodes the set as an object of string arrays
func (f FilterSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Map())
}

// =====================================================
// Query Request / Result
// =====================================================

// QueryRequest is a value object; equal fields produce equal keys
type QueryRequest struct {
	QueryName QueryName `json:"query_name"`
	DateRange DateRange `json:"-"`
	Filters   FilterSet `json:"filters"`
}

// Key is the canonical cache key of the request
func (q QueryRequest) Key() string {
	start, end := q.DateRange.Boundaries()
	return fmt.Sprintf("%s|%s|%s|%s", q.QueryName, start, end, q.Filters.Key())
}

// Equal compares two requests by value
func (q QueryRequest) Equal(other QueryRequest) bool { return q.Key() == other.Key() }

// MarshalJSON adds the boundary tokens
func (q QueryRequest) MarshalJSON() ([]byte, error) {
	start, end := q.DateRange.Boundaries()
	return json.Marshal(struct {
		QueryName QueryName `json:"query_name"`
		Start     string    `json:"start"`
		End       string    `json:"end"`
		Filters   FilterSet `json:"filters"`
	}{q.QueryName, start, end, q.Filters})
}

// Row is an ordered mapping from column name to display string
type Row struct {
	columns []string
	values  map[string]string
}

// NewRow builds a row from alternating column/value pairs
func NewRow(pairs ...string) Row {
	r := Row{values: make(map[string]string, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		r = r.With(pairs[i], pairs[i+1])
	}
	return r
}

// RowFromRecord zips a header with a record; missing values become empty strings
func RowFromRecord(columns, record []string) Row {
	r := Row{columns: make([]string, 0, len(columns)), values: make(map[string]string, len(columns))}
	for i, col := range columns {
		val := ""
		if i < len(record) {
			val = record[i]
		}
		if _, ok := r.values[col]; !ok {
			r.columns = append(r.columns, col)
		}
		r.values[col] = val
	}
	return r
}

// With returns a copy of the row with column set to value
func (r Row) With(column, value string) Row {
	out := Row{
		columns: append([]string(nil), r.columns...),
		values:  make(map[string]string, len(r.values)+1),
	}
	for k, v := range r.values {
		out.values[k] = v
	}
	if _, ok := out.values[column]; !ok {
		out.columns = append(out.columns, column)
	}
	out.values[column] = value
	return out
}

// Get returns the value of column and whether it is present
func (r Row) Get(column string) (string, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Value returns the value of column or ""
func (r Row) Value(column string) string { return r.values[column] }

// Columns returns the row's columns in insertion order
func (r Row) Columns() []string { return append([]string(nil), r.columns...) }

// Len returns the number of columns
func (r Row) Len() int { return len(r.columns) }

// Equal compares rows by columns and values
func (r Row) Equal(other Row) bool {
	if len(r.columns) != len(other.columns) {
		return false
	}
	for i, c := range r.columns {
		if other.columns[i] != c || other.values[c] != r.values[c] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as an object preserving column order
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[c])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ColumnOrder returns the columns of rows in first-seen order
func ColumnOrder(rows []Row) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range rows {
		for _, c := range r.columns {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}
	return cols
}

// QueryResult is the outcome of a single query execution
type QueryResult struct {
	Status   QueryStatus `json:"status"`
	Columns  []string    `json:"columns,omitempty"`
	Rows     []Row       `json:"rows"`
	RowCount int         `json:"row_count"`
	Error    string      `json:"error,omitempty"`
}

// Succeeded builds a successful result
func Succeeded(columns []string, rows []Row) *QueryResult {
	if columns == nil {
		columns = ColumnOrder(rows)
	}
	if rows == nil {
		rows = []Row{}
	}
	return &QueryResult{
		Status:   QueryStatusSucceeded,
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}
}

// Failed builds a failed result
func Failed(err error) *QueryResult {
	msg := "Unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &QueryResult{Status: QueryStatusFailed, Rows: []Row{}, Error: msg}
}

// settle turns a missing or non-terminal result into a failure so a view
// never stays loading after its response has arrived
func settle(result *QueryResult) *QueryResult {
	switch {
	case result == nil:
		return Failed(nil)
	case result.Status == QueryStatusSucceeded, result.Status == QueryStatusFailed:
		return result
	default:
		return Failed(fmt.Errorf("query returned a non-terminal status %q", result.Status))
	}
}

// Empty reports a successful result with no rows
func (r *QueryResult) Empty() bool {
	return r != nil && r.Status == QueryStatusSucceeded && len(r.Rows) == 0
}

// =====================================================
// Views and Snapshots
// =====================================================

// ViewID names an aggregation view (tab)
type ViewID string

const (
	ViewByQueue ViewID = "queue"
	ViewByDID   ViewID = "did"
	ViewByHour  ViewID = "hour"
	ViewByAgent ViewID = "agent"
)

// ViewState is owned and mutated only by the ViewStore
type ViewState struct {
	ViewID        ViewID
	Request       *QueryRequest
	Result        *QueryResult
	RequestSerial uint64
}

// State derives the caller-facing load state
func (v *ViewState) State() LoadState {
	switch {
	case v == nil || v.Request == nil:
		return LoadStateNotLoaded
	case v.Result == nil || v.Result.Status == QueryStatusPending:
		return LoadStateLoading
	case v.Result.Status == QueryStatusFailed:
		return LoadStateFailed
	default:
		return LoadStateLoaded
	}
}

// ViewSnapshot is an immutable copy of a view handed to the presentation layer
type ViewSnapshot struct {
	ViewID   ViewID        `json:"view_id"`
	Title    string        `json:"title"`
	State    LoadState     `json:"state"`
	Request  *QueryRequest `json:"request,omitempty"`
	Columns  []string      `json:"columns,omitempty"`
	Rows     []Row         `json:"rows"`
	RowCount int           `json:"row_count"`
	Empty    bool          `json:"empty"`
	Error    string        `json:"error,omitempty"`
	Serial   uint64        `json:"serial"`

	searchColumns []string
}

// Search returns a copy of the snapshot holding only rows where one of the
// view's search columns contains term, case-insensitively.
func (s ViewSnapshot) Search(term string) ViewSnapshot {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || len(s.searchColumns) == 0 {
		return s
	}
	out := s
	out.Rows = make([]Row, 0, len(s.Rows))
	for _, r := range s.Rows {
		for _, c := range s.searchColumns {
			if strings.Contains(strings.ToLower(r.Value(c)), term) {
				out.Rows = append(out.Rows, r)
				break
			}
		}
	}
	out.RowCount = len(out.Rows)
	return out
}

// DrilldownScope captures the clicked aggregate row and its narrowing
type DrilldownScope struct {
	ParentRow      Row          `json:"parent_row"`
	ParentView     ViewID       `json:"parent_view"`
	DerivedFilters FilterSet    `json:"derived_filters"`
	Request        QueryRequest `json:"request"`
	Title          string       `json:"title"`
	Serial         uint64       `json:"serial"`
}

// DrilldownSnapshot is the presentation copy of the active drilldown
type DrilldownSnapshot struct {
	Open     bool            `json:"open"`
	Scope    *DrilldownScope `json:"scope,omitempty"`
	State    LoadState       `json:"state"`
	Columns  []string        `json:"columns,omitempty"`
	Rows     []Row           `json:"rows"`
	RowCount int             `json:"row_count"`
	Empty    bool            `json:"empty"`
	Error    string          `json:"error,omitempty"`
}

// SessionSnapshot is the full state of a report session
type SessionSnapshot struct {
	SessionID  string                  `json:"session_id"`
	Page       PageID                  `json:"page"`
	ActiveView ViewID                  `json:"active_view"`
	Start      string                  `json:"start"`
	End        string                  `json:"end"`
	Filters    FilterSet               `json:"filters"`
	Views      map[ViewID]ViewSnapshot `json:"views"`
	Drilldown  DrilldownSnapshot       `json:"drilldown"`
}
