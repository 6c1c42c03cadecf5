package reports

import "fmt"

// PageID identifies a report screen
type PageID string

const (
	PageMissedCalls      PageID = "missed-calls"
	PageQueueMatrix      PageID = "queue-matrix"
	PageAgentPerformance PageID = "agent-performance"
)

// DrilldownBinding maps a filter dimension to the row column holding its key
type DrilldownBinding struct {
	Filter FilterKey `json:"filter"`
	Column string    `json:"column"`
}

// ViewConfig describes one aggregation view of a page
type ViewConfig struct {
	ID    ViewID    `json:"id"`
	Label string    `json:"label"`
	Query QueryName `json:"query"`

	// DataLabel, FailureLabel and Noun shape the load notifications:
	// "<DataLabel> loaded successfully", "Showing 3 <Noun>s",
	// "Failed to load <FailureLabel> data".
	DataLabel    string `json:"-"`
	FailureLabel string `json:"-"`
	Noun         string `json:"-"`

	// Filters lists the page filters this view forwards to its query.
	Filters []FilterKey `json:"filters,omitempty"`

	// SingleDay restricts the query to the start day of the page range.
	SingleDay bool `json:"single_day,omitempty"`

	SearchColumns []string `json:"search_columns,omitempty"`

	// Drilldown is empty for views whose rows cannot be drilled into.
	Drilldown []DrilldownBinding `json:"drilldown,omitempty"`

	// LabelColumn names the row column used in drilldown titles; the first
	// bound key column is used when the label is blank.
	LabelColumn string `json:"label_column,omitempty"`
}

// Drillable reports whether rows of the view can be drilled into
func (v ViewConfig) Drillable() bool { return len(v.Drilldown) > 0 }

// PageConfig parameterizes a ViewStore and DrilldownController pair
type PageConfig struct {
	ID             PageID       `json:"id"`
	Title          string       `json:"title"`
	Views          []ViewConfig `json:"views"`
	DefaultView    ViewID       `json:"default_view"`
	DrilldownQuery QueryName    `json:"drilldown_query"`

	// DrilldownTitle is a fmt pattern receiving the row label.
	DrilldownTitle string `json:"drilldown_title"`

	DrilldownFailure string `json:"-"`

	// DefaultFilters are applied on session start and on reset.
	DefaultFilters map[FilterKey][]string `json:"default_filters,omitempty"`

	// DefaultDays is the length of the default date range.
	DefaultDays int `json:"default_days"`
}

// View returns the configuration of a view
func (p *PageConfig) View(id ViewID) (ViewConfig, error) {
	for _, v := range p.Views {
		if v.ID == id {
			return v, nil
		}
	}
	return ViewConfig{}, fmt.Errorf("%w: %q on page %q", ErrUnknownView, id, p.ID)
}

// FormatDrilldownTitle renders the dialog title for a row label
func (p *PageConfig) FormatDrilldownTitle(label string) string {
	if p.DrilldownTitle == "" {
		return label
	}
	return fmt.Sprintf(p.DrilldownTitle, label)
}

var aggregateSearch = struct {
	queue, did, hour, agent []string
}{
	queue: []string{"queue_name", "queue_id"},
	did:   []string{"did"},
	hour:  []string{"hour"},
	agent: []string{"agent_name", "agent_id"},
}

// Pages is the catalog of report screens
var Pages = map[PageID]*PageConfig{
	PageMissedCalls: {
		ID:               PageMissedCalls,
		Title:            "Missed Calls Analysis",
		DefaultView:      ViewByQueue,
		DrilldownQuery:   QueryUnansweredDrilldown,
		DrilldownTitle:   "Missed Calls - %s",
		DrilldownFailure: "Failed to load contact details",
		DefaultDays:      30,
		Views: []ViewConfig{
			{
				ID:            ViewByQueue,
				Label:         "By Queue",
				DataLabel:     "Data",
				FailureLabel:  "queue",
				Noun:          "queue",
				Query:         QueryUnansweredByQueue,
				SearchColumns: aggregateSearch.queue,
				Drilldown:     []DrilldownBinding{{Filter: FilterQueue, Column: "queue_id"}},
				LabelColumn:   "queue_name",
			},
			{
				ID:            ViewByDID,
				Label:         "By Phone Number (DID)",
				DataLabel:     "DID data",
				FailureLabel:  "DID",
				Noun:          "phone number",
				Query:         QueryUnansweredByDID,
				SearchColumns: aggregateSearch.did,
				Drilldown:     []DrilldownBinding{{Filter: FilterDID, Column: "did"}},
				LabelColumn:   "did",
			},
		},
	},
	PageQueueMatrix: {
		ID:               PageQueueMatrix,
		Title:            "Queue Matrix",
		DefaultView:      ViewByQueue,
		DrilldownQuery:   QueryDistributionDrilldown,
		DrilldownTitle:   "Contact Details - %s",
		DrilldownFailure: "Failed to load contact details",
		DefaultDays:      30,
		Views: []ViewConfig{
			{
				ID:            ViewByQueue,
				Label:         "By Queue",
				DataLabel:     "Data",
				FailureLabel:  "queue",
				Noun:          "queue",
				Query:         QueryDistributionByQueue,
				SearchColumns: aggregateSearch.queue,
				// rows are split by channel and initiation method as well as queue
				Drilldown: []DrilldownBinding{
					{Filter: FilterQueue, Column: "queue_id"},
					{Filter: FilterChannel, Column: "channel"},
					{Filter: FilterMethod, Column: "initiation_method"},
				},
				LabelColumn: "queue_name",
			},
			{
				ID:            ViewByDID,
				Label:         "By Phone Number (DID)",
				DataLabel:     "DID data",
				FailureLabel:  "DID",
				Noun:          "phone number",
				Query:         QueryDistributionByDID,
				SearchColumns: aggregateSearch.did,
				Drilldown:     []DrilldownBinding{{Filter: FilterDID, Column: "did"}},
				LabelColumn:   "did",
			},
			{
				ID:            ViewByHour,
				Label:         "By Hour",
				DataLabel:     "Hourly data",
				FailureLabel:  "hourly",
				Noun:          "hour",
				Query:         QueryDistributionByHour,
				SingleDay:     true,
				SearchColumns: aggregateSearch.hour,
			},
		},
	},
	PageAgentPerformance: {
		ID:               PageAgentPerformance,
		Title:            "Agent Performance Matrix",
		DefaultView:      ViewByAgent,
		DrilldownQuery:   QueryAnsweredDrilldown,
		DrilldownTitle:   "%s's Calls",
		DrilldownFailure: "Failed to load agent details",
		DefaultDays:      30,
		DefaultFilters:   map[FilterKey][]string{FilterQueue: {AllValues}},
		Views: []ViewConfig{
			{
				ID:            ViewByAgent,
				Label:         "By Agent",
				DataLabel:     "Data",
				FailureLabel:  "agent",
				Noun:          "agent",
				Query:         QueryAnsweredByAgent,
				Filters:       []FilterKey{FilterQueue},
				SearchColumns: aggregateSearch.agent,
				Drilldown:     []DrilldownBinding{{Filter: FilterAgent, Column: "agent_id"}},
				LabelColumn:   "agent_name",
			},
		},
	},
}

// LookupPage returns a page configuration by id
func LookupPage(id PageID) (*PageConfig, error) {
	p, ok := Pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, id)
	}
	return p, nil
}
