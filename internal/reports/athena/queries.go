package athena

import (
	"fmt"
	"strings"

	"callscope/report-portal/report-portal-backend/internal/reports"
)

// namedQuery is a SQL template. {{table}} is replaced by the configured
// contact table and {{where}} by the time window and filter predicates.
type namedQuery struct {
	sql string
}

// filterColumns maps a filter dimension to the contact table column it narrows
var filterColumns = map[reports.FilterKey]string{
	reports.FilterQueue:   "queue_id",
	reports.FilterDID:     "system_endpoint",
	reports.FilterAgent:   "agent_id",
	reports.FilterChannel: "channel",
	reports.FilterMethod:  "initiation_method",
}

const aggregateColumns = `
	COUNT(*) AS received,
	COUNT_IF(agent_connected_timestamp IS NOT NULL) AS answered,
	COUNT_IF(agent_connected_timestamp IS NULL) AS unanswered,
	COUNT_IF(disconnect_reason = 'CUSTOMER_DISCONNECT' AND agent_connected_timestamp IS NULL) AS abandoned,
	COUNT_IF(transferred) AS transferred,
	FORMAT('%02d:%02d', CAST(COALESCE(AVG(queue_duration), 0) AS integer) / 60, CAST(COALESCE(AVG(queue_duration), 0) AS integer) % 60) AS avg_wait,
	FORMAT('%02d:%02d', CAST(COALESCE(AVG(agent_interaction_duration), 0) AS integer) / 60, CAST(COALESCE(AVG(agent_interaction_duration), 0) AS integer) % 60) AS avg_talk,
	FORMAT('%.2f', 100.0 * COUNT_IF(agent_connected_timestamp IS NOT NULL AND queue_duration <= 20) / GREATEST(COUNT(*), 1)) AS sla,
	FORMAT('%.2f', 100.0 * COUNT_IF(agent_connected_timestamp IS NOT NULL) / GREATEST(COUNT(*), 1)) AS "%_answered"`

const unansweredColumns = `
	COUNT(*) AS unanswered,
	COUNT_IF(disconnect_reason = 'CUSTOMER_DISCONNECT') AS abandoned,
	FORMAT('%02d:%02d', CAST(COALESCE(AVG(queue_duration), 0) AS integer) / 60, CAST(COALESCE(AVG(queue_duration), 0) AS integer) % 60) AS avg_wait`

const detailColumns = `
	contact_id,
	FORMAT_DATETIME(initiation_timestamp, 'yyyy-MM-dd HH:mm:ss') AS contact_date,
	COALESCE(agent_name, '') AS agent_name,
	COALESCE(queue_name, '') AS queue_name,
	COALESCE(customer_endpoint, '') AS customer_number,
	COALESCE(system_endpoint, '') AS did,
	channel,
	initiation_method,
	CASE WHEN agent_connected_timestamp IS NOT NULL THEN 'ANSWERED' ELSE 'UNANSWERED' END AS interaction_status,
	CAST(COALESCE(ring_time, 0) AS varchar) AS ring_time,
	CAST(COALESCE(queue_duration, 0) AS varchar) AS wait_time,
	CAST(COALESCE(agent_interaction_duration, 0) AS varchar) AS talk_time`

var catalog = map[reports.QueryName]namedQuery{
	reports.QueryUnansweredByQueue: {sql: `SELECT queue_id, queue_name,` + unansweredColumns + `
FROM {{table}}
WHERE agent_connected_timestamp IS NULL AND queue_id IS NOT NULL {{where}}
GROUP BY queue_id, queue_name
ORDER BY unanswered DESC`},

	reports.QueryUnansweredByDID: {sql: `SELECT system_endpoint AS did,` + unansweredColumns + `
FROM {{table}}
WHERE agent_connected_timestamp IS NULL AND system_endpoint IS NOT NULL {{where}}
GROUP BY system_endpoint
ORDER BY unanswered DESC`},

	reports.QueryDistributionByQueue: {sql: `SELECT queue_id, queue_name, channel, initiation_method,` + aggregateColumns + `
FROM {{table}}
WHERE queue_id IS NOT NULL {{where}}
GROUP BY queue_id, queue_name, channel, initiation_method
ORDER BY received DESC`},

	reports.QueryDistributionByDID: {sql: `SELECT system_endpoint AS did,` + aggregateColumns + `
FROM {{table}}
WHERE system_endpoint IS NOT NULL {{where}}
GROUP BY system_endpoint
ORDER BY received DESC`},

	reports.QueryDistributionByHour: {sql: `SELECT FORMAT('%02d:00', HOUR(initiation_timestamp)) AS hour,` + aggregateColumns + `
FROM {{table}}
WHERE 1 = 1 {{where}}
GROUP BY HOUR(initiation_timestamp)
ORDER BY HOUR(initiation_timestamp)`},

	reports.QueryAnsweredByAgent: {sql: `SELECT agent_id, agent_name,
	COUNT(*) AS answered,
	COUNT_IF(transferred) AS transferred,
	FORMAT('%02d:%02d', CAST(COALESCE(AVG(agent_interaction_duration), 0) AS integer) / 60, CAST(COALESCE(AVG(agent_interaction_duration), 0) AS integer) % 60) AS avg_talk,
	FORMAT('%02d:%02d', CAST(COALESCE(AVG(queue_duration), 0) AS integer) / 60, CAST(COALESCE(AVG(queue_duration), 0) AS integer) % 60) AS avg_wait
FROM {{table}}
WHERE agent_connected_timestamp IS NOT NULL AND agent_id IS NOT NULL {{where}}
GROUP BY agent_id, agent_name
ORDER BY answered DESC`},

	reports.QueryAnsweredDrilldown: {sql: `SELECT` + detailColumns + `
FROM {{table}}
WHERE agent_connected_timestamp IS NOT NULL {{where}}
ORDER BY initiation_timestamp DESC`},

	reports.QueryUnansweredDrilldown: {sql: `SELECT` + detailColumns + `
FROM {{table}}
WHERE agent_connected_timestamp IS NULL {{where}}
ORDER BY initiation_timestamp DESC`},

	reports.QueryDistributionDrilldown: {sql: `SELECT` + detailColumns + `
FROM {{table}}
WHERE 1 = 1 {{where}}
ORDER BY initiation_timestamp DESC`},
}

// BuildQuery renders the SQL and positional execution parameters for req.
// Every user-supplied value travels as a parameter, never inline.
func BuildQuery(table string, req reports.QueryRequest) (string, []string, error) {
	q, ok := catalog[req.QueryName]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", reports.ErrUnknownQuery, req.QueryName)
	}

	start, end := req.DateRange.Boundaries()
	var where strings.Builder
	where.WriteString("AND initiation_timestamp BETWEEN CAST(? AS timestamp) AND CAST(? AS timestamp)")
	params := []string{quote(start), quote(end)}

	for _, key := range req.Filters.Keys() {
		col, ok := filterColumns[key]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter %q for query %q", key, req.QueryName)
		}
		values := req.Filters.Values(key)
		where.WriteString(" AND ")
		where.WriteString(col)
		where.WriteString(" IN (")
		for i, v := range values {
			if i > 0 {
				where.WriteString(", ")
			}
			where.WriteByte('?')
			params = append(params, quote(v))
		}
		where.WriteByte(')')
	}

	sql := strings.ReplaceAll(q.sql, "{{table}}", table)
	sql = strings.ReplaceAll(sql, "{{where}}", where.String())
	return sql, params, nil
}

// quote renders a string literal for an Athena execution parameter
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
