package athena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"go.uber.org/zap"

	"callscope/report-portal/report-portal-backend/internal/reports"
)

// Client is the subset of the Athena API used by the query service
type Client interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// ErrResultTooLarge is returned when a result has more rows than MaxRows.
// Partial results are never returned.
var ErrResultTooLarge = errors.New("query result exceeds the row limit")

// Config configures the Athena query service
type Config struct {
	Region         string        `json:"region"`
	Database       string        `json:"database"`
	Catalog        string        `json:"catalog"`
	WorkGroup      string        `json:"work_group"`
	OutputLocation string        `json:"output_location"`
	Table          string        `json:"table"`
	PollInterval   time.Duration `json:"poll_interval"`
	PageSize       int32         `json:"page_size"`
	MaxRows        int           `json:"max_rows"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Region:       "us-east-1",
		Database:     "connect_analytics",
		Catalog:      "AwsDataCatalog",
		WorkGroup:    "primary",
		Table:        "contact_records",
		PollInterval: 2 * time.Second,
		PageSize:     1000,
		MaxRows:      50000,
	}
}

// QueryService runs named report queries on Athena. Each Run starts exactly
// one query execution; failures are returned, never retried.
type QueryService struct {
	client Client
	config Config
	logger *zap.Logger
}

// NewQueryService creates an Athena-backed query service
func NewQueryService(client Client, config Config, logger *zap.Logger) *QueryService {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.PageSize <= 0 || config.PageSize > 1000 {
		config.PageSize = 1000
	}
	return &QueryService{
		client: client,
		config: config,
		logger: logger,
	}
}

// Run implements reports.QueryService
func (s *QueryService) Run(ctx context.Context, req reports.QueryRequest) (*reports.QueryResult, error) {
	sql, params, err := BuildQuery(s.config.Table, req)
	if err != nil {
		return nil, err
	}

	input := &athena.StartQueryExecutionInput{
		QueryString:         aws.String(sql),
		ExecutionParameters: params,
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(s.config.Database),
		},
	}
	if s.config.Catalog != "" {
		input.QueryExecutionContext.Catalog = aws.String(s.config.Catalog)
	}
	if s.config.WorkGroup != "" {
		input.WorkGroup = aws.String(s.config.WorkGroup)
	}
	if s.config.OutputLocation != "" {
		input.ResultConfiguration = &types.ResultConfiguration{
			OutputLocation: aws.String(s.config.OutputLocation),
		}
	}

	started := time.Now()
	out, err := s.client.StartQueryExecution(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start query %s: %w", req.QueryName, err)
	}
	id := aws.ToString(out.QueryExecutionId)

	s.logger.Debug("Athena query started",
		zap.String("query", string(req.QueryName)),
		zap.String("execution_id", id),
		zap.String("request", req.Key()))

	if err := s.wait(ctx, id); err != nil {
		return nil, fmt.Errorf("query %s (%s): %w", req.QueryName, id, err)
	}

	result, err := s.fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read results of %s (%s): %w", req.QueryName, id, err)
	}

	s.logger.Info("Athena query completed",
		zap.String("query", string(req.QueryName)),
		zap.String("execution_id", id),
		zap.Int("row_count", result.RowCount),
		zap.Duration("duration", time.Since(started)))

	return result, nil
}

// wait polls the execution until it reaches a terminal state. A cancelled
// context stops the execution on the Athena side as well.
func (s *QueryService) wait(ctx context.Context, id string) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		out, err := s.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(id),
		})
		if err != nil {
			if ctx.Err() != nil {
				s.stop(id)
				return ctx.Err()
			}
			return fmt.Errorf("failed to get query execution: %w", err)
		}

		var status *types.QueryExecutionStatus
		if out.QueryExecution != nil {
			status = out.QueryExecution.Status
		}
		if status != nil {
			switch status.State {
			case types.QueryExecutionStateSucceeded:
				return nil
			case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
				return errors.New(failureReason(status))
			}
		}

		select {
		case <-ctx.Done():
			s.stop(id)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *QueryService) stop(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(id),
	}); err != nil {
		s.logger.Warn("Failed to stop Athena query", zap.String("execution_id", id), zap.Error(err))
	}
}

// fetch pages through the results. The first row of the first page repeats
// the column names and is skipped.
func (s *QueryService) fetch(ctx context.Context, id string) (*reports.QueryResult, error) {
	paginator := athena.NewGetQueryResultsPaginator(s.client, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(id),
		MaxResults:       aws.Int32(s.config.PageSize),
	})

	var columns []string
	rows := []reports.Row{}
	first := true
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.ResultSet == nil {
			break
		}
		if columns == nil && page.ResultSet.ResultSetMetadata != nil {
			for _, ci := range page.ResultSet.ResultSetMetadata.ColumnInfo {
				columns = append(columns, aws.ToString(ci.Name))
			}
		}
		for _, r := range page.ResultSet.Rows {
			record := datumValues(r.Data)
			if first {
				first = false
				if columns == nil {
					columns = record
				}
				if sameRecord(record, columns) {
					continue
				}
			}
			if s.config.MaxRows > 0 && len(rows) == s.config.MaxRows {
				s.logger.Warn("Athena result over row limit",
					zap.String("execution_id", id),
					zap.Int("max_rows", s.config.MaxRows))
				return nil, fmt.Errorf("%w: more than %d rows, narrow the date range or filters", ErrResultTooLarge, s.config.MaxRows)
			}
			rows = append(rows, reports.RowFromRecord(columns, record))
		}
	}
	return reports.Succeeded(columns, rows), nil
}

func datumValues(data []types.Datum) []string {
	out := make([]string, len(data))
	for i, d := range data {
		out[i] = aws.ToString(d.VarCharValue)
	}
	return out
}

func sameRecord(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func failureReason(status *types.QueryExecutionStatus) string {
	if status.AthenaError != nil && status.AthenaError.ErrorMessage != nil {
		return aws.ToString(status.AthenaError.ErrorMessage)
	}
	if status.StateChangeReason != nil {
		return aws.ToString(status.StateChangeReason)
	}
	return fmt.Sprintf("query %s", string(status.State))
}
