package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ans_transparency/pkg/core/logging"
	"ans_transparency/pkg/core/metrics"
	"ans_transparency/pkg/models"
)

// DefaultBatchSize is used when the configured batch size is not positive.
const DefaultBatchSize = 500

// LoadResult counts the rows appended by one Append call.
type LoadResult struct {
	Operators int
	Expenses  int
}

// Loader appends enriched rows to the operators and despesas tables. Rows are only
// ever inserted: a registry identifier already present in operators makes Append fail.
type Loader struct {
	db        *gorm.DB
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewLoader creates a loader on db.
func NewLoader(db *gorm.DB, batchSize int, logger *zap.Logger, m *metrics.Metrics) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{
		db:        db,
		batchSize: batchSize,
		logger:    logging.OrNop(logger).With(zap.String("component", "loader")),
		metrics:   metrics.OrDiscard(m),
	}
}

// OperatorRows builds one operator row per registry identifier, keeping the first occurrence.
func OperatorRows(rows []models.EnrichedRecord) []Operator {
	unique := lo.UniqBy(rows, func(r models.EnrichedRecord) string { return r.RegistryID })
	return lo.Map(unique, func(r models.EnrichedRecord, _ int) Operator {
		return Operator{
			RegistryID: r.RegistryID,
			TaxID:      nullable(r.TaxID),
			LegalName:  nullable(r.LegalName),
			Modality:   nullable(r.Modality),
			State:      stateCode(r.State),
		}
	})
}

// ExpenseRows converts enriched rows into despesas rows.
func ExpenseRows(rows []models.EnrichedRecord) []Expense {
	return lo.Map(rows, func(r models.EnrichedRecord, _ int) Expense {
		return Expense{
			RegistryID: r.RegistryID,
			Quarter:    r.Quarter,
			Year:       r.Year,
			Value:      r.Value.Round(2),
		}
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// stateCode maps "N/D" and blanks to NULL and truncates to the two-letter column width.
func stateCode(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == models.NotAvailable {
		return nil
	}
	if r := []rune(s); len(r) > 2 {
		s = string(r[:2])
	}
	return &s
}

// Append inserts the operators and expenses of rows in one transaction.
func (l *Loader) Append(ctx context.Context, rows []models.EnrichedRecord) (LoadResult, error) {
	operators := OperatorRows(rows)
	expenses := ExpenseRows(rows)

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(operators) > 0 {
			if err := tx.Omit(clause.Associations).CreateInBatches(&operators, l.batchSize).Error; err != nil {
				return eris.Wrap(err, "store: insert operators")
			}
		}
		if len(expenses) > 0 {
			if err := tx.Omit(clause.Associations).CreateInBatches(&expenses, l.batchSize).Error; err != nil {
				return eris.Wrap(err, "store: insert expenses")
			}
		}
		return nil
	})
	if err != nil {
		return LoadResult{}, err
	}

	l.metrics.RowsLoaded.WithLabelValues(Operator{}.TableName()).Add(float64(len(operators)))
	l.metrics.RowsLoaded.WithLabelValues(Expense{}.TableName()).Add(float64(len(expenses)))
	l.logger.Info("rows appended", zap.Int("operators", len(operators)), zap.Int("expenses", len(expenses)))
	return LoadResult{Operators: len(operators), Expenses: len(expenses)}, nil
}
