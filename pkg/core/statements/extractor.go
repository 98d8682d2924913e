// Package statements extracts expense lines from the quarterly accounting
// statements published by ANS as zip archives of Latin-1 CSV files.
package statements

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"ans_transparency/pkg/core/logging"
	"ans_transparency/pkg/core/metrics"
	"ans_transparency/pkg/core/portal"
	"ans_transparency/pkg/core/tabular"
	"ans_transparency/pkg/models"
)

// Statement column names after header normalization.
const (
	ColAccount     = "CD_CONTA_CONTABIL"
	ColBalance     = "VL_SALDO_FINAL"
	ColDescription = "DESCRICAO"
	ColRegistry    = "REG_ANS"
)

// ExpenseAccountPrefix selects the expense class of the ANS chart of accounts.
const ExpenseAccountPrefix = "4"

// UnknownLabel is used when a statement has no registry column.
const UnknownLabel = "Unknown"

// ErrMissingColumns is returned for statement files without the account and balance columns.
var ErrMissingColumns = eris.New("statements: required columns missing")

var descriptionKeywords = []string{"EVENT", "SINISTRO", "CLAIM"}

// Fetcher is the subset of the portal client the extractor needs.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Links(ctx context.Context, pageURL string) ([]portal.Link, error)
}

// Extractor turns quarter folders into expense records.
type Extractor struct {
	fetcher Fetcher
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewExtractor creates an extractor.
func NewExtractor(fetcher Fetcher, logger *zap.Logger, m *metrics.Metrics) *Extractor {
	return &Extractor{
		fetcher: fetcher,
		logger:  logging.OrNop(logger).With(zap.String("component", "statements")),
		metrics: metrics.OrDiscard(m),
	}
}

// Extract downloads the statements of one quarter and returns its expense lines.
// Download and parse failures are logged and yield fewer (or no) records; only
// context cancellation is returned as an error.
func (e *Extractor) Extract(ctx context.Context, q models.QuarterFolder) ([]models.ExpenseRecord, error) {
	log := e.logger.With(zap.Int("year", q.Year), zap.String("quarter", q.Quarter))

	archives := []string{q.URL}
	if !isZip(q.URL) {
		archives = archives[:0]
		links, err := e.fetcher.Links(ctx, portal.DirURL(q.URL))
		if err != nil {
			log.Warn("quarter folder unavailable", zap.String("url", q.URL), zap.Error(err))
		}
		for _, l := range links {
			if isZip(l.Href) {
				archives = append(archives, l.URL)
			}
		}
	}

	var out []models.ExpenseRecord
	for _, u := range archives {
		body, err := e.fetcher.Get(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "statements: extract")
			}
			log.Warn("archive download failed", zap.String("url", u), zap.Error(err))
			continue
		}
		records, err := e.extractArchive(body, q, log)
		if err != nil {
			log.Warn("archive unreadable", zap.String("url", u), zap.Error(err))
			continue
		}
		out = append(out, records...)
	}

	e.metrics.RowsExtracted.Add(float64(len(out)))
	log.Info("quarter extracted", zap.Int("rows", len(out)), zap.Int("archives", len(archives)))
	return out, nil
}

// ExtractAll runs Extract for every quarter in order and concatenates the results.
func (e *Extractor) ExtractAll(ctx context.Context, quarters []models.QuarterFolder) ([]models.ExpenseRecord, error) {
	var all []models.ExpenseRecord
	for _, q := range quarters {
		records, err := e.Extract(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

func (e *Extractor) extractArchive(body []byte, q models.QuarterFolder, log *zap.Logger) ([]models.ExpenseRecord, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, eris.Wrap(err, "statements: open zip")
	}

	var out []models.ExpenseRecord
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isTabular(f.Name) {
			continue
		}
		records, err := readEntry(f, q)
		if err != nil {
			e.metrics.FilesSkipped.Inc()
			log.Warn("statement file skipped", zap.String("file", f.Name), zap.Error(err))
			continue
		}
		out = append(out, records...)
	}
	return out, nil
}

func readEntry(f *zip.File, q models.QuarterFolder) ([]models.ExpenseRecord, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "statements: open %s", f.Name)
	}
	defer rc.Close()
	return Parse(rc, q)
}

// Parse reads one Latin-1 statement file and keeps the expense-class lines.
func Parse(r io.Reader, q models.QuarterFolder) ([]models.ExpenseRecord, error) {
	tbl, err := tabular.Read(r, tabular.Latin1)
	if err != nil {
		return nil, err
	}
	tbl.NormalizeHeaders()

	if !tbl.Has(ColAccount) || !tbl.Has(ColBalance) {
		return nil, eris.Wrapf(ErrMissingColumns, "have %v", tbl.Columns)
	}
	hasDescription := tbl.Has(ColDescription)
	hasRegistry := tbl.Has(ColRegistry)

	var out []models.ExpenseRecord
	for _, row := range tbl.Rows {
		if !strings.HasPrefix(strings.TrimSpace(tbl.Get(row, ColAccount)), ExpenseAccountPrefix) {
			continue
		}
		if hasDescription && !isExpenseDescription(tbl.Get(row, ColDescription)) {
			continue
		}

		label := UnknownLabel
		if hasRegistry {
			label = "Reg. ANS " + strings.TrimSpace(tbl.Get(row, ColRegistry))
		}

		out = append(out, models.ExpenseRecord{
			TaxID:   models.NotAvailable,
			Label:   label,
			Year:    q.Year,
			Quarter: q.Quarter,
			Value:   tabular.DecimalOrZero(tbl.Get(row, ColBalance)),
		})
	}
	return out, nil
}

func isExpenseDescription(s string) bool {
	s = strings.ToUpper(s)
	for _, k := range descriptionKeywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func isZip(u string) bool {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.EqualFold(path.Ext(u), ".zip")
}

func isTabular(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".csv" || ext == ".txt"
}
