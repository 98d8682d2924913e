// Package reconcile joins extracted expense lines with the operator registry,
// validates tax ids and aggregates expense totals per operator.
package reconcile

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ans_transparency/pkg/core/cnpj"
	"ans_transparency/pkg/core/config"
	"ans_transparency/pkg/core/logging"
	"ans_transparency/pkg/core/metrics"
	"ans_transparency/pkg/core/registry"
	"ans_transparency/pkg/core/tabular"
	"ans_transparency/pkg/models"
)

var registryLabel = regexp.MustCompile(`Reg\. ANS (\d+)`)

// Stats counts what happened to the rows of one reconciliation.
type Stats struct {
	InputRows     int
	DroppedRows   int // label without a registry identifier
	Matched       int
	Unmatched     int
	InvalidTaxIDs int
}

// Result is the output of Reconcile.
type Result struct {
	Enriched []models.EnrichedRecord
	Summary  []models.AggregateSummary
	Stats    Stats
	Mapping  registry.Mapping
}

// Engine performs the join, validation and aggregation.
type Engine struct {
	resolver *registry.Resolver
	join     config.Join
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates an engine. A nil resolver uses the default column candidates.
func NewEngine(resolver *registry.Resolver, join config.Join, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if resolver == nil {
		resolver = registry.NewResolver(nil)
	}
	return &Engine{
		resolver: resolver,
		join:     join,
		logger:   logging.OrNop(logger).With(zap.String("component", "reconcile")),
		metrics:  metrics.OrDiscard(m),
	}
}

// RegistryID extracts the registry identifier from a "Reg. ANS 123456" label.
func RegistryID(label string) (string, bool) {
	m := registryLabel.FindStringSubmatch(label)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Reconcile left-joins expenses with the registry table and aggregates the result.
// A registry without an identifier column aborts with registry.ErrJoinKeyMissing.
func (e *Engine) Reconcile(expenses []models.ExpenseRecord, registryTable *tabular.Table) (*Result, error) {
	res := &Result{Stats: Stats{InputRows: len(expenses)}}

	// 1. Registry identifier from each label
	keyed := make([]models.ExpenseRecord, 0, len(expenses))
	for _, rec := range expenses {
		id, ok := RegistryID(rec.Label)
		if !ok {
			res.Stats.DroppedRows++
			continue
		}
		rec.RegistryID = strings.TrimSpace(id)
		keyed = append(keyed, rec)
	}

	// 2. Canonical registry entries
	entries, mapping, err := e.resolver.Entries(registryTable)
	if err != nil {
		return nil, err
	}
	res.Mapping = mapping
	idx := e.index(entries)

	// 3. Left join and defaults
	res.Enriched = make([]models.EnrichedRecord, 0, len(keyed))
	for _, rec := range keyed {
		out := models.EnrichedRecord{
			RegistryID: rec.RegistryID,
			TaxID:      models.NotAvailable,
			LegalName:  rec.Label,
			Year:       rec.Year,
			Quarter:    rec.Quarter,
			Value:      rec.Value,
			Modality:   models.NotAvailable,
			State:      models.NotAvailable,
		}
		if entry, ok := idx.lookup(rec.RegistryID); ok {
			res.Stats.Matched++
			out.TaxID = entry.TaxID
			if entry.LegalName != "" {
				out.LegalName = entry.LegalName
			}
			out.Modality = entry.Modality
			out.State = entry.State
		} else {
			res.Stats.Unmatched++
		}

		// 4. Tax id check digits
		out.TaxIDValid = cnpj.Valid(out.TaxID)
		if !out.TaxIDValid {
			res.Stats.InvalidTaxIDs++
		}
		res.Enriched = append(res.Enriched, out)
	}

	// 5. Aggregation
	res.Summary = Aggregate(res.Enriched)

	e.metrics.RowsEnriched.WithLabelValues("matched").Add(float64(res.Stats.Matched))
	e.metrics.RowsEnriched.WithLabelValues("unmatched").Add(float64(res.Stats.Unmatched))
	e.metrics.InvalidTaxIDs.Add(float64(res.Stats.InvalidTaxIDs))
	e.logger.Info("reconciliation finished",
		zap.String("join_column", mapping[registry.FieldRegistryID]),
		zap.Int("input", res.Stats.InputRows),
		zap.Int("dropped", res.Stats.DroppedRows),
		zap.Int("matched", res.Stats.Matched),
		zap.Int("unmatched", res.Stats.Unmatched),
		zap.Int("invalid_tax_ids", res.Stats.InvalidTaxIDs),
		zap.Int("operators", len(res.Summary)),
	)
	return res, nil
}

type registryIndex struct {
	exact    map[string]models.RegistryEntry
	unpadded map[string]models.RegistryEntry // nil unless leading zeros are ignored
}

// index keeps the first entry per identifier so duplicates never multiply expense rows.
func (e *Engine) index(entries []models.RegistryEntry) registryIndex {
	idx := registryIndex{exact: make(map[string]models.RegistryEntry, len(entries))}
	if e.join.IgnoreLeadingZeros {
		idx.unpadded = make(map[string]models.RegistryEntry, len(entries))
	}
	for _, entry := range entries {
		key := strings.TrimSpace(entry.RegistryID)
		if _, dup := idx.exact[key]; !dup {
			idx.exact[key] = entry
		}
		if idx.unpadded != nil && isDigits(key) {
			k := unpad(key)
			if _, dup := idx.unpadded[k]; !dup {
				idx.unpadded[k] = entry
			}
		}
	}
	return idx
}

func (idx registryIndex) lookup(key string) (models.RegistryEntry, bool) {
	if entry, ok := idx.exact[key]; ok {
		return entry, true
	}
	if idx.unpadded != nil && isDigits(key) {
		entry, ok := idx.unpadded[unpad(key)]
		return entry, ok
	}
	return models.RegistryEntry{}, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func unpad(s string) string {
	if t := strings.TrimLeft(s, "0"); t != "" {
		return t
	}
	return "0"
}

type groupKey struct {
	LegalName, State, TaxID string
}

type operatorKey struct {
	LegalName, State string
}

// Aggregate computes per-operator totals and quarterly statistics, rounded to two
// decimals and sorted by total descending.
//
// Quarterly sums are keyed by the quarter label alone, so "1T" of different years
// fall into the same bucket. The standard deviation is the sample deviation and
// is zero when an operator has a single quarter.
func Aggregate(rows []models.EnrichedRecord) []models.AggregateSummary {
	totals := make(map[groupKey]decimal.Decimal)
	var order []groupKey
	quarterly := make(map[operatorKey]map[string]decimal.Decimal)

	for _, r := range rows {
		gk := groupKey{r.LegalName, r.State, r.TaxID}
		if _, ok := totals[gk]; !ok {
			order = append(order, gk)
		}
		totals[gk] = totals[gk].Add(r.Value)

		opKey := operatorKey{r.LegalName, r.State}
		if quarterly[opKey] == nil {
			quarterly[opKey] = make(map[string]decimal.Decimal)
		}
		quarterly[opKey][r.Quarter] = quarterly[opKey][r.Quarter].Add(r.Value)
	}

	out := make([]models.AggregateSummary, 0, len(order))
	for _, gk := range order {
		mean, std := meanStd(lo.Values(quarterly[operatorKey{gk.LegalName, gk.State}]))
		out = append(out, models.AggregateSummary{
			LegalName:    gk.LegalName,
			State:        gk.State,
			TaxID:        gk.TaxID,
			Total:        totals[gk].Round(2),
			QuarterlyAvg: mean.Round(2),
			QuarterlyStd: std.Round(2),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		if out[i].LegalName != out[j].LegalName {
			return out[i].LegalName < out[j].LegalName
		}
		if out[i].State != out[j].State {
			return out[i].State < out[j].State
		}
		return out[i].TaxID < out[j].TaxID
	})
	return out
}

func meanStd(values []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	n := len(values)
	if n == 0 {
		return decimal.Zero, decimal.Zero
	}
	mean := decimal.Sum(decimal.Zero, values...).Div(decimal.NewFromInt(int64(n)))
	if n < 2 {
		return mean, decimal.Zero
	}

	var ss decimal.Decimal
	for _, v := range values {
		d := v.Sub(mean)
		ss = ss.Add(d.Mul(d))
	}
	variance := ss.Div(decimal.NewFromInt(int64(n - 1))).InexactFloat64()
	return mean, decimal.NewFromFloat(math.Sqrt(variance))
}
