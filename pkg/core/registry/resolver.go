package registry

import (
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"ans_transparency/pkg/core/cnpj"
	"ans_transparency/pkg/core/tabular"
	"ans_transparency/pkg/models"
)

// ErrJoinKeyMissing means no column of the registry could serve as the registry identifier.
var ErrJoinKeyMissing = eris.New("registry: registry identifier column not found")

// Canonical registry fields.
const (
	FieldRegistryID = "registry_id"
	FieldTaxID      = "tax_id"
	FieldLegalName  = "legal_name"
	FieldModality   = "modality"
	FieldState      = "state"
)

// DefaultCandidates lists, per canonical field, the source column names accepted
// across registry file vintages, highest priority first.
var DefaultCandidates = map[string][]string{
	FieldRegistryID: {"REGISTRO_OPERADORA", "REG_ANS", "CD_OPERADORA", "REGISTRO", "REGISTRO_ANS"},
	FieldTaxID:      {"CNPJ"},
	FieldLegalName:  {"RAZAO_SOCIAL"},
	FieldModality:   {"MODALIDADE"},
	FieldState:      {"UF"},
}

// Mapping records which source column serves each canonical field. An empty value
// means the field is absent from the source.
type Mapping map[string]string

// Resolver maps table headers onto canonical fields and caches the result per header layout.
type Resolver struct {
	candidates map[string][]string

	mu    sync.Mutex
	cache map[string]Mapping
}

// NewResolver creates a resolver. A nil candidates map uses DefaultCandidates.
func NewResolver(candidates map[string][]string) *Resolver {
	if candidates == nil {
		candidates = DefaultCandidates
	}
	return &Resolver{candidates: candidates, cache: make(map[string]Mapping)}
}

// Resolve returns the column mapping for tbl. Headers must already be normalized.
func (r *Resolver) Resolve(tbl *tabular.Table) (Mapping, error) {
	key := strings.Join(tbl.Columns, "\x00")

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.cache[key]; ok {
		return m, nil
	}

	m := make(Mapping, len(r.candidates))
	for field, names := range r.candidates {
		for _, n := range names {
			if tbl.Has(n) {
				m[field] = n
				break
			}
		}
	}
	if m[FieldRegistryID] == "" {
		return nil, eris.Wrapf(ErrJoinKeyMissing, "available columns: %s", strings.Join(tbl.Columns, ", "))
	}

	r.cache[key] = m
	return m, nil
}

// Entries normalizes the headers of tbl, resolves its columns and converts each row
// into a RegistryEntry. Absent tax id, modality and state become "N/D"; an absent
// legal name stays empty so callers can fall back to their own label.
func (r *Resolver) Entries(tbl *tabular.Table) ([]models.RegistryEntry, Mapping, error) {
	tbl.NormalizeHeaders()
	m, err := r.Resolve(tbl)
	if err != nil {
		return nil, nil, err
	}

	value := func(row []string, field string) string {
		col := m[field]
		if col == "" {
			return ""
		}
		return strings.TrimSpace(tbl.Get(row, col))
	}
	orNA := func(s string) string {
		if s == "" {
			return models.NotAvailable
		}
		return s
	}

	out := make([]models.RegistryEntry, 0, tbl.Len())
	for _, row := range tbl.Rows {
		out = append(out, models.RegistryEntry{
			RegistryID: value(row, FieldRegistryID),
			TaxID:      orNA(cnpj.Digits(value(row, FieldTaxID))),
			LegalName:  value(row, FieldLegalName),
			Modality:   orNA(value(row, FieldModality)),
			State:      orNA(value(row, FieldState)),
		})
	}
	return out, m, nil
}
