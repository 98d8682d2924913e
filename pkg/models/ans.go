package models

import (
	"github.com/shopspring/decimal"
)

// NotAvailable is the placeholder the ANS datasets use for missing attributes.
const NotAvailable = "N/D"

// QuarterFolder points at one fiscal quarter of financial statements on the portal.
type QuarterFolder struct {
	Year    int    `json:"year"`
	Quarter string `json:"quarter"` // "1T".."4T"
	Name    string `json:"name"`    // link text as listed, e.g. "1T2024.zip"
	URL     string `json:"url"`
}

// ExpenseRecord is one expense-class accounting line of a quarterly statement.
type ExpenseRecord struct {
	RegistryID string          `json:"registro_ans"` // filled by reconciliation
	TaxID      string          `json:"cnpj"`
	Label      string          `json:"razao_social"` // "Reg. ANS 123456" until enriched
	Year       int             `json:"ano"`
	Quarter    string          `json:"trimestre"`
	Value      decimal.Decimal `json:"valor_despesas"`
}

// RegistryEntry is an operator as listed in the ANS active-operators registry.
type RegistryEntry struct {
	RegistryID string `json:"registro_ans"`
	TaxID      string `json:"cnpj"` // digits only
	LegalName  string `json:"razao_social"`
	Modality   string `json:"modalidade"`
	State      string `json:"uf"`
}

// EnrichedRecord is an ExpenseRecord left-joined with its registry entry.
type EnrichedRecord struct {
	RegistryID string          `json:"registro_ans"`
	TaxID      string          `json:"cnpj"`
	LegalName  string          `json:"razao_social"`
	Year       int             `json:"ano"`
	Quarter    string          `json:"trimestre"`
	Value      decimal.Decimal `json:"valor_despesas"`
	Modality   string          `json:"modalidade"`
	State      string          `json:"uf"`
	TaxIDValid bool            `json:"cnpj_valido"`
}

// AggregateSummary holds the expense totals of one (legal name, state, tax id) group.
type AggregateSummary struct {
	LegalName    string          `json:"razao_social"`
	State        string          `json:"uf"`
	TaxID        string          `json:"cnpj"`
	Total        decimal.Decimal `json:"despesa_total"`
	QuarterlyAvg decimal.Decimal `json:"media_trimestral"`
	QuarterlyStd decimal.Decimal `json:"desvio_padrao_trimestral"`
}
