// Package store persists enriched expenses into the relational store and serves
// the read queries of the API.
package store

import (
	"sort"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ans_transparency/pkg/core/config"
)

var (
	// ErrSchemaMismatch means a target table is missing or its columns differ from the expected set.
	ErrSchemaMismatch = eris.New("store: schema mismatch")
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = eris.New("store: not found")
)

// Operator is a row of the operators table.
type Operator struct {
	RegistryID string  `gorm:"column:registro_ans;primaryKey;size:20" json:"registro_ans"`
	TaxID      *string `gorm:"column:cnpj;size:20;index" json:"cnpj"`
	LegalName  *string `gorm:"column:razao_social;size:255" json:"razao_social"`
	Modality   *string `gorm:"column:modalidade;size:100" json:"modalidade"`
	State      *string `gorm:"column:uf;size:2" json:"uf"`
}

func (Operator) TableName() string { return "operators" }

// Expense is a row of the despesas table.
type Expense struct {
	ID         uint            `gorm:"column:id;primaryKey;autoIncrement"`
	RegistryID string          `gorm:"column:registro_ans;size:20;index;not null"`
	Operator   *Operator       `gorm:"foreignKey:RegistryID;references:RegistryID"`
	Quarter    string          `gorm:"column:trimestre;size:2"`
	Year       int             `gorm:"column:ano"`
	Value      decimal.Decimal `gorm:"column:valor_despesa;type:decimal(18,2)"`
}

func (Expense) TableName() string { return "despesas" }

// expectedColumns is the exact column set each table must have.
var expectedColumns = map[string][]string{
	Operator{}.TableName(): {"registro_ans", "cnpj", "razao_social", "modalidade", "uf"},
	Expense{}.TableName():  {"id", "registro_ans", "trimestre", "ano", "valor_despesa"},
}

// Open connects gorm to the configured database.
func Open(cfg config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.URL)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.URL)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s", cfg.Driver)
	}
	return db, nil
}

// CreateSchema creates the tables that do not exist yet. Existing tables are left untouched.
func CreateSchema(db *gorm.DB) error {
	m := db.Migrator()
	for _, model := range []any{&Operator{}, &Expense{}} {
		if m.HasTable(model) {
			continue
		}
		if err := m.CreateTable(model); err != nil {
			return eris.Wrap(err, "store: create table")
		}
	}
	return nil
}

// VerifySchema checks that both tables exist with exactly the expected columns.
func VerifySchema(db *gorm.DB) error {
	m := db.Migrator()
	tables := []struct {
		model any
		name  string
	}{
		{&Operator{}, Operator{}.TableName()},
		{&Expense{}, Expense{}.TableName()},
	}
	for _, t := range tables {
		if !m.HasTable(t.model) {
			return eris.Wrapf(ErrSchemaMismatch, "table %s does not exist", t.name)
		}
		cols, err := m.ColumnTypes(t.model)
		if err != nil {
			return eris.Wrapf(err, "store: columns of %s", t.name)
		}

		got := make([]string, 0, len(cols))
		for _, c := range cols {
			got = append(got, strings.ToLower(c.Name()))
		}
		want := append([]string(nil), expectedColumns[t.name]...)
		sort.Strings(got)
		sort.Strings(want)
		if strings.Join(got, ",") != strings.Join(want, ",") {
			return eris.Wrapf(ErrSchemaMismatch, "table %s has columns [%s], want [%s]",
				t.name, strings.Join(got, ", "), strings.Join(want, ", "))
		}
	}
	return nil
}
