package statements

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"ans_transparency/pkg/core/tabular"
	"ans_transparency/pkg/models"
)

// ExpensesHeader is the column layout of the intermediate expenses file.
var ExpensesHeader = []string{"CNPJ", "RazaoSocial", "Trimestre", "Ano", "ValorDespesas"}

// WriteExpenses writes records to path as UTF-8 with BOM.
func WriteExpenses(path string, records []models.ExpenseRecord) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.TaxID,
			r.Label,
			r.Quarter,
			strconv.Itoa(r.Year),
			tabular.FormatMoney(r.Value),
		})
	}
	if err := tabular.WriteFile(path, ExpensesHeader, rows); err != nil {
		return eris.Wrap(err, "statements: write expenses")
	}
	return nil
}

// ReadExpenses loads an expenses file written by WriteExpenses. Values that do not
// parse are read as zero.
func ReadExpenses(path string) ([]models.ExpenseRecord, error) {
	tbl, err := tabular.ReadFile(path, tabular.UTF8)
	if err != nil {
		return nil, eris.Wrap(err, "statements: read expenses")
	}
	for _, c := range ExpensesHeader {
		if !tbl.Has(c) {
			return nil, eris.Errorf("statements: %s lacks column %s", path, c)
		}
	}

	out := make([]models.ExpenseRecord, 0, tbl.Len())
	for _, row := range tbl.Rows {
		year, err := strconv.Atoi(strings.TrimSpace(tbl.Get(row, "Ano")))
		if err != nil {
			zap.L().Warn("expense row with unreadable year",
				zap.String("path", path), zap.String("label", tbl.Get(row, "RazaoSocial")), zap.Error(err))
		}
		out = append(out, models.ExpenseRecord{
			TaxID:   tbl.Get(row, "CNPJ"),
			Label:   tbl.Get(row, "RazaoSocial"),
			Quarter: tbl.Get(row, "Trimestre"),
			Year:    year,
			Value:   tabular.DecimalOrZero(tbl.Get(row, "ValorDespesas")),
		})
	}
	return out, nil
}
