package reconcile

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"ans_transparency/pkg/core/tabular"
	"ans_transparency/pkg/models"
)

var (
	// EnrichedHeader is the column layout of the enriched file.
	EnrichedHeader = []string{"RegistroANS", "CNPJ", "RazaoSocial", "Trimestre", "Ano", "ValorDespesas", "Modalidade", "UF", "CNPJ_Valido"}
	// SummaryHeader is the column layout of the aggregated report.
	SummaryHeader = []string{"RazaoSocial", "UF", "CNPJ", "DespesaTotal", "MediaTrimestral", "DesvioPadraoTrimestral"}
)

// WriteEnriched writes the enriched rows as UTF-8 with BOM.
func WriteEnriched(path string, rows []models.EnrichedRecord) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.RegistryID,
			r.TaxID,
			r.LegalName,
			r.Quarter,
			strconv.Itoa(r.Year),
			tabular.FormatMoney(r.Value),
			r.Modality,
			r.State,
			strconv.FormatBool(r.TaxIDValid),
		})
	}
	if err := tabular.WriteFile(path, EnrichedHeader, out); err != nil {
		return eris.Wrap(err, "reconcile: write enriched")
	}
	return nil
}

// ReadEnriched loads a file written by WriteEnriched.
func ReadEnriched(path string) ([]models.EnrichedRecord, error) {
	tbl, err := tabular.ReadFile(path, tabular.UTF8)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: read enriched")
	}
	for i, c := range tbl.Columns {
		tbl.Columns[i] = strings.TrimSpace(c)
	}
	tbl = tabular.NewTable(tbl.Columns, tbl.Rows)
	if !tbl.Has("RegistroANS") {
		return nil, eris.Errorf("reconcile: %s lacks column RegistroANS (have %v)", path, tbl.Columns)
	}

	out := make([]models.EnrichedRecord, 0, tbl.Len())
	for _, row := range tbl.Rows {
		year, err := strconv.Atoi(strings.TrimSpace(tbl.Get(row, "Ano")))
		if err != nil {
			zap.L().Warn("enriched row with unreadable year",
				zap.String("path", path), zap.String("registro_ans", tbl.Get(row, "RegistroANS")), zap.Error(err))
		}
		valid, _ := strconv.ParseBool(strings.TrimSpace(tbl.Get(row, "CNPJ_Valido")))
		out = append(out, models.EnrichedRecord{
			RegistryID: strings.TrimSpace(tbl.Get(row, "RegistroANS")),
			TaxID:      tbl.Get(row, "CNPJ"),
			LegalName:  tbl.Get(row, "RazaoSocial"),
			Quarter:    tbl.Get(row, "Trimestre"),
			Year:       year,
			Value:      tabular.DecimalOrZero(tbl.Get(row, "ValorDespesas")),
			Modality:   tbl.Get(row, "Modalidade"),
			State:      tbl.Get(row, "UF"),
			TaxIDValid: valid,
		})
	}
	return out, nil
}

// WriteSummary writes the aggregated report as UTF-8 with BOM.
func WriteSummary(path string, rows []models.AggregateSummary) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.LegalName,
			r.State,
			r.TaxID,
			tabular.FormatMoney(r.Total),
			tabular.FormatMoney(r.QuarterlyAvg),
			tabular.FormatMoney(r.QuarterlyStd),
		})
	}
	if err := tabular.WriteFile(path, SummaryHeader, out); err != nil {
		return eris.Wrap(err, "reconcile: write summary")
	}
	return nil
}

type summaryRow struct {
	LegalName    string  `parquet:"name=razao_social, type=UTF8, encoding=PLAIN_DICTIONARY"`
	State        string  `parquet:"name=uf, type=UTF8, encoding=PLAIN_DICTIONARY"`
	TaxID        string  `parquet:"name=cnpj, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Total        float64 `parquet:"name=despesa_total, type=DOUBLE"`
	QuarterlyAvg float64 `parquet:"name=media_trimestral, type=DOUBLE"`
	QuarterlyStd float64 `parquet:"name=desvio_padrao_trimestral, type=DOUBLE"`
}

// WriteSummaryParquet writes the aggregated report as a snappy-compressed Parquet file.
func WriteSummaryParquet(path string, rows []models.AggregateSummary) error {
	file, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "reconcile: create parquet")
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(summaryRow), 1)
	if err != nil {
		file.Close()
		return eris.Wrap(err, "reconcile: parquet schema")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		pr := &summaryRow{
			LegalName:    r.LegalName,
			State:        r.State,
			TaxID:        r.TaxID,
			Total:        r.Total.InexactFloat64(),
			QuarterlyAvg: r.QuarterlyAvg.InexactFloat64(),
			QuarterlyStd: r.QuarterlyStd.InexactFloat64(),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return eris.Wrap(err, "reconcile: parquet write")
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return eris.Wrap(err, "reconcile: parquet flush")
	}
	if err := file.Close(); err != nil {
		return eris.Wrap(err, "reconcile: close parquet file")
	}
	return nil
}
