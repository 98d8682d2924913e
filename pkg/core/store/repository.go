package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// ExpenseEntry is one line of an operator's expense history.
type ExpenseEntry struct {
	Year    int     `json:"ano"`
	Quarter string  `json:"trimestre"`
	Value   float64 `json:"valor_despesa"`
}

// OperatorTotal is an operator with its summed expenses.
type OperatorTotal struct {
	LegalName *string `json:"razao_social"`
	Total     float64 `json:"total"`
}

// Statistics summarizes the whole despesas table.
type Statistics struct {
	Total   float64         `json:"total_despesas"`
	Average float64         `json:"media_despesas"`
	Top5    []OperatorTotal `json:"top_5"`
}

// PgRepository serves the API's read queries from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a repository on pool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const operatorColumns = `registro_ans, cnpj, razao_social, modalidade, uf`

// ListOperators returns one page of operators ordered by registry identifier and
// the total number of matches. search filters by legal name or tax id, case-insensitively.
func (r *PgRepository) ListOperators(ctx context.Context, page, limit int, search string) ([]Operator, int, error) {
	if r.pool == nil {
		return nil, 0, eris.New("store: database pool not configured")
	}

	where := ""
	args := []any{}
	if search != "" {
		where = ` WHERE razao_social ILIKE $1 OR cnpj ILIKE $1`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM operators`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "store: count operators")
	}

	offset := (page - 1) * limit
	query := `SELECT ` + operatorColumns + ` FROM operators` + where +
		` ORDER BY registro_ans LIMIT ` + placeholder(len(args)+1) + ` OFFSET ` + placeholder(len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "store: list operators")
	}
	defer rows.Close()

	out := []Operator{}
	for rows.Next() {
		var op Operator
		if err := rows.Scan(&op.RegistryID, &op.TaxID, &op.LegalName, &op.Modality, &op.State); err != nil {
			return nil, 0, eris.Wrap(err, "store: scan operator")
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "store: iterate operators")
	}
	return out, total, nil
}

// GetOperator returns the operator with tax id cnpj, or ErrNotFound.
func (r *PgRepository) GetOperator(ctx context.Context, cnpj string) (*Operator, error) {
	if r.pool == nil {
		return nil, eris.New("store: database pool not configured")
	}

	var op Operator
	err := r.pool.QueryRow(ctx,
		`SELECT `+operatorColumns+` FROM operators WHERE cnpj = $1 ORDER BY registro_ans LIMIT 1`, cnpj,
	).Scan(&op.RegistryID, &op.TaxID, &op.LegalName, &op.Modality, &op.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "operator %s", cnpj)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get operator")
	}
	return &op, nil
}

// ListExpenses returns the expense history of the operators with tax id cnpj, newest first.
func (r *PgRepository) ListExpenses(ctx context.Context, cnpj string) ([]ExpenseEntry, error) {
	if r.pool == nil {
		return nil, eris.New("store: database pool not configured")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT d.ano, d.trimestre, d.valor_despesa::float8
		FROM despesas d
		JOIN operators o ON d.registro_ans = o.registro_ans
		WHERE o.cnpj = $1
		ORDER BY d.ano DESC, d.trimestre DESC
	`, cnpj)
	if err != nil {
		return nil, eris.Wrap(err, "store: list expenses")
	}
	defer rows.Close()

	out := []ExpenseEntry{}
	for rows.Next() {
		var e ExpenseEntry
		if err := rows.Scan(&e.Year, &e.Quarter, &e.Value); err != nil {
			return nil, eris.Wrap(err, "store: scan expense")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate expenses")
	}
	return out, nil
}

// Statistics returns the total and average expense and the five operators with the highest totals.
func (r *PgRepository) Statistics(ctx context.Context) (*Statistics, error) {
	if r.pool == nil {
		return nil, eris.New("store: database pool not configured")
	}

	stats := &Statistics{Top5: []OperatorTotal{}}
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(valor_despesa), 0)::float8, COALESCE(AVG(valor_despesa), 0)::float8
		FROM despesas
	`).Scan(&stats.Total, &stats.Average)
	if err != nil {
		return nil, eris.Wrap(err, "store: expense totals")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT o.razao_social, SUM(d.valor_despesa)::float8 AS total
		FROM despesas d
		JOIN operators o ON d.registro_ans = o.registro_ans
		GROUP BY o.razao_social
		ORDER BY total DESC
		LIMIT 5
	`)
	if err != nil {
		return nil, eris.Wrap(err, "store: top operators")
	}
	defer rows.Close()

	for rows.Next() {
		var t OperatorTotal
		if err := rows.Scan(&t.LegalName, &t.Total); err != nil {
			return nil, eris.Wrap(err, "store: scan top operator")
		}
		stats.Top5 = append(stats.Top5, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate top operators")
	}
	return stats, nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
