package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ans_transparency/pkg/core/config"
	"ans_transparency/pkg/core/metrics"
	"ans_transparency/pkg/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(config.Database{Driver: config.DriverSQLite, URL: dsn})
	require.NoError(t, err)
	return db
}

func enriched() []models.EnrichedRecord {
	return []models.EnrichedRecord{
		{RegistryID: "123", TaxID: "11444777000161", LegalName: "ACME", Year: 2024, Quarter: "1T", Value: decimal.RequireFromString("1000.50"), Modality: "X", State: "SP", TaxIDValid: true},
		{RegistryID: "123", TaxID: "11444777000161", LegalName: "ACME", Year: 2023, Quarter: "4T", Value: decimal.RequireFromString("10"), Modality: "X", State: "SP", TaxIDValid: true},
		{RegistryID: "999", TaxID: models.NotAvailable, LegalName: "Reg. ANS 999", Year: 2024, Quarter: "1T", Value: decimal.Zero, Modality: models.NotAvailable, State: models.NotAvailable},
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.Database{Driver: "mysql", URL: "x"})
	assert.Error(t, err)
}

func TestSchema_CreateAndVerify(t *testing.T) {
	db := setupTestDB(t)

	err := VerifySchema(db)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))

	require.NoError(t, CreateSchema(db))
	require.NoError(t, CreateSchema(db))
	assert.NoError(t, VerifySchema(db))
}

func TestVerifySchema_ColumnMismatch(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Exec(`CREATE TABLE operators (registro_ans TEXT PRIMARY KEY, cnpj TEXT, razao_social TEXT)`).Error)
	require.NoError(t, db.Migrator().CreateTable(&Expense{}))

	err := VerifySchema(db)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.Contains(t, err.Error(), "operators")
}

func TestOperatorRows(t *testing.T) {
	ops := OperatorRows(enriched())
	require.Len(t, ops, 2)

	assert.Equal(t, "123", ops[0].RegistryID)
	require.NotNil(t, ops[0].State)
	assert.Equal(t, "SP", *ops[0].State)

	assert.Equal(t, "999", ops[1].RegistryID)
	assert.Nil(t, ops[1].State)
	require.NotNil(t, ops[1].TaxID)
	assert.Equal(t, models.NotAvailable, *ops[1].TaxID)
}

func TestStateCode(t *testing.T) {
	assert.Nil(t, stateCode(""))
	assert.Nil(t, stateCode(models.NotAvailable))
	assert.Equal(t, "SP", *stateCode(" SP "))
	assert.Equal(t, "Sã", *stateCode("São Paulo"))
}

func TestLoader_Append(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, CreateSchema(db))
	m := metrics.New(prometheus.NewRegistry())
	loader := NewLoader(db, 1, nil, m)

	res, err := loader.Append(context.Background(), enriched())
	require.NoError(t, err)
	assert.Equal(t, LoadResult{Operators: 2, Expenses: 3}, res)

	var ops []Operator
	require.NoError(t, db.Order("registro_ans").Find(&ops).Error)
	require.Len(t, ops, 2)
	assert.Equal(t, "ACME", *ops[0].LegalName)
	assert.Nil(t, ops[1].State)

	var expenses []Expense
	require.NoError(t, db.Order("id").Find(&expenses).Error)
	require.Len(t, expenses, 3)
	assert.Equal(t, "123", expenses[0].RegistryID)
	assert.Equal(t, "1T", expenses[0].Quarter)
	assert.Equal(t, 2024, expenses[0].Year)
	assert.True(t, expenses[0].Value.Equal(decimal.RequireFromString("1000.5")), expenses[0].Value.String())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues("operators")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues("despesas")))
}

func TestLoader_AppendIsInsertOnly(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, CreateSchema(db))
	loader := NewLoader(db, 0, nil, nil)

	_, err := loader.Append(context.Background(), enriched()[2:])
	require.NoError(t, err)

	// the same registry id again violates the operators primary key and nothing is written
	_, err = loader.Append(context.Background(), enriched())
	require.Error(t, err)

	var n int64
	require.NoError(t, db.Model(&Expense{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	// new operators keep appending next to the existing rows
	_, err = loader.Append(context.Background(), enriched()[:2])
	require.NoError(t, err)
	require.NoError(t, db.Model(&Expense{}).Count(&n).Error)
	assert.Equal(t, int64(3), n)
}

func TestLoader_AppendEmpty(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, CreateSchema(db))

	res, err := NewLoader(db, 10, nil, nil).Append(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, LoadResult{}, res)
}
