package tabular

import (
	"testing"
	"time"

	"github.com/ajitpratap0/finlake/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRecordsFlattensAndInfers(t *testing.T) {
	records := []map[string]interface{}{
		{
			"codigo":     "FND1",
			"data":       "2024-01-15",
			"patrimonio": 1500.5,
			"ativo":      true,
			"gestor":     map[string]interface{}{"nome": "Acme", "cnpj": "00.000"},
			"tags":       []interface{}{"a", "b"},
		},
		{
			"codigo": "FND2",
			"data":   "2024-01-16",
			"ativo":  false,
			"gestor": map[string]interface{}{"nome": "Beta"},
			"extra":  float64(3),
		},
	}

	table := FromRecords(records)
	require.NoError(t, table.Validate())
	assert.Equal(t, 2, table.NumRows())

	types := map[string]models.FieldType{}
	for _, c := range table.Columns {
		types[c.Name] = c.Type
	}
	assert.Equal(t, models.FieldTypeString, types["codigo"])
	assert.Equal(t, models.FieldTypeDate, types["data"])
	assert.Equal(t, models.FieldTypeFloat, types["patrimonio"])
	assert.Equal(t, models.FieldTypeBool, types["ativo"])
	assert.Equal(t, models.FieldTypeString, types["gestor.nome"])
	assert.Equal(t, models.FieldTypeString, types["gestor.cnpj"])
	assert.Equal(t, models.FieldTypeString, types["tags"])
	assert.Equal(t, models.FieldTypeFloat, types["extra"])

	// Keys of the first record come first, alphabetically.
	assert.Equal(t, "ativo", table.Columns[0].Name)
	assert.Equal(t, "extra", table.Columns[len(table.Columns)-1].Name)

	idx := table.ColumnIndex("gestor.cnpj")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "00.000", table.Rows[0][idx])
	assert.Nil(t, table.Rows[1][idx])

	idx = table.ColumnIndex("data")
	assert.Equal(t, time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), table.Rows[1][idx])

	idx = table.ColumnIndex("tags")
	assert.Equal(t, `["a","b"]`, table.Rows[0][idx])
}

func TestFromRecordsMixedColumnFallsBackToString(t *testing.T) {
	table := FromRecords([]map[string]interface{}{
		{"v": 1.5},
		{"v": "n/a"},
		{"v": nil},
	})
	require.Len(t, table.Columns, 1)
	assert.Equal(t, models.FieldTypeString, table.Columns[0].Type)
	assert.Equal(t, "1.5", table.Rows[0][0])
	assert.Equal(t, "n/a", table.Rows[1][0])
	assert.Nil(t, table.Rows[2][0])
}

func TestFromRecordsEmpty(t *testing.T) {
	table := FromRecords(nil)
	assert.Equal(t, 0, table.NumRows())
	assert.Empty(t, table.Columns)
}

func TestFromStrings(t *testing.T) {
	header := []string{"CNPJ_CIA", " CD_CVM", "VL_CAPITAL", "DT_REG", "SIT"}
	rows := [][]string{
		{"11.111", "9512", "100.5", "2010-05-01", "ATIVO"},
		{"22.222", "", "7", "01/02/2011", ""},
	}

	table, err := FromStrings(header, rows)
	require.NoError(t, err)
	require.NoError(t, table.Validate())

	tests := []struct {
		name string
		typ  models.FieldType
	}{
		{"CNPJ_CIA", models.FieldTypeString},
		{"CD_CVM", models.FieldTypeInt},
		{"VL_CAPITAL", models.FieldTypeFloat},
		{"DT_REG", models.FieldTypeDate},
		{"SIT", models.FieldTypeString},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.name, table.Columns[i].Name)
		assert.Equal(t, tt.typ, table.Columns[i].Type, tt.name)
	}

	assert.Equal(t, int64(9512), table.Rows[0][1])
	assert.Nil(t, table.Rows[1][1])
	assert.Equal(t, 7.0, table.Rows[1][2])
	assert.Equal(t, time.Date(2011, 2, 1, 0, 0, 0, 0, time.UTC), table.Rows[1][3])
	assert.Nil(t, table.Rows[1][4])
}

func TestFromStringsRaggedRow(t *testing.T) {
	_, err := FromStrings([]string{"a", "b"}, [][]string{{"1"}})
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("15/01/2024")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), d)

	_, ok = ParseDate("2024-13-01")
	assert.False(t, ok)
}
