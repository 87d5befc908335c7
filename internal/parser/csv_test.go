package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Precipitation,Temperature,Humidity,Flooding,Node_Id,Station_Id,collectiontime,Lat_deg,Lon_deg
0.2794,,,0,NODE_a-55001,7,2026-07-18 20:42:34,60.79,-161.78
,21.5,63.0,0,NODE_a-55002,7,2026-07-18 20:43:34,60.79,-161.78
,,,1,NODE_b-55003,3,2026-07-18 20:44:34,58.3,-157.2
`

func createTestCSV(t *testing.T, content string) string {
	tmpDir := t.TempDir()
	csvPath := filepath.Join(tmpDir, "test.csv")
	err := os.WriteFile(csvPath, []byte(content), 0644)
	require.NoError(t, err)
	return csvPath
}

func TestNewCSVParser(t *testing.T) {
	csvPath := createTestCSV(t, sampleCSV)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	require.NotNil(t, parser)
	defer parser.Close()

	assert.Contains(t, parser.headerMap, "node_id")
	assert.Contains(t, parser.headerMap, "station_id")
	assert.Contains(t, parser.headerMap, "collectiontime")
	assert.Contains(t, parser.headerMap, "precipitation")
}

func TestNewCSVParserFileNotFound(t *testing.T) {
	parser, err := NewCSVParser("/non/existent/file.csv")
	assert.Error(t, err)
	assert.Nil(t, parser)
}

func TestReadNext(t *testing.T) {
	csvPath := createTestCSV(t, sampleCSV)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	defer parser.Close()

	row, err := parser.ReadNext()
	require.NoError(t, err)
	require.NotNil(t, row)

	assert.Equal(t, "NODE_a-55001", row.NodeID)
	require.NotNil(t, row.Precipitation)
	assert.Equal(t, 0.2794, *row.Precipitation)
	require.NotNil(t, row.StationID)
	assert.Equal(t, 7, *row.StationID)
	assert.NotZero(t, row.CollectionTime)
}

func TestReadBatch(t *testing.T) {
	csvPath := createTestCSV(t, sampleCSV)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	defer parser.Close()

	rows, err := parser.ReadBatch(2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = parser.ReadBatch(10)
	require.NoError(t, err)
	assert.Len(t, rows, 1) // Only 1 remaining
}

func TestReadAll(t *testing.T) {
	csvPath := createTestCSV(t, sampleCSV)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	defer parser.Close()

	rows, err := parser.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReset(t *testing.T) {
	csvPath := createTestCSV(t, sampleCSV)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	defer parser.Close()

	rows1, err := parser.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows1, 3)

	err = parser.Reset()
	require.NoError(t, err)

	rows2, err := parser.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows2, 3)
}

func TestCountRecords(t *testing.T) {
	csvPath := createTestCSV(t, sampleCSV)

	count, err := CountRecords(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestValidateCSV(t *testing.T) {
	csvPath := createTestCSV(t, sampleCSV)

	err := ValidateCSV(csvPath)
	require.NoError(t, err)
}

func TestValidateCSVMissingColumns(t *testing.T) {
	invalidCSV := `col1,col2
value1,value2
`
	csvPath := createTestCSV(t, invalidCSV)

	err := ValidateCSV(csvPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing required column")
}

func TestValidateCSVEmpty(t *testing.T) {
	emptyCSV := "Precipitation,Temperature,Humidity,Flooding,Node_Id,Station_Id,collectiontime,Lat_deg,Lon_deg\n"
	csvPath := createTestCSV(t, emptyCSV)

	err := ValidateCSV(csvPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadNextEOF(t *testing.T) {
	csvPath := createTestCSV(t, sampleCSV)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	defer parser.Close()

	for i := 0; i < 3; i++ {
		row, err := parser.ReadNext()
		require.NoError(t, err)
		require.NotNil(t, row)
	}

	row, err := parser.ReadNext()
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCaseInsensitiveHeaders(t *testing.T) {
	csvContent := `PRECIPITATION,TEMPERATURE,HUMIDITY,FLOODING,NODE_ID,STATION_ID,COLLECTIONTIME,LAT_DEG,LON_DEG
0.5,,,0,NODE_a-1,1,2026-07-18 20:42:34,60.0,-160.0
`
	csvPath := createTestCSV(t, csvContent)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	defer parser.Close()

	row, err := parser.ReadNext()
	require.NoError(t, err)
	require.NotNil(t, row)

	assert.Equal(t, "NODE_a-1", row.NodeID)
	require.NotNil(t, row.Precipitation)
	assert.Equal(t, 0.5, *row.Precipitation)
}

func TestMissingRequiredField(t *testing.T) {
	csvContent := `Precipitation,Temperature,Humidity,Flooding,Node_Id,Station_Id,collectiontime,Lat_deg,Lon_deg
0.5,,,0,,1,2026-07-18 20:42:34,60.0,-160.0
`
	csvPath := createTestCSV(t, csvContent)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	defer parser.Close()

	row, err := parser.ReadNext()
	assert.Error(t, err)
	assert.Nil(t, row)
	assert.Contains(t, err.Error(), "node_id")
}

func TestInvalidCollectionTime(t *testing.T) {
	csvContent := `Precipitation,Temperature,Humidity,Flooding,Node_Id,Station_Id,collectiontime,Lat_deg,Lon_deg
0.5,,,0,NODE_a-1,1,not-a-time,60.0,-160.0
`
	csvPath := createTestCSV(t, csvContent)

	parser, err := NewCSVParser(csvPath)
	require.NoError(t, err)
	defer parser.Close()

	row, err := parser.ReadNext()
	assert.Error(t, err)
	assert.Nil(t, row)
}
