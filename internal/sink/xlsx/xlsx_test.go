package xlsx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/directory-scraper/internal/profile"
)

func TestWriteWorkbook(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "exports", "startups.xlsx")
	s, err := New(path, "", nil)
	require.NoError(t, err)

	records := []profile.Record{
		{ProfileID: "1", URL: "https://d.example/profiles/1", CompanyName: "Acme",
			ExtraFields: profile.NewFields(profile.Field{Key: "employees", Value: "11 - 50"})},
		{ProfileID: "2", URL: "https://d.example/profiles/2", CompanyName: "Nimbus", Location: "Singapore"},
	}
	require.NoError(t, s.Write(context.Background(), records))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	assert.Equal(t, []string{DefaultSheetName}, f.GetSheetList())
	rows, err := f.GetRows(DefaultSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, profile.Columns, rows[0])
	assert.Equal(t, "Acme", rows[1][2])
	assert.Equal(t, `{"employees":"11 - 50"}`, rows[1][10])
	assert.Equal(t, "Singapore", rows[2][5])
}

func TestWriteEmptyKeepsHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.xlsx")
	s, err := New(path, "Profiles", nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), nil))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	rows, err := f.GetRows("Profiles")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "profile_id", rows[0][0])
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New("", "", nil)
	assert.Error(t, err)
}

func TestWriteHonorsCancellation(t *testing.T) {
	t.Parallel()

	s, err := New(filepath.Join(t.TempDir(), "x.xlsx"), "", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, nil), context.Canceled)
}
