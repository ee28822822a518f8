package jsonfile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-scraper/internal/profile"
	"github.com/JakeFAU/directory-scraper/internal/storage"
	"github.com/JakeFAU/directory-scraper/internal/storage/memory"
)

func sampleRecords() []profile.Record {
	return []profile.Record{
		{
			ProfileID:    "4242",
			URL:          "https://www.startupsg.gov.sg/profiles/4242",
			CompanyName:  "Acme & Sons <Robotics>",
			Description:  "Warehouse robots.",
			Website:      "https://acme.example/",
			ContactEmail: "hello@acme.example",
			ExtraFields: profile.NewFields(
				profile.Field{Key: "year_founded", Value: "2019"},
				profile.Field{Key: "employees", Value: "11 - 50"},
			),
		},
		{
			ProfileID:   "7",
			URL:         "https://www.startupsg.gov.sg/profiles/7",
			CompanyName: "Nimbus",
			Location:    "Singapore",
		},
	}
}

func TestEncodeLayout(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleRecords()[1:])
	require.NoError(t, err)
	want := `[
  {
    "profile_id": "7",
    "url": "https://www.startupsg.gov.sg/profiles/7",
    "company_name": "Nimbus",
    "description": "",
    "industry": "",
    "location": "Singapore",
    "website": "",
    "contact_email": "",
    "contact_phone": "",
    "funding_info": "",
    "extra_fields": {}
  }
]
`
	assert.Equal(t, want, string(data))

	empty, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(empty))
}

func TestEncodeKeepsExtraFieldOrderAndHTML(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleRecords()[:1])
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"company_name": "Acme & Sons <Robotics>"`)
	assert.Less(t, strings.Index(text, "year_founded"), strings.Index(text, "employees"))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	s := New(store, "exports/profiles.json", nil)
	records := sampleRecords()

	require.NoError(t, s.Write(context.Background(), records))
	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
	assert.Equal(t, []string{"year_founded", "employees"}, loaded[0].ExtraFields.Keys())
}

func TestOpenLocalPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "startups.json")
	s, err := Open(context.Background(), dest, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), sampleRecords()))
	require.NoError(t, s.Close())

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Len(t, decoded, 2)

	viaURL, err := Open(context.Background(), "file://"+dest, Options{})
	require.NoError(t, err)
	loaded, err := viaURL.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), loaded)
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dest string
		want Target
		err  bool
	}{
		{dest: "startups.json", want: Target{Scheme: "file", Root: ".", Path: "startups.json"}},
		{dest: "/tmp/x/startups.json", want: Target{Scheme: "file", Root: "/tmp/x", Path: "startups.json"}},
		{dest: "file:///var/data/s.json", want: Target{Scheme: "file", Root: "/var/data", Path: "s.json"}},
		{dest: "gs://exports/daily/s.json", want: Target{Scheme: "gs", Root: "exports", Path: "daily/s.json"}},
		{dest: "gs://exports", err: true},
		{dest: "s3://bucket/key", err: true},
		{dest: "  ", err: true},
		{dest: "out/", err: true},
	}
	for _, tc := range tests {
		t.Run(tc.dest, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTarget(tc.dest)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWriteReportsStoreFailure(t *testing.T) {
	t.Parallel()

	store := &storage.MockBlobStore{}
	store.On("PutObject", mock.Anything, "p.json", contentType, mock.Anything).Return("", errors.New("disk full"))
	err := New(store, "p.json", nil).Write(context.Background(), sampleRecords())
	assert.ErrorContains(t, err, "disk full")
	store.AssertExpectations(t)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	store := &storage.MockBlobStore{}
	store.On("GetObject", mock.Anything, "missing.json").Return(nil, storage.ErrNotFound)
	store.On("GetObject", mock.Anything, "bad.json").Return(io.NopCloser(bytes.NewReader([]byte("{"))), nil)

	_, err := Load(context.Background(), store, "missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = Load(context.Background(), store, "bad.json")
	assert.ErrorContains(t, err, "decode records")
}
