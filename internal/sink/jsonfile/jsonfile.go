// Package jsonfile writes records as an indented JSON array to a blob store
// and reads such files back.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/directory-scraper/internal/profile"
	"github.com/JakeFAU/directory-scraper/internal/storage"
	"github.com/JakeFAU/directory-scraper/internal/storage/gcs"
	"github.com/JakeFAU/directory-scraper/internal/storage/local"
)

const contentType = "application/json; charset=utf-8"

// Sink stores the record array at one object path.
type Sink struct {
	store  storage.BlobStore
	path   string
	logger *zap.Logger
	closer io.Closer
}

// New builds a Sink writing path on store.
func New(store storage.BlobStore, path string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, path: path, logger: logger}
}

// Options tune Open.
type Options struct {
	Logger *zap.Logger
	// GCS is passed to the storage client for gs:// destinations.
	GCS []option.ClientOption
}

// Target is a parsed output destination.
type Target struct {
	Scheme string
	// Root is the base directory (local) or bucket (gs).
	Root string
	// Path is the object path below Root.
	Path string
}

// ParseTarget splits dest into a backend and an object path. Plain paths and
// file:// URLs map to the local filesystem; gs://bucket/object maps to GCS.
func ParseTarget(dest string) (Target, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return Target{}, errors.New("output destination is required")
	}
	if !strings.Contains(dest, "://") {
		return localTarget(dest)
	}
	u, err := url.Parse(dest)
	if err != nil {
		return Target{}, fmt.Errorf("parse output destination: %w", err)
	}
	switch u.Scheme {
	case "file":
		return localTarget(u.Path)
	case "gs":
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return Target{}, fmt.Errorf("gs destination %q needs a bucket and an object", dest)
		}
		return Target{Scheme: "gs", Root: u.Host, Path: object}, nil
	default:
		return Target{}, fmt.Errorf("unsupported output scheme %q", u.Scheme)
	}
}

func localTarget(path string) (Target, error) {
	if path == "" || strings.HasSuffix(path, "/") {
		return Target{}, fmt.Errorf("output path %q must name a file", path)
	}
	return Target{Scheme: "file", Root: filepath.Dir(path), Path: filepath.Base(path)}, nil
}

// Open resolves dest to a blob store and returns a Sink on it.
func Open(ctx context.Context, dest string, opts Options) (*Sink, error) {
	target, err := ParseTarget(dest)
	if err != nil {
		return nil, err
	}
	switch target.Scheme {
	case "gs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: target.Root}, opts.Logger, opts.GCS...)
		if err != nil {
			return nil, err
		}
		s := New(store, target.Path, opts.Logger)
		s.closer = store
		return s, nil
	default:
		store, err := local.New(local.Config{BaseDir: target.Root})
		if err != nil {
			return nil, fmt.Errorf("open output directory: %w", err)
		}
		return New(store, target.Path, opts.Logger), nil
	}
}

// Name identifies the sink in logs and failure reports.
func (s *Sink) Name() string { return "json" }

// Write replaces the object with the encoded records.
func (s *Sink) Write(ctx context.Context, records []profile.Record) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}
	uri, err := s.store.PutObject(ctx, s.path, contentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("store %s: %w", s.path, err)
	}
	s.logger.Info("records saved", zap.String("uri", uri), zap.Int("records", len(records)), zap.Int("bytes", len(data)))
	return nil
}

// Close releases the backing store when Open created one.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Load reads the records stored at the sink's path.
func (s *Sink) Load(ctx context.Context) ([]profile.Record, error) {
	return Load(ctx, s.store, s.path)
}

// Load reads and decodes the array stored at path.
func Load(ctx context.Context, store storage.BlobStore, path string) ([]profile.Record, error) {
	rc, err := store.GetObject(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(data)
}

// Encode renders records as a UTF-8 JSON array with two-space indentation and
// a trailing newline. HTML characters are written literally.
func Encode(records []profile.Record) ([]byte, error) {
	if records == nil {
		records = []profile.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a JSON array of records.
func Decode(data []byte) ([]profile.Record, error) {
	var records []profile.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if records == nil {
		records = []profile.Record{}
	}
	return records, nil
}
