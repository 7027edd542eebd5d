package compressors

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

func TestGetCompressor(t *testing.T) {
	tests := []struct {
		name    string
		ext     string
		wantErr bool
	}{
		{name: "zstd", ext: ".zst"},
		{name: "lz4", ext: ".lz4"},
		{name: "gzip", ext: ".gz"},
		{name: "none", ext: ""},
		{name: "brotli", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := GetCompressor(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedCompression) {
					t.Fatalf("expected ErrUnsupportedCompression, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if c.Extension() != tt.ext {
				t.Fatalf("expected extension %q, got %q", tt.ext, c.Extension())
			}
		})
	}
}

func TestStreamingRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("name,amount\nAlice,10\n"), 500)

	decoders := map[string]func(io.Reader) (io.Reader, error){
		"zstd": func(r io.Reader) (io.Reader, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
		"gzip": func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		},
		"lz4": func(r io.Reader) (io.Reader, error) {
			return lz4.NewReader(r), nil
		},
		"none": func(r io.Reader) (io.Reader, error) {
			return r, nil
		},
	}

	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			c, err := GetCompressor(name)
			if err != nil {
				t.Fatal(err)
			}

			var buf bytes.Buffer
			w, err := c.NewWriter(&buf, c.DefaultLevel())
			if err != nil {
				t.Fatal(err)
			}
			if _, err := w.Write(payload); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			r, err := decode(&buf)
			if err != nil {
				t.Fatal(err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}
