// Package json provides JSON encoding for manifests and reports, backed by goccy/go-json.
package json

import (
	"bytes"
	"io"
	"os"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// MarshalIndent encodes v with two-space indentation
func MarshalIndent(v interface{}) ([]byte, error) {
	return gojson.MarshalIndent(v, "", "  ")
}

// Encode writes v to w as indented JSON followed by a newline.
func Encode(w io.Writer, v interface{}) error {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= 1024*1024 { // Don't pool very large buffers
			bufferPool.Put(buf)
		}
	}()

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Decode reads one JSON value from r into v.
func Decode(r io.Reader, v interface{}) error {
	dec := gojson.NewDecoder(r)
	return dec.Decode(v)
}

// WriteFile encodes v into path, replacing any existing file.
func WriteFile(path string, v interface{}) error {
	f, err := os.Create(path) //nolint:gosec // path is controlled by the caller
	if err != nil {
		return err
	}
	if err := Encode(f, v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadFile decodes the JSON value stored at path into v.
func ReadFile(path string, v interface{}) error {
	f, err := os.Open(path) //nolint:gosec // path is controlled by the caller
	if err != nil {
		return err
	}
	defer f.Close()
	return Decode(f, v)
}
