// Package store persists tiles into random-access dataset containers and
// writes the position index next to them.
//
// A container is a SQLite database holding named, typed, n-dimensional
// arrays. Every file is first written under a temporary name and only renamed
// into place once the whole run succeeded.
package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrPartialWrite wraps any failure while producing output files.
	ErrPartialWrite = errors.New("partial write")
	// ErrNotFound is returned for a dataset absent from a container.
	ErrNotFound = errors.New("dataset not found")
)

const (
	dtypeUint8   = "uint8"
	dtypeFloat64 = "float64"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// staged is a file being written under a temporary name.
type staged struct {
	path string
	tmp  string
}

func stage(path string) (staged, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return staged{}, fmt.Errorf("%w: %w", ErrPartialWrite, err)
	}
	return staged{path: path, tmp: path + ".tmp-" + uuid.NewString()}, nil
}

func (s staged) publish() error {
	if err := os.Rename(s.tmp, s.path); err != nil {
		return fmt.Errorf("%w: publishing %s: %w", ErrPartialWrite, s.path, err)
	}
	return nil
}

func (s staged) discard() error {
	err := os.Remove(s.tmp)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Publisher is output that can be moved into place or thrown away.
type Publisher interface {
	Publish() error
	Discard() error
}

// PublishAll publishes every item in order. On the first failure the
// remaining items are discarded.
func PublishAll(items ...Publisher) error {
	for i, p := range items {
		if err := p.Publish(); err != nil {
			for _, rest := range items[i:] {
				_ = rest.Discard()
			}
			return err
		}
	}
	return nil
}

// ContainerWriter fills a new container inside a single transaction.
type ContainerWriter struct {
	staged
	db     *sql.DB
	tx     *sql.Tx
	insert *sql.Stmt
	sealed bool
}

// CreateContainer starts a container that will appear at path once published.
func CreateContainer(path string) (*ContainerWriter, error) {
	s, err := stage(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", s.tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrPartialWrite, path, err)
	}
	w := &ContainerWriter{staged: s, db: db}
	if err := w.init(); err != nil {
		_ = w.Discard()
		return nil, fmt.Errorf("%w: creating %s: %w", ErrPartialWrite, path, err)
	}
	return w, nil
}

func (w *ContainerWriter) init() error {
	w.db.SetMaxOpenConns(1)
	if _, err := w.db.Exec(`CREATE TABLE datasets (
		name  TEXT PRIMARY KEY,
		dtype TEXT NOT NULL,
		shape TEXT NOT NULL,
		data  BLOB NOT NULL
	)`); err != nil {
		return err
	}
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	w.tx = tx
	w.insert, err = tx.Prepare("INSERT INTO datasets (name, dtype, shape, data) VALUES (?, ?, ?, ?)")
	return err
}

func (w *ContainerWriter) put(name, dtype string, shape []int, raw []byte) error {
	if w.sealed {
		return fmt.Errorf("%w: %s is closed", ErrPartialWrite, w.path)
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	size := 1
	if dtype == dtypeFloat64 {
		size = 8
	}
	if n*size != len(raw) {
		return fmt.Errorf("%w: dataset %s has %d bytes for shape %v", ErrPartialWrite, name, len(raw), shape)
	}
	js, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPartialWrite, err)
	}
	if _, err := w.insert.Exec(name, dtype, string(js), zstdEncoder.EncodeAll(raw, nil)); err != nil {
		return fmt.Errorf("%w: writing dataset %s: %w", ErrPartialWrite, name, err)
	}
	return nil
}

// PutUint8 stores a uint8 array.
func (w *ContainerWriter) PutUint8(name string, shape []int, data []uint8) error {
	return w.put(name, dtypeUint8, shape, data)
}

// PutFloat64 stores a float64 array.
func (w *ContainerWriter) PutFloat64(name string, shape []int, data []float64) error {
	raw := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	return w.put(name, dtypeFloat64, shape, raw)
}

// Close commits the datasets to the temporary file. The container is not
// visible at its path until Publish.
func (w *ContainerWriter) Close() error {
	if w.sealed {
		return nil
	}
	w.sealed = true
	err := errors.Join(w.insert.Close(), w.tx.Commit(), w.db.Close())
	if err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrPartialWrite, w.path, err)
	}
	return nil
}

// Publish closes the container if needed and moves it to its final path.
func (w *ContainerWriter) Publish() error {
	if err := w.Close(); err != nil {
		_ = w.staged.discard()
		return err
	}
	return w.staged.publish()
}

// Discard drops the container without publishing it.
func (w *ContainerWriter) Discard() error {
	if !w.sealed {
		w.sealed = true
		if w.insert != nil {
			_ = w.insert.Close()
		}
		if w.tx != nil {
			_ = w.tx.Rollback()
		}
		_ = w.db.Close()
	}
	_ = os.Remove(w.tmp + "-journal")
	return w.staged.discard()
}

// Path is where the container is published.
func (w *ContainerWriter) Path() string { return w.path }

// Container is a read-only view over a published container.
type Container struct {
	db *sql.DB
}

// OpenContainer opens an existing container for reading.
func OpenContainer(path string) (*Container, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", "file:"+filepath.ToSlash(path)+"?mode=ro")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Container{db: db}, nil
}

// Close releases the database handle.
func (c *Container) Close() error { return c.db.Close() }

// Names lists the datasets in the order they were written.
func (c *Container) Names() ([]string, error) {
	rows, err := c.db.Query("SELECT name FROM datasets ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (c *Container) get(name, dtype string) ([]byte, []int, error) {
	var got, shapeJSON string
	var blob []byte
	err := c.db.QueryRow("SELECT dtype, shape, data FROM datasets WHERE name = ?", name).Scan(&got, &shapeJSON, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, nil, err
	}
	if got != dtype {
		return nil, nil, fmt.Errorf("dataset %s is %s, not %s", name, got, dtype)
	}
	var shape []int
	if err := json.Unmarshal([]byte(shapeJSON), &shape); err != nil {
		return nil, nil, fmt.Errorf("dataset %s shape: %w", name, err)
	}
	raw, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dataset %s: %w", name, err)
	}
	return raw, shape, nil
}

// Uint8 reads a uint8 dataset and its shape.
func (c *Container) Uint8(name string) ([]uint8, []int, error) {
	return c.get(name, dtypeUint8)
}

// Float64 reads a float64 dataset and its shape.
func (c *Container) Float64(name string) ([]float64, []int, error) {
	raw, shape, err := c.get(name, dtypeFloat64)
	if err != nil {
		return nil, nil, err
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return out, shape, nil
}
