package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/akhenakh/tiledivide/tiling"
)

// TotalKey holds the grid dimensions in the id to position file.
const TotalKey = "total"

// ErrInvalidIndex is returned when index files disagree with each other.
var ErrInvalidIndex = errors.New("invalid index")

// IndexPaths returns the position to id and id to position file paths.
func IndexPaths(dir, name string) (positionToID, idToPosition string) {
	return filepath.Join(dir, name+"_ij_dict.json"), filepath.Join(dir, name+"_n_dict.json")
}

type stagedFile struct{ staged }

func (f stagedFile) Publish() error { return f.publish() }
func (f stagedFile) Discard() error { return f.discard() }

func stageJSON(path string, v any) (stagedFile, error) {
	s, err := stage(path)
	if err != nil {
		return stagedFile{}, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return stagedFile{}, fmt.Errorf("%w: encoding %s: %w", ErrPartialWrite, path, err)
	}
	if err := os.WriteFile(s.tmp, b, 0o644); err != nil {
		_ = s.discard()
		return stagedFile{}, fmt.Errorf("%w: writing %s: %w", ErrPartialWrite, path, err)
	}
	return stagedFile{s}, nil
}

// StageIndex writes both index files under temporary names.
func StageIndex(dir, name string, idx *tiling.Index) ([]Publisher, error) {
	ijPath, nPath := IndexPaths(dir, name)

	positions := orderedmap.New[int, *orderedmap.OrderedMap[int, int]]()
	for _, r := range idx.Rows() {
		cols := orderedmap.New[int, int]()
		for _, c := range idx.Cols(r) {
			id, _ := idx.ID(r, c)
			cols.Set(c, id)
		}
		positions.Set(r, cols)
	}
	ij, err := stageJSON(ijPath, positions)
	if err != nil {
		return nil, err
	}

	ids := orderedmap.New[string, tiling.Position]()
	for id := 0; id < idx.Len(); id++ {
		p, _ := idx.Position(id)
		ids.Set(strconv.Itoa(id), p)
	}
	rows, cols := idx.Totals()
	ids.Set(TotalKey, tiling.Position{Row: rows, Col: cols})
	n, err := stageJSON(nPath, ids)
	if err != nil {
		_ = ij.Discard()
		return nil, err
	}
	return []Publisher{ij, n}, nil
}

// WriteIndex writes and publishes both index files.
func WriteIndex(dir, name string, idx *tiling.Index) error {
	files, err := StageIndex(dir, name, idx)
	if err != nil {
		return err
	}
	return PublishAll(files...)
}

// ReadIndex loads the index files written by WriteIndex and checks that they
// are inverse of each other.
func ReadIndex(dir, name string) (*tiling.Index, error) {
	ijPath, nPath := IndexPaths(dir, name)

	b, err := os.ReadFile(nPath)
	if err != nil {
		return nil, err
	}
	ids := orderedmap.New[string, tiling.Position]()
	if err := json.Unmarshal(b, ids); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidIndex, nPath, err)
	}

	total, ok := ids.Get(TotalKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q entry", ErrInvalidIndex, nPath, TotalKey)
	}
	positions := make([]tiling.Position, ids.Len()-1)
	for pair := ids.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == TotalKey {
			continue
		}
		id, err := strconv.Atoi(pair.Key)
		if err != nil || id < 0 || id >= len(positions) {
			return nil, fmt.Errorf("%w: unexpected id %q", ErrInvalidIndex, pair.Key)
		}
		positions[id] = pair.Value
	}

	idx := tiling.NewIndex()
	idx.SetTotals(total.Row, total.Col)
	for _, p := range positions {
		if _, err := idx.Insert(p.Row, p.Col); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidIndex, err)
		}
	}

	b, err = os.ReadFile(ijPath)
	if err != nil {
		return nil, err
	}
	byRow := orderedmap.New[int, *orderedmap.OrderedMap[int, int]]()
	if err := json.Unmarshal(b, byRow); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidIndex, ijPath, err)
	}
	count := 0
	for row := byRow.Oldest(); row != nil; row = row.Next() {
		for col := row.Value.Oldest(); col != nil; col = col.Next() {
			count++
			if id, ok := idx.ID(row.Key, col.Key); !ok || id != col.Value {
				return nil, fmt.Errorf("%w: (%d, %d) is %d in %s", ErrInvalidIndex, row.Key, col.Key, col.Value, ijPath)
			}
		}
	}
	if count != idx.Len() {
		return nil, fmt.Errorf("%w: %s has %d entries, %s has %d", ErrInvalidIndex, ijPath, count, nPath, idx.Len())
	}
	return idx, nil
}
