package tiling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicatePosition is returned when a grid cell is indexed twice.
var ErrDuplicatePosition = errors.New("grid position already indexed")

// Position is a cell of the tile grid. It encodes as [row, col].
type Position struct {
	Row int
	Col int
}

func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Row, p.Col})
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var v [2]int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	p.Row, p.Col = v[0], v[1]
	return nil
}

// Index maps grid positions to tile ids and back. Ids are handed out densely
// in insertion order; positions of rejected windows are simply absent.
type Index struct {
	positionToID map[int]map[int]int
	idToPosition []Position
	totalRows    int
	totalCols    int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{positionToID: make(map[int]map[int]int)}
}

// Insert records the next id at (row, col) and returns it.
func (x *Index) Insert(row, col int) (int, error) {
	cols, ok := x.positionToID[row]
	if !ok {
		cols = make(map[int]int)
		x.positionToID[row] = cols
	}
	if id, dup := cols[col]; dup {
		return 0, fmt.Errorf("%w: (%d, %d) is tile %d", ErrDuplicatePosition, row, col, id)
	}
	id := len(x.idToPosition)
	cols[col] = id
	x.idToPosition = append(x.idToPosition, Position{Row: row, Col: col})
	return id, nil
}

// Add indexes t at its grid position and sets t.ID.
func (x *Index) Add(t *Tile) error {
	id, err := x.Insert(t.GridRow, t.GridCol)
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// SetTotals records the grid dimensions, accepted or not.
func (x *Index) SetTotals(rows, cols int) {
	x.totalRows, x.totalCols = rows, cols
}

// Totals returns the grid dimensions.
func (x *Index) Totals() (rows, cols int) {
	return x.totalRows, x.totalCols
}

// Len is the number of indexed tiles.
func (x *Index) Len() int { return len(x.idToPosition) }

// ID looks up the tile at a grid position.
func (x *Index) ID(row, col int) (int, bool) {
	id, ok := x.positionToID[row][col]
	return id, ok
}

// Position looks up the grid position of a tile.
func (x *Index) Position(id int) (Position, bool) {
	if id < 0 || id >= len(x.idToPosition) {
		return Position{}, false
	}
	return x.idToPosition[id], true
}

// Rows lists the grid rows holding at least one tile, ascending.
func (x *Index) Rows() []int {
	rows := make([]int, 0, len(x.positionToID))
	for r, cols := range x.positionToID {
		if len(cols) > 0 {
			rows = append(rows, r)
		}
	}
	sort.Ints(rows)
	return rows
}

// Cols lists the indexed columns of a grid row, ascending.
func (x *Index) Cols(row int) []int {
	cols := make([]int, 0, len(x.positionToID[row]))
	for c := range x.positionToID[row] {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// Neighbors returns the ids of indexed tiles in the 8 cells around id, in
// row-major order.
func (x *Index) Neighbors(id int) []int {
	p, ok := x.Position(id)
	if !ok {
		return nil
	}
	var out []int
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			if n, ok := x.ID(p.Row+dr, p.Col+dc); ok {
				out = append(out, n)
			}
		}
	}
	return out
}
