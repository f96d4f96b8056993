package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akhenakh/tiledivide/tiling"
)

func TestContainerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.db")

	w, err := CreateContainer(path)
	require.NoError(t, err)
	require.NoError(t, w.PutUint8("image_1", []int{2, 2, 3}, []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}))
	require.NoError(t, w.PutFloat64("values", []int{3}, []float64{0.5, -0.5, 1}))
	require.ErrorIs(t, w.PutUint8("bad", []int{4}, []uint8{1}), ErrPartialWrite)

	// nothing is visible before publishing
	require.NoError(t, w.Close())
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, PublishAll(w))

	c, err := OpenContainer(path)
	require.NoError(t, err)
	defer c.Close()

	names, err := c.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"image_1", "values"}, names)

	pix, shape, err := c.Uint8("image_1")
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 3}, shape)
	require.Equal(t, []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, pix)

	values, shape, err := c.Float64("values")
	require.NoError(t, err)
	require.Equal(t, []int{3}, shape)
	require.Equal(t, []float64{0.5, -0.5, 1}, values)

	_, _, err = c.Float64("image_1")
	require.Error(t, err)
	_, _, err = c.Uint8("image_2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestContainerDiscard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")

	w, err := CreateContainer(path)
	require.NoError(t, err)
	require.NoError(t, w.PutUint8("image_1", []int{1}, []uint8{9}))
	require.NoError(t, w.Discard())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = OpenContainer(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func testTile(id, row, col int) *tiling.Tile {
	pix := make([]uint8, 2*3*tiling.Channels)
	for i := range pix {
		pix[i] = uint8(id*10 + i)
	}
	return &tiling.Tile{
		ID: id, GridRow: row, GridCol: col, Rows: 2, Cols: 3,
		GeoULY: 100 - float64(row), GeoULX: 50 + float64(col), Pix: pix,
	}
}

func TestTileWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	imagePath, paramPath := filepath.Join(dir, "image_data.db"), filepath.Join(dir, "image_param.db")

	w, err := CreateTileWriter(imagePath, paramPath)
	require.NoError(t, err)
	tiles := []*tiling.Tile{testTile(0, 0, 0), testTile(1, 0, 2), testTile(2, 1, 1)}
	for _, tile := range tiles {
		require.NoError(t, w.WriteTile(tile.ID+1, tile))
	}
	require.Equal(t, 3, w.Written())
	require.ErrorIs(t, w.Finish(0.5, -0.5, 4), ErrPartialWrite)
	require.NoError(t, w.Finish(0.5, -0.5, 3))
	require.NoError(t, PublishAll(w.Publishers()...))

	images, err := OpenContainer(imagePath)
	require.NoError(t, err)
	names, err := images.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"image_1", "image_2", "image_3", "values"}, names)
	require.NoError(t, images.Close())

	r, err := OpenTileReader(imagePath, paramPath)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 3, r.Len())
	pw, ph := r.Values()
	require.Equal(t, 0.5, pw)
	require.Equal(t, -0.5, ph)
	for seq := 1; seq <= r.Len(); seq++ {
		got, err := r.Tile(seq)
		require.NoError(t, err)
		want := tiles[seq-1]
		require.Equal(t, seq-1, got.ID)
		require.Equal(t, want.GridRow, got.GridRow)
		require.Equal(t, want.GridCol, got.GridCol)
		require.Equal(t, want.GeoULY, got.GeoULY)
		require.Equal(t, want.GeoULX, got.GeoULX)
		require.Equal(t, want.Shape(), got.Shape())
		require.Equal(t, want.Pix, got.Pix)
	}
}

func TestTileWriterRejectsOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateTileWriter(filepath.Join(dir, "a.db"), filepath.Join(dir, "b.db"))
	require.NoError(t, err)
	defer w.Discard()

	require.ErrorIs(t, w.WriteTile(2, testTile(1, 0, 0)), ErrPartialWrite)
	require.ErrorIs(t, w.WriteTile(1, testTile(5, 0, 0)), ErrPartialWrite)
	require.NoError(t, w.WriteTile(1, testTile(0, 0, 0)))
}

func TestEmptyTileStore(t *testing.T) {
	dir := t.TempDir()
	imagePath, paramPath := filepath.Join(dir, "image_data.db"), filepath.Join(dir, "image_param.db")

	w, err := CreateTileWriter(imagePath, paramPath)
	require.NoError(t, err)
	require.NoError(t, w.Finish(2, -2, 0))
	require.NoError(t, PublishAll(w.Publishers()...))

	for _, path := range []string{imagePath, paramPath} {
		c, err := OpenContainer(path)
		require.NoError(t, err)
		names, err := c.Names()
		require.NoError(t, err)
		require.Equal(t, []string{ValuesName}, names)
		values, _, err := c.Float64(ValuesName)
		require.NoError(t, err)
		require.Equal(t, []float64{2, -2, 0}, values)
		require.NoError(t, c.Close())
	}
}

func TestIndexFiles(t *testing.T) {
	dir := t.TempDir()
	idx := tiling.NewIndex()
	for _, p := range []tiling.Position{{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 1, Col: 2}, {Row: 10, Col: 3}} {
		_, err := idx.Insert(p.Row, p.Col)
		require.NoError(t, err)
	}
	idx.SetTotals(11, 4)

	require.NoError(t, WriteIndex(dir, "scene", idx))

	ijPath, nPath := IndexPaths(dir, "scene")
	ij, err := os.ReadFile(ijPath)
	require.NoError(t, err)
	require.Equal(t, `{"0":{"0":0,"1":1},"1":{"0":2,"2":3},"10":{"3":4}}`, string(ij))

	n, err := os.ReadFile(nPath)
	require.NoError(t, err)
	require.JSONEq(t, `{"0":[0,0],"1":[0,1],"2":[1,0],"3":[1,2],"4":[10,3],"total":[11,4]}`, string(n))

	back, err := ReadIndex(dir, "scene")
	require.NoError(t, err)
	require.Equal(t, idx.Len(), back.Len())
	rows, cols := back.Totals()
	require.Equal(t, 11, rows)
	require.Equal(t, 4, cols)
	for id := 0; id < idx.Len(); id++ {
		want, _ := idx.Position(id)
		got, ok := back.Position(id)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestReadIndexRejectsInconsistentFiles(t *testing.T) {
	dir := t.TempDir()
	idx := tiling.NewIndex()
	_, err := idx.Insert(0, 0)
	require.NoError(t, err)
	_, err = idx.Insert(0, 1)
	require.NoError(t, err)
	idx.SetTotals(1, 2)
	require.NoError(t, WriteIndex(dir, "scene", idx))

	ijPath, _ := IndexPaths(dir, "scene")
	b, err := json.Marshal(map[string]map[string]int{"0": {"0": 1, "1": 0}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ijPath, b, 0o644))

	_, err = ReadIndex(dir, "scene")
	require.ErrorIs(t, err, ErrInvalidIndex)
}
