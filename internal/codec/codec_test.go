package codec

import (
	"bytes"
	"io"
	"testing"

	"tradecore/internal/models"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalDigits(t *testing.T) {
	tests := []struct {
		in   string
		want uint8
	}{
		{"0", 0},
		{"42.0", 0},
		{"0.1", 1},
		{"0.25", 2},
		{"123.0001", 4},
		{"-42.987654321", 9},
		{"1.234567890123", 9},
		{"1e-3", 3},
		{"", 0},
		{"abc", 0},
	}

	for _, tt := range tests {
		if got := DecimalDigits(tt.in); got != tt.want {
			t.Errorf("DecimalDigits(%q) = %d, ожидалось %d", tt.in, got, tt.want)
		}
	}
}

func TestRawDigits(t *testing.T) {
	tests := []struct {
		raw  int64
		want uint8
	}{
		{0, 0},
		{3_000_000_000, 0},
		{250_000_000, 2},
		{-1_500_000_000, 1},
		{1, 9},
		{models.PriceUndef, 0},
	}

	for _, tt := range tests {
		if got := RawDigits(tt.raw); got != tt.want {
			t.Errorf("RawDigits(%d) = %d, ожидалось %d", tt.raw, got, tt.want)
		}
	}
}

func TestMarkLast(t *testing.T) {
	deltas := []models.OrderBookDelta{
		{TsEvent: 1},
		{TsEvent: 1},
		{TsEvent: 2, Flags: models.FlagSnapshot},
		{TsEvent: 3},
		{TsEvent: 3},
	}
	MarkLast(deltas)

	want := []uint8{0, models.FlagLast, models.FlagLast | models.FlagSnapshot, 0, models.FlagLast}
	for i, d := range deltas {
		assert.Equal(t, want[i], d.Flags, "флаги дельты %d", i)
	}

	MarkLast(nil)
}

func TestDecompress(t *testing.T) {
	payload := []byte("exchange,symbol\nbinance,BTCUSDT\n")

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var zs bytes.Buffer
	zw, err := zstd.NewWriter(&zs)
	require.NoError(t, err)
	_, err = zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tests := []struct {
		name string
		data []byte
	}{
		{"plain", payload},
		{"gzip", gz.Bytes()},
		{"zstd", zs.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := Decompress(bytes.NewReader(tt.data))
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

type sliceStream struct {
	chunks [][]int
	closed bool
}

func (s *sliceStream) Next() ([]int, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

func TestCollect(t *testing.T) {
	s := &sliceStream{chunks: [][]int{{1, 2}, {3}}}
	out, err := Collect[int](s)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.True(t, s.closed, "поток закрывается после чтения")
}
