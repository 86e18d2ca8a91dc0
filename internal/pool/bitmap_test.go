package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestBitmap(ticks ...int32) *TickBitmap {
	b := NewTickBitmap(1)
	for _, t := range ticks {
		b.FlipTick(t)
	}
	return b
}

func TestTickBitmapFlip(t *testing.T) {
	b := NewTickBitmap(1)
	assert.False(t, b.IsInitialized(1))

	b.FlipTick(1)
	assert.True(t, b.IsInitialized(1))
	assert.False(t, b.IsInitialized(0))
	assert.False(t, b.IsInitialized(2))
	assert.False(t, b.IsInitialized(1+256))

	b.FlipTick(1)
	assert.False(t, b.IsInitialized(1))
	assert.Empty(t, b.words, "пустое слово удаляется")

	b.FlipTick(-230)
	b.FlipTick(-259)
	b.FlipTick(-229)
	b.FlipTick(500)
	b.FlipTick(-259)
	b.FlipTick(-229)
	b.FlipTick(-259)
	assert.True(t, b.IsInitialized(-259))
	assert.False(t, b.IsInitialized(-229))
	assert.True(t, b.IsInitialized(-230))
}

func TestTickBitmapSpacing(t *testing.T) {
	b := NewTickBitmap(60)
	b.FlipTick(-120)
	b.FlipTick(600)

	assert.True(t, b.IsInitialized(-120))
	assert.False(t, b.IsInitialized(-119), "тик вне сетки никогда не инициализирован")

	next, ok := b.NextInitializedTickWithinOneWord(-61, true)
	assert.True(t, ok)
	assert.Equal(t, int32(-120), next)

	next, ok = b.NextInitializedTickWithinOneWord(-120, false)
	assert.True(t, ok)
	assert.Equal(t, int32(600), next)
}

func TestNextInitializedTickWithinOneWord(t *testing.T) {
	b := newTestBitmap(-200, -55, -4, 70, 78, 84, 139, 240, 535)

	tests := []struct {
		name   string
		tick   int32
		lte    bool
		want   int32
		wantOK bool
	}{
		{"справа: следующий", 78, false, 84, true},
		{"справа: отрицательный", -55, false, -4, true},
		{"справа: соседний", 77, false, 78, true},
		{"справа: соседний отрицательный", -56, false, -55, true},
		{"справа: граница слова", 255, false, 511, false},
		{"справа: из предыдущего слова", -257, false, -200, true},
		{"справа: перед тиком", 238, false, 240, true},
		{"справа: вплотную", 239, false, 240, true},
		{"справа: пустой остаток слова", 240, false, 255, false},
		{"справа: последний в слове", 535, false, 767, false},
		{"слева: текущий", 78, true, 78, true},
		{"слева: правее текущего", 79, true, 78, true},
		{"слева: не выходит за слово", 258, true, 256, false},
		{"слева: граница слова", 256, true, 256, false},
		{"слева: меньший", 72, true, 70, true},
		{"слева: отрицательное слово", -257, true, -512, false},
		{"слева: пустое слово", 1023, true, 768, false},
		{"слева: середина пустого слова", 900, true, 768, false},
		{"слева: отрицательный текущий", -55, true, -55, true},
		{"слева: отрицательный соседний", -54, true, -55, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := b.NextInitializedTickWithinOneWord(tt.tick, tt.lte)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NextInitializedTickWithinOneWord(%d, %v) = (%d, %v), ожидалось (%d, %v)",
					tt.tick, tt.lte, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTickBitmapClear(t *testing.T) {
	b := newTestBitmap(1, 300, -700)
	b.Clear()
	for _, v := range []int32{1, 300, -700} {
		assert.False(t, b.IsInitialized(v))
	}
}
