package pool

import (
	"math/bits"

	"github.com/holiman/uint256"
)

// TickBitmap - упакованная карта инициализированных тиков: слово на 256 сжатых тиков
type TickBitmap struct {
	spacing int32
	words   map[int32]*uint256.Int
}

// NewTickBitmap создаёт пустую карту для шага spacing
func NewTickBitmap(spacing int32) *TickBitmap {
	return &TickBitmap{spacing: spacing, words: make(map[int32]*uint256.Int)}
}

// compress - tick/spacing с округлением к минус бесконечности
func (b *TickBitmap) compress(tick int32) int32 {
	compressed := tick / b.spacing
	if tick < 0 && tick%b.spacing != 0 {
		compressed--
	}
	return compressed
}

func bitPosition(compressed int32) (word int32, bit uint) {
	return compressed >> 8, uint(uint8(compressed & 0xff))
}

// FlipTick переключает бит тика; тик обязан лежать на сетке шага
func (b *TickBitmap) FlipTick(tick int32) {
	word, bit := bitPosition(tick / b.spacing)
	w, ok := b.words[word]
	if !ok {
		w = new(uint256.Int)
		b.words[word] = w
	}
	mask := new(uint256.Int).Lsh(one, bit)
	w.Xor(w, mask)
	if w.IsZero() {
		delete(b.words, word)
	}
}

// IsInitialized проверяет бит тика
func (b *TickBitmap) IsInitialized(tick int32) bool {
	if tick%b.spacing != 0 {
		return false
	}
	word, bit := bitPosition(tick / b.spacing)
	w, ok := b.words[word]
	if !ok {
		return false
	}
	return new(uint256.Int).Rsh(w, bit).Uint64()&1 == 1
}

// NextInitializedTickWithinOneWord ищет ближайший инициализированный тик в пределах
// одного слова: при lte - слева (включая текущий), иначе строго справа.
// Если в слове нет бита, возвращается граница слова и false.
func (b *TickBitmap) NextInitializedTickWithinOneWord(tick int32, lte bool) (int32, bool) {
	compressed := b.compress(tick)

	if lte {
		word, bit := bitPosition(compressed)
		// все биты с позиции bit и правее
		mask := new(uint256.Int).Lsh(one, bit)
		mask.Add(mask, new(uint256.Int).Sub(mask, one))
		masked := new(uint256.Int).And(b.word(word), mask)

		if masked.IsZero() {
			return (compressed - int32(bit)) * b.spacing, false
		}
		msb := uint(masked.BitLen() - 1)
		return (compressed - int32(bit-msb)) * b.spacing, true
	}

	word, bit := bitPosition(compressed + 1)
	// все биты с позиции bit и левее
	mask := new(uint256.Int).Lsh(one, bit)
	mask.Sub(mask, one)
	mask.Not(mask)
	masked := new(uint256.Int).And(b.word(word), mask)

	if masked.IsZero() {
		return (compressed + 1 + int32(255-bit)) * b.spacing, false
	}
	lsb := leastSignificantBit(masked)
	return (compressed + 1 + int32(lsb-bit)) * b.spacing, true
}

// Clear удаляет все слова
func (b *TickBitmap) Clear() {
	b.words = make(map[int32]*uint256.Int)
}

func (b *TickBitmap) word(pos int32) *uint256.Int {
	if w, ok := b.words[pos]; ok {
		return w
	}
	return new(uint256.Int)
}

func leastSignificantBit(x *uint256.Int) uint {
	for i, limb := range x {
		if limb != 0 {
			return uint(i*64 + bits.TrailingZeros64(limb))
		}
	}
	return 256
}
