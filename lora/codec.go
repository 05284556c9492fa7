package lora

import "fmt"

// Interleaver selects the diagonal convention used to spread codeword bits over
// the symbols of a block.
type Interleaver int

const (
	// InterleaverLegacy maps row r, column c to row (c-r-1) mod rows.
	InterleaverLegacy Interleaver = iota
	// InterleaverAlt maps row r, column c to row (r+c) mod rows.
	InterleaverAlt
)

func (il Interleaver) String() string {
	if il == InterleaverAlt {
		return "alt"
	}
	return "legacy"
}

func (il Interleaver) destRow(row, col, rows int) int {
	if il == InterleaverAlt {
		return mod(row+col, rows)
	}
	return mod(col-row-1, rows)
}

// GrayEncode returns the reflected binary code of v.
func GrayEncode(v int) int {
	return v ^ v>>1
}

// GrayDecode inverts GrayEncode.
func GrayDecode(g int) int {
	v := g
	for shift := 1; g>>shift != 0; shift++ {
		v ^= g >> shift
	}
	return v
}

// Block is a bit matrix of rows x cols, one bit per byte. Columns are symbols,
// rows are codewords once deinterleaved.
type Block [][]byte

func NewBlock(rows, cols int) Block {
	b := make(Block, rows)
	for r := range b {
		b[r] = make([]byte, cols)
	}
	return b
}

func (b Block) Rows() int { return len(b) }

func (b Block) Cols() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Deinterleave moves bit [row, col] of in to [dest(row, col), col].
func Deinterleave(in Block, il Interleaver) Block {
	rows, cols := in.Rows(), in.Cols()
	out := NewBlock(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[il.destRow(r, c, rows)][c] = in[r][c]
		}
	}
	return out
}

// Interleave is the transmit-side inverse of Deinterleave.
func Interleave(in Block, il Interleaver) Block {
	rows, cols := in.Rows(), in.Cols()
	out := NewBlock(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r][c] = in[il.destRow(r, c, rows)][c]
		}
	}
	return out
}

// symbolsToBlock spreads the low rows bits of each symbol value down its
// column. With msbTop the most significant bit lands in row 0.
func symbolsToBlock(values []int, rows int, msbTop bool) Block {
	b := NewBlock(rows, len(values))
	for c, v := range values {
		for bit := 0; bit < rows; bit++ {
			row := bit
			if msbTop {
				row = rows - 1 - bit
			}
			b[row][c] = byte(v>>bit) & 1
		}
	}
	return b
}

// blockToSymbols is the inverse of symbolsToBlock.
func blockToSymbols(b Block, msbTop bool) []int {
	rows := b.Rows()
	values := make([]int, b.Cols())
	for c := range values {
		for bit := 0; bit < rows; bit++ {
			row := bit
			if msbTop {
				row = rows - 1 - bit
			}
			values[c] |= int(b[row][c]) << bit
		}
	}
	return values
}

// rowCodeword reads a deinterleaved row as an integer, column 0 first (MSB).
func rowCodeword(row []byte) int {
	cw := 0
	for _, bit := range row {
		cw = cw<<1 | int(bit)
	}
	return cw
}

// reverseCols returns a copy of values in reverse order.
func reverseCols(values []int) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[len(values)-1-i] = v
	}
	return out
}

// rotateCols returns values rotated left by n positions.
func rotateCols(values []int, n int) []int {
	out := make([]int, len(values))
	for i := range values {
		out[i] = values[mod(i+n, len(values))]
	}
	return out
}

// Mapping is one way of turning a block of symbol values back into codewords.
// The zero value is the canonical LoRa mapping.
type Mapping struct {
	// MSBLow places the least significant symbol bit in row 0 instead of the
	// most significant one.
	MSBLow         bool
	Interleaver    Interleaver
	ReverseCols    bool
	ReverseBits    bool
	ReverseNibbles bool
	// Phase rotates the block's columns left before deinterleaving.
	Phase int
}

// Rank counts the departures from the canonical mapping.
func (m Mapping) Rank() int {
	rank := 0
	for _, b := range []bool{m.MSBLow, m.Interleaver != InterleaverLegacy, m.ReverseCols, m.ReverseBits, m.ReverseNibbles, m.Phase != 0} {
		if b {
			rank++
		}
	}
	return rank
}

func (m Mapping) String() string {
	if m == (Mapping{}) {
		return "canonical"
	}
	return fmt.Sprintf("{MSBLow:%t Interleaver:%s ReverseCols:%t ReverseBits:%t ReverseNibbles:%t Phase:%d}",
		m.MSBLow, m.Interleaver, m.ReverseCols, m.ReverseBits, m.ReverseNibbles, m.Phase)
}

// Mappings enumerates every mapping for blocks of cwLen columns, canonical
// first.
func Mappings(cwLen int) []Mapping {
	var out []Mapping
	for _, msbLow := range []bool{false, true} {
		for _, il := range []Interleaver{InterleaverLegacy, InterleaverAlt} {
			for _, rc := range []bool{false, true} {
				for _, rb := range []bool{false, true} {
					for _, rn := range []bool{false, true} {
						for phase := 0; phase < cwLen; phase++ {
							out = append(out, Mapping{
								MSBLow:         msbLow,
								Interleaver:    il,
								ReverseCols:    rc,
								ReverseBits:    rb,
								ReverseNibbles: rn,
								Phase:          phase,
							})
						}
					}
				}
			}
		}
	}
	return out
}

// DecodeBlock turns one block of len(values) == h.Len() symbol values of rows
// bits each into rows nibbles. ok is false if any codeword is uncorrectable.
// With force set the nearest nibble is used regardless.
func (m Mapping) DecodeBlock(values []int, rows int, h *Hamming, force bool) (nibbles []int, ok bool) {
	v := values
	if m.ReverseCols {
		v = reverseCols(v)
	}
	if m.Phase != 0 {
		v = rotateCols(v, m.Phase)
	}
	if m.ReverseBits {
		rv := make([]int, len(v))
		for i, x := range v {
			rv[i] = RevBits(x, rows)
		}
		v = rv
	}
	b := Deinterleave(symbolsToBlock(v, rows, !m.MSBLow), m.Interleaver)
	nibbles = make([]int, rows)
	ok = true
	for r := range b {
		n, _, good := h.Decode(rowCodeword(b[r]))
		if !good {
			if !force {
				return nil, false
			}
			ok = false
		}
		if m.ReverseNibbles {
			n = Rev4(n)
		}
		nibbles[r] = n
	}
	return nibbles, ok
}

// EncodeBlock is the inverse of DecodeBlock: rows nibbles become h.Len()
// symbol values of rows bits.
func (m Mapping) EncodeBlock(nibbles []int, h *Hamming) []int {
	rows, cols := len(nibbles), h.Len()
	d := NewBlock(rows, cols)
	for r, n := range nibbles {
		if m.ReverseNibbles {
			n = Rev4(n)
		}
		cw := h.Encode(n)
		for c := 0; c < cols; c++ {
			d[r][c] = byte(cw>>(cols-1-c)) & 1
		}
	}
	v := blockToSymbols(Interleave(d, m.Interleaver), !m.MSBLow)
	if m.ReverseBits {
		for i, x := range v {
			v[i] = RevBits(x, rows)
		}
	}
	if m.Phase != 0 {
		v = rotateCols(v, -m.Phase)
	}
	if m.ReverseCols {
		v = reverseCols(v)
	}
	return v
}
