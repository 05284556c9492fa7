package lora

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ReadCF32 reads interleaved little-endian float32 I/Q pairs until EOF.
func ReadCF32(r io.Reader) ([]complex64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, newDecodeError(MalformedInput, "cf32 stream of %d bytes is not a whole number of samples", len(data))
	}
	iq := make([]complex64, len(data)/8)
	if _, err := binary.Decode(data, binary.LittleEndian, iq); err != nil {
		return nil, fmt.Errorf("decoding cf32: %w", err)
	}
	return iq, nil
}

// ReadCF32File reads a .cf32 capture.
func ReadCF32File(path string) ([]complex64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	iq, err := ReadCF32(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return iq, nil
}

// WriteCF32 writes iq as interleaved little-endian float32 I/Q pairs.
func WriteCF32(w io.Writer, iq []complex64) error {
	return binary.Write(w, binary.LittleEndian, iq)
}

// WriteCF32File writes iq to path, replacing any existing file.
func WriteCF32File(path string, iq []complex64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteCF32(bw, iq); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
