package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// vectorFile is the on-disk layout of vectors.bin: dimension (4), n (4),
// then per vector: idLen (4), id bytes, vector (dimension*4 bytes). All
// integers are little-endian.
type vectorFile struct {
	dimensions int
	ids        []string
	vectors    [][]float32
}

// writeVectorFile writes vf to path through a temp file and rename, so a
// crash never leaves a truncated file behind.
func writeVectorFile(path string, vf vectorFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vectors-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := encodeVectorFile(w, vf); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush vectors: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync vectors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close vectors: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename vectors: %w", err)
	}
	return nil
}

func encodeVectorFile(w io.Writer, vf vectorFile) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(vf.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(vf.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range vf.ids {
		idBytes := []byte(id)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := w.Write(idBytes); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(vf.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// readVectorFile loads path. ok is false when the file does not exist.
func readVectorFile(path string) (vf vectorFile, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return vectorFile{}, false, nil
		}
		return vectorFile{}, false, fmt.Errorf("open vectors: %w", err)
	}
	defer f.Close()
	vf, err = decodeVectorFile(bufio.NewReader(f))
	return vf, err == nil, err
}

func decodeVectorFile(r io.Reader) (vectorFile, error) {
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return vectorFile{}, fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return vectorFile{}, fmt.Errorf("read count: %w", err)
	}
	vf := vectorFile{
		dimensions: int(dim),
		ids:        make([]string, 0, n),
		vectors:    make([][]float32, 0, n),
	}
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return vectorFile{}, fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return vectorFile{}, fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return vectorFile{}, fmt.Errorf("read vector: %w", err)
		}
		vf.ids = append(vf.ids, string(idBytes))
		vf.vectors = append(vf.vectors, bytesToFloat32Slice(buf))
	}
	return vf, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
