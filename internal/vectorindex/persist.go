package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

// Snapshot file layout (little-endian): magic, format version, model id,
// dimension, entry count, then per entry chunk id, corpus tag, verified flag
// and the raw float32 vector. The model id and dimension let Load reject a
// snapshot built under a different model instead of silently comparing
// incompatible vectors.
var snapshotMagic = [4]byte{'L', 'X', 'I', 'X'}

const snapshotFormatVersion = uint16(1)

var corpusTags = map[types.Corpus]byte{
	types.CorpusLaw:  0,
	types.CorpusCase: 1,
}

// Persist writes the published snapshot to path atomically (temp file +
// rename). Returns ErrIndexUnavailable when nothing has been built yet.
func (ix *Index) Persist(path string) error {
	snap := ix.current.Load()
	if snap == nil {
		return types.ErrIndexUnavailable
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	if err := writeSnapshot(w, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish snapshot file: %w", err)
	}
	ix.log.Info("vector index persisted", "path", path, "entries", len(snap.entries))
	return nil
}

// Load reads a snapshot from path and publishes it, after verifying that the
// stored model id and dimensionality match what is currently configured.
// A mismatch returns ErrDimensionMismatch and publishes nothing; the caller
// must rebuild from storage instead.
func (ix *Index) Load(path, wantModel string, wantDim int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	snap, err := readSnapshot(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	if snap.dim != wantDim {
		return fmt.Errorf("%w: snapshot built with dimension %d, configured model uses %d",
			types.ErrDimensionMismatch, snap.dim, wantDim)
	}
	if wantModel != "" && snap.model != wantModel {
		return fmt.Errorf("%w: snapshot built with model %q, configured model is %q",
			types.ErrDimensionMismatch, snap.model, wantModel)
	}

	ix.buildMu.Lock()
	ix.current.Store(snap)
	ix.buildMu.Unlock()
	ix.log.Info("vector index loaded", "path", path, "entries", len(snap.entries), "model", snap.model)
	return nil
}

func writeSnapshot(w io.Writer, snap *snapshot) error {
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, snapshotFormatVersion); err != nil {
		return err
	}

	model := []byte(snap.model)
	if err := binary.Write(w, binary.LittleEndian, uint16(len(model))); err != nil {
		return err
	}
	if _, err := w.Write(model); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(snap.dim)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(snap.entries))); err != nil {
		return err
	}

	for i := range snap.entries {
		entry := &snap.entries[i]
		tag, ok := corpusTags[entry.Corpus]
		if !ok {
			return fmt.Errorf("unknown corpus %q", entry.Corpus)
		}
		verified := byte(0)
		if entry.Verified {
			verified = 1
		}
		if err := binary.Write(w, binary.LittleEndian, entry.ChunkID); err != nil {
			return err
		}
		if _, err := w.Write([]byte{tag, verified}); err != nil {
			return err
		}
		for _, v := range entry.Vector {
			if err := binary.Write(w, binary.LittleEndian, math.Float32bits(v)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readSnapshot(r io.Reader) (*snapshot, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("not an index snapshot file")
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version %d", version)
	}

	var modelLen uint16
	if err := binary.Read(r, binary.LittleEndian, &modelLen); err != nil {
		return nil, err
	}
	model := make([]byte, modelLen)
	if _, err := io.ReadFull(r, model); err != nil {
		return nil, err
	}

	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	tagCorpus := map[byte]types.Corpus{}
	for corpus, tag := range corpusTags {
		tagCorpus[tag] = corpus
	}

	snap := &snapshot{
		model:   string(model),
		dim:     int(dim),
		entries: make([]Entry, count),
		builtAt: time.Now(),
	}

	for i := range snap.entries {
		var chunkID int64
		if err := binary.Read(r, binary.LittleEndian, &chunkID); err != nil {
			return nil, err
		}
		var flags [2]byte
		if _, err := io.ReadFull(r, flags[:]); err != nil {
			return nil, err
		}
		corpus, ok := tagCorpus[flags[0]]
		if !ok {
			return nil, fmt.Errorf("unknown corpus tag %d", flags[0])
		}

		vector := make([]float32, dim)
		for j := range vector {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, err
			}
			vector[j] = math.Float32frombits(bits)
		}

		snap.entries[i] = Entry{
			ChunkID:  chunkID,
			Corpus:   corpus,
			Verified: flags[1] == 1,
			Vector:   vector,
		}
	}

	return snap, nil
}
