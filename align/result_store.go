package align

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"gonum.org/v1/gonum/mat"
)

// RecordPair is a dictionary entry with its tokens resolved.
type RecordPair struct {
	Source      int     `json:"source"`
	Target      int     `json:"target"`
	SourceToken string  `json:"sourceToken,omitempty"`
	TargetToken string  `json:"targetToken,omitempty"`
	Score       float64 `json:"score"`
}

// ResultRecord is the persisted and published form of a Result.
type ResultRecord struct {
	Status        string           `json:"status"`
	Error         string           `json:"error,omitempty"`
	Iterations    int              `json:"iterations"`
	BestIteration int              `json:"bestIteration"`
	MatchedScore  float64          `json:"matchedScore"`
	MatchedCosine float64          `json:"matchedCosine"`
	Structural    float64          `json:"structural"`
	Dimension     int              `json:"dimension"`
	Mapping       [][]float64      `json:"mapping"`
	Pairs         []RecordPair     `json:"pairs"`
	History       []IterationStats `json:"history,omitempty"`
	LastUpdated   int64            `json:"lastUpdated"`
}

// NewResultRecord flattens res. src and tgt supply tokens and may be nil.
func NewResultRecord(res *Result, src, tgt *EmbeddingSpace) *ResultRecord {
	rec := &ResultRecord{
		Status:        res.Status.String(),
		Iterations:    res.Iterations,
		BestIteration: res.BestIteration,
		MatchedScore:  res.MatchedScore,
		MatchedCosine: res.MatchedCosine,
		Structural:    res.Structural,
		History:       res.History,
		Pairs:         make([]RecordPair, 0, len(res.Dictionary)),
	}
	if err := res.Err(); err != nil {
		rec.Error = err.Error()
	}
	if res.Mapping != nil {
		d, _ := res.Mapping.Dims()
		rec.Dimension = d
		rec.Mapping = make([][]float64, d)
		for i := range rec.Mapping {
			rec.Mapping[i] = mat.Row(nil, i, res.Mapping)
		}
	}
	for _, p := range res.Dictionary {
		rp := RecordPair{Source: p.Source, Target: p.Target, Score: p.Score}
		if src != nil {
			rp.SourceToken = src.Token(p.Source)
		}
		if tgt != nil {
			rp.TargetToken = tgt.Token(p.Target)
		}
		rec.Pairs = append(rec.Pairs, rp)
	}
	return rec
}

// MappingMatrix rebuilds the d×d mapping, or nil when the record has none.
func (r *ResultRecord) MappingMatrix() *mat.Dense {
	if r.Dimension == 0 || len(r.Mapping) != r.Dimension {
		return nil
	}
	m := mat.NewDense(r.Dimension, r.Dimension, nil)
	for i, row := range r.Mapping {
		if len(row) != r.Dimension {
			return nil
		}
		m.SetRow(i, row)
	}
	return m
}

// Translate looks up the dictionary entry for a source token.
func (r *ResultRecord) Translate(token string) (RecordPair, bool) {
	for _, p := range r.Pairs {
		if p.SourceToken == token {
			return p, true
		}
	}
	return RecordPair{}, false
}

// TopPairs returns at most limit pairs; limit <= 0 returns all of them.
func (r *ResultRecord) TopPairs(limit int) []RecordPair {
	if limit <= 0 || limit >= len(r.Pairs) {
		return r.Pairs
	}
	return r.Pairs[:limit]
}

// Codec names the compression applied to a stored result.
type Codec int

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

// CodecForPath picks the codec from the file extension: .zst, .lz4 or plain.
func CodecForPath(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CodecZstd
	case ".lz4":
		return CodecLZ4
	default:
		return CodecNone
	}
}

// SaveResult writes rec as JSON to path, compressed according to its extension.
func SaveResult(path string, rec *ResultRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating result directory: %w", err)
	}

	rec.LastUpdated = time.Now().Unix()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating result file: %w", err)
	}
	if err := EncodeResult(f, rec, CodecForPath(path)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing result file: %w", err)
	}
	return nil
}

// LoadResult reads a result written by SaveResult. A missing file yields (nil, nil).
func LoadResult(path string) (*ResultRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer f.Close()
	return DecodeResult(f, CodecForPath(path))
}

// EncodeResult writes rec as indented JSON through the codec.
func EncodeResult(w io.Writer, rec *ResultRecord, codec Codec) error {
	var (
		sink  io.Writer = w
		flush func() error
	)
	switch codec {
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		sink, flush = enc, enc.Close
	case CodecLZ4:
		zw := lz4.NewWriter(w)
		sink, flush = zw, zw.Close
	}

	je := json.NewEncoder(sink)
	je.SetIndent("", "  ")
	if err := je.Encode(rec); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if flush != nil {
		if err := flush(); err != nil {
			return fmt.Errorf("flushing compressed result: %w", err)
		}
	}
	return nil
}

// DecodeResult reads a record written by EncodeResult with the same codec.
func DecodeResult(r io.Reader, codec Codec) (*ResultRecord, error) {
	src := r
	switch codec {
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		src = dec
	case CodecLZ4:
		src = lz4.NewReader(r)
	}

	var rec ResultRecord
	if err := json.NewDecoder(src).Decode(&rec); err != nil {
		return nil, fmt.Errorf("parsing result: %w", err)
	}
	return &rec, nil
}
