package align

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// maxLineBytes bounds a single embedding line; 300-d fastText rows are ~4KB.
const maxLineBytes = 1 << 20

// LoadTextEmbeddings reads the word2vec text format: an optional
// "<count> <dim>" header, then one "token v1 ... vd" row per line. Without a
// header the dimension comes from the first row. maxWords > 0 stops after that
// many rows. A token seen twice keeps its first vector.
func LoadTextEmbeddings(r io.Reader, maxWords int) (*EmbeddingSpace, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		tokens []string
		data   []float64
		seen   = make(map[string]bool)
		dim    = -1
		line   = 0
	)

	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				d, err := strconv.Atoi(fields[1])
				if err != nil || d <= 0 {
					return nil, fmt.Errorf("line 1: invalid header dimension %q", fields[1])
				}
				dim = d
				continue
			}
		}

		if dim < 0 {
			dim = len(fields) - 1
			if dim <= 0 {
				return nil, fmt.Errorf("line %d: %w: row has no vector", line, ErrShapeMismatch)
			}
		}
		if len(fields)-1 != dim {
			return nil, fmt.Errorf("line %d: %w", line, dimensionError("embedding row", dim, len(fields)-1))
		}

		token := fields[0]
		if seen[token] {
			continue
		}
		row := make([]float64, dim)
		for k, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing component %d of %q: %w", line, k, token, err)
			}
			row[k] = v
		}
		seen[token] = true
		tokens = append(tokens, token)
		data = append(data, row...)

		if maxWords > 0 && len(tokens) >= maxWords {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading embeddings: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no embedding rows", ErrShapeMismatch)
	}

	return NewEmbeddingSpace(mat.NewDense(len(tokens), dim, data), tokens)
}

// LoadTextEmbeddingsFile opens a local path or http(s) URL and calls
// LoadTextEmbeddings.
func LoadTextEmbeddingsFile(ctx context.Context, location string, maxWords int, opts ...FetchOption) (*EmbeddingSpace, error) {
	f, err := OpenInput(ctx, location, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening embeddings: %w", err)
	}
	defer f.Close()

	space, err := LoadTextEmbeddings(f, maxWords)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return space, nil
}

// LoadSeedDictionary reads "source target" token pairs, one per line, and
// resolves them against both spaces. Pairs naming an unknown token are skipped
// and counted. Lines starting with '#' are comments.
func LoadSeedDictionary(r io.Reader, src, tgt *EmbeddingSpace) (Dictionary, int, error) {
	sc := bufio.NewScanner(r)
	var pairs []CandidatePair
	skipped := 0
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, skipped, fmt.Errorf("line %d: expected 2 tokens, got %d", line, len(fields))
		}
		i, okS := src.Index(fields[0])
		j, okT := tgt.Index(fields[1])
		if !okS || !okT {
			skipped++
			continue
		}
		pairs = append(pairs, CandidatePair{Source: i, Target: j, Score: 1})
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("reading seed dictionary: %w", err)
	}
	return NewDictionary(pairs, 0), skipped, nil
}

// LoadSeedDictionaryFile opens a local path or http(s) URL and calls
// LoadSeedDictionary.
func LoadSeedDictionaryFile(ctx context.Context, location string, src, tgt *EmbeddingSpace, opts ...FetchOption) (Dictionary, int, error) {
	f, err := OpenInput(ctx, location, opts...)
	if err != nil {
		return nil, 0, fmt.Errorf("opening seed dictionary: %w", err)
	}
	defer f.Close()
	return LoadSeedDictionary(f, src, tgt)
}
