// Package hashchain builds and verifies a rolling, chunked SHA-256 chain over
// an ordered byte log (receipt or payout files). The chain detects any
// reordering, truncation, insertion, or byte-level mutation: flipping one
// byte changes that chunk's digest and every cumulative digest after it.
//
// Construction, for fixed-size chunks (the final chunk may be shorter):
//
//	chunk_digest_i      = sha256(chunk_bytes_i)
//	cumulative_digest_i = sha256(cumulative_digest_{i-1} || chunk_digest_i)
//
// The anchor cumulative_digest_{-1} is 32 zero bytes. The anchor convention
// may only change by contract, and writer and verifier must stay in sync.
package hashchain

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// DefaultChunkSize is the chunk size used when the caller does not choose one.
const DefaultChunkSize = 64 * 1024

// Anchor is the fixed initial cumulative digest (32 zero bytes).
var Anchor = make([]byte, sha256.Size)

// Header is the first record of a chain file.
type Header struct {
	Schema    string `json:"schema"`
	ChunkSize int64  `json:"chunk_size"`
	Source    string `json:"source"`
}

// Block is one chunk record. Offsets are byte positions in the source,
// end exclusive.
type Block struct {
	ChunkIndex       int64  `json:"chunk_index"`
	StartOffset      int64  `json:"start_offset"`
	EndOffset        int64  `json:"end_offset"`
	ChunkDigest      string `json:"chunk_digest"`
	CumulativeDigest string `json:"cumulative_digest"`
}

// Trailer closes a chain file and exposes the chain root.
type Trailer struct {
	ChainRoot   string `json:"chain_root"`
	ChunkCount  int64  `json:"chunk_count"`
	SourceBytes int64  `json:"source_bytes"`
}

// Chain is a fully built or fully parsed chain file.
type Chain struct {
	Header  Header
	Blocks  []Block
	Trailer Trailer
}

// Root returns the final cumulative digest. An empty source's root is the
// hex-encoded anchor.
func (c *Chain) Root() string { return c.Trailer.ChainRoot }

// Build streams the source file and constructs the chain. Chunks are
// processed in strict file order; the cumulative fold is inherently
// sequential.
func Build(sourcePath string, chunkSize int64) (*Chain, error) {
	if chunkSize <= 0 {
		return nil, contracts.NewConfigurationError("chunk size must be positive, got %d", chunkSize)
	}
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, contracts.NewMissingArtifactError("source %s: %v", sourcePath, err)
	}
	defer f.Close()

	chain := &Chain{
		Header: Header{
			Schema:    contracts.SchemaHashChain,
			ChunkSize: chunkSize,
			Source:    filepath.Base(sourcePath),
		},
	}

	r := bufio.NewReader(f)
	buf := make([]byte, chunkSize)
	cumulative := append([]byte(nil), Anchor...)
	var index, offset int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunkDigest := sha256.Sum256(buf[:n])
			cumulative = fold(cumulative, chunkDigest[:])
			chain.Blocks = append(chain.Blocks, Block{
				ChunkIndex:       index,
				StartOffset:      offset,
				EndOffset:        offset + int64(n),
				ChunkDigest:      hex.EncodeToString(chunkDigest[:]),
				CumulativeDigest: hex.EncodeToString(cumulative),
			})
			index++
			offset += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", sourcePath, err)
		}
	}

	chain.Trailer = Trailer{
		ChainRoot:   hex.EncodeToString(cumulative),
		ChunkCount:  index,
		SourceBytes: offset,
	}
	return chain, nil
}

func fold(prev, chunkDigest []byte) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write(chunkDigest)
	return h.Sum(nil)
}

// WriteTo emits the chain as NDJSON: header record, one record per chunk,
// trailer record. The output is byte-deterministic for identical inputs.
func (c *Chain) WriteTo(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(c.Header); err != nil {
		return err
	}
	for _, b := range c.Blocks {
		if err := enc.Encode(b); err != nil {
			return err
		}
	}
	return enc.Encode(c.Trailer)
}

// WriteFile writes the chain file at path.
func (c *Chain) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := c.WriteTo(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadFile parses a chain file written by WriteFile.
func ReadFile(path string) (*Chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, contracts.NewMissingArtifactError("chain file %s: %v", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a chain from NDJSON. The header must come first and the
// trailer last; anything else is an integrity violation.
func Read(r io.Reader) (*Chain, error) {
	chain := &Chain{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawHeader, sawTrailer := false, false
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if sawTrailer {
			return nil, contracts.NewIntegrityError("chain file has records after trailer")
		}
		if !sawHeader {
			if err := json.Unmarshal(line, &chain.Header); err != nil || chain.Header.Schema != contracts.SchemaHashChain {
				return nil, contracts.NewIntegrityError("chain file missing %s header", contracts.SchemaHashChain)
			}
			sawHeader = true
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, contracts.NewIntegrityError("malformed chain record: %v", err)
		}
		if _, ok := probe["chain_root"]; ok {
			if err := json.Unmarshal(line, &chain.Trailer); err != nil {
				return nil, contracts.NewIntegrityError("malformed chain trailer: %v", err)
			}
			sawTrailer = true
			continue
		}
		var b Block
		if err := json.Unmarshal(line, &b); err != nil {
			return nil, contracts.NewIntegrityError("malformed chain block: %v", err)
		}
		chain.Blocks = append(chain.Blocks, b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read chain: %w", err)
	}
	if !sawHeader {
		return nil, contracts.NewIntegrityError("chain file is empty")
	}
	if !sawTrailer {
		return nil, contracts.NewIntegrityError("chain file missing trailer")
	}
	return chain, nil
}
