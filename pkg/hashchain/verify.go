package hashchain

import (
	"fmt"

	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// Verification failure reasons, stable for automation.
const (
	ReasonChunkSizeMismatch   = "CHUNK_SIZE_MISMATCH"
	ReasonChunkCountMismatch  = "CHUNK_COUNT_MISMATCH"
	ReasonChunkDigestMismatch = "CHUNK_DIGEST_MISMATCH"
	ReasonCumulativeMismatch  = "CUMULATIVE_DIGEST_MISMATCH"
	ReasonOffsetMismatch      = "OFFSET_MISMATCH"
	ReasonRootMismatch        = "ROOT_MISMATCH"
)

// VerifyResult reports the outcome of a chain verification. ChunkIndex is -1
// when the failure is not tied to a single chunk.
type VerifyResult struct {
	Verified   bool   `json:"verified"`
	Reason     string `json:"reason,omitempty"`
	ChunkIndex int64  `json:"chunk_index"`
	Detail     string `json:"detail,omitempty"`
	ChainRoot  string `json:"chain_root,omitempty"`
}

// Err converts a failed result into its IntegrityViolation error.
func (r *VerifyResult) Err() error {
	if r.Verified {
		return nil
	}
	return contracts.NewIntegrityError("%s: %s", r.Reason, r.Detail)
}

// Verify recomputes the whole chain from the source bytes using the chain
// file's own chunk size and compares every field positionally. A mismatch is
// a hard failure, never a warning. Comparison runs strictly in chunk order;
// the first divergence is reported (everything after it is derived anyway).
func Verify(sourcePath string, chain *Chain) (*VerifyResult, error) {
	if chain.Header.ChunkSize <= 0 {
		res := &VerifyResult{Reason: ReasonChunkSizeMismatch, ChunkIndex: -1,
			Detail: fmt.Sprintf("chain declares invalid chunk size %d", chain.Header.ChunkSize)}
		return res, nil
	}

	recomputed, err := Build(sourcePath, chain.Header.ChunkSize)
	if err != nil {
		return nil, err
	}

	if int64(len(chain.Blocks)) != chain.Trailer.ChunkCount {
		return &VerifyResult{Reason: ReasonChunkCountMismatch, ChunkIndex: -1,
			Detail: fmt.Sprintf("chain file carries %d blocks but trailer declares %d",
				len(chain.Blocks), chain.Trailer.ChunkCount)}, nil
	}
	if len(recomputed.Blocks) != len(chain.Blocks) {
		return &VerifyResult{Reason: ReasonChunkCountMismatch, ChunkIndex: -1,
			Detail: fmt.Sprintf("source yields %d chunks, chain file has %d",
				len(recomputed.Blocks), len(chain.Blocks))}, nil
	}

	for i, want := range chain.Blocks {
		got := recomputed.Blocks[i]
		if want.ChunkIndex != got.ChunkIndex || want.StartOffset != got.StartOffset || want.EndOffset != got.EndOffset {
			return &VerifyResult{Reason: ReasonOffsetMismatch, ChunkIndex: got.ChunkIndex,
				Detail: fmt.Sprintf("chunk %d: declared range [%d,%d) index %d, recomputed [%d,%d) index %d",
					i, want.StartOffset, want.EndOffset, want.ChunkIndex,
					got.StartOffset, got.EndOffset, got.ChunkIndex)}, nil
		}
		if want.ChunkDigest != got.ChunkDigest {
			return &VerifyResult{Reason: ReasonChunkDigestMismatch, ChunkIndex: got.ChunkIndex,
				Detail: fmt.Sprintf("chunk %d: expected %s, computed %s",
					i, want.ChunkDigest, got.ChunkDigest)}, nil
		}
		if want.CumulativeDigest != got.CumulativeDigest {
			return &VerifyResult{Reason: ReasonCumulativeMismatch, ChunkIndex: got.ChunkIndex,
				Detail: fmt.Sprintf("chunk %d: expected %s, computed %s",
					i, want.CumulativeDigest, got.CumulativeDigest)}, nil
		}
	}

	if chain.Trailer.ChainRoot != recomputed.Trailer.ChainRoot {
		return &VerifyResult{Reason: ReasonRootMismatch, ChunkIndex: -1,
			Detail: fmt.Sprintf("declared root %s, computed %s",
				chain.Trailer.ChainRoot, recomputed.Trailer.ChainRoot)}, nil
	}

	return &VerifyResult{Verified: true, ChunkIndex: -1, ChainRoot: recomputed.Trailer.ChainRoot}, nil
}

// VerifyFile is Verify over a chain file on disk.
func VerifyFile(sourcePath, chainPath string) (*VerifyResult, error) {
	chain, err := ReadFile(chainPath)
	if err != nil {
		return nil, err
	}
	return Verify(sourcePath, chain)
}
