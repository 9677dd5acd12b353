package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
)

// genesisPrefix seeds the per-partition genesis hash. This constant is part
// of the chain format: changing it invalidates every existing chain.
const genesisPrefix = "neonpro/audit-ledger/genesis/"

// GenesisHash returns the fixed hash that anchors a partition's chain. The
// first record of partition p carries PreviousHash = GenesisHash(p).
func GenesisHash(p domain.AggregateType) string {
	sum := sha256.Sum256([]byte(genesisPrefix + p.String()))
	return hex.EncodeToString(sum[:])
}

// ChainHash computes the record hash: SHA-256 over the previous hash (hex
// bytes), the canonical event encoding, and the big-endian sequence number.
// Independent re-computation over the same inputs reproduces the stored
// value, which is what VerifyChain relies on.
func ChainHash(previousHash string, canonical []byte, sequence uint64) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonical)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	h.Write(seq[:])
	return hex.EncodeToString(h.Sum(nil))
}
