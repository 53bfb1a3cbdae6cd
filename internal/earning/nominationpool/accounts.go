package nominationpool

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
)

// defaultPalletID is the nomination pools pallet id on every known runtime.
const defaultPalletID = "py/nopls"

// accountBonded is the AccountType index of a pool's stash.
const accountBonded = 0

// modulePrefix starts every pallet sub-account id.
const modulePrefix = "modl"

type slashingSpans struct {
	SpanIndex uint32 `json:"spanIndex"`
}

// palletID reads nominationPools.palletId as raw text or 0x hex, falling back
// to the default when it is absent or malformed.
func palletID(api chain.Reader) []byte {
	c, ok := api.Const(section, "palletId")
	if !ok {
		return []byte(defaultPalletID)
	}
	raw, ok, err := earning.Decode[string](c)
	if err != nil || !ok {
		return []byte(defaultPalletID)
	}
	if h, found := strings.CutPrefix(raw, "0x"); found {
		if b, err := hex.DecodeString(h); err == nil && len(b) == len(defaultPalletID) {
			return b
		}
		return []byte(defaultPalletID)
	}
	if len(raw) != len(defaultPalletID) {
		return []byte(defaultPalletID)
	}
	return []byte(raw)
}

// bondedAccount derives the stash that bonds a pool's funds:
// "modl" ++ palletId ++ accountType ++ poolId (u32 LE), zero padded to 32 bytes.
func bondedAccount(api chain.Reader, prefix uint16, poolID uint32) (string, error) {
	id := make([]byte, 32)
	n := copy(id, modulePrefix)
	n += copy(id[n:], palletID(api))
	id[n] = accountBonded
	binary.LittleEndian.PutUint32(id[n+1:], poolID)

	addr, err := chain.EncodeSS58(id, prefix)
	if err != nil {
		return "", fmt.Errorf("pool %d stash: %w", poolID, err)
	}
	return addr, nil
}

// poolSlashingSpans returns the slashing span count of the pool stash, which
// withdrawUnbonded needs to clean up the stash ledger.
func poolSlashingSpans(ctx context.Context, s *earning.Scope, poolID uint32) (uint32, error) {
	stash, err := bondedAccount(s.API, s.Chain.SS58Prefix, poolID)
	if err != nil {
		return 0, err
	}
	spans, err := earning.Read[slashingSpans](ctx, s.API, "staking", "slashingSpans", stash)
	if err != nil {
		return 0, err
	}
	return spans.SpanIndex, nil
}
