package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountKind is the address format a chain expects.
type AccountKind string

// Account kinds.
const (
	AccountSubstrate AccountKind = "substrate"
	AccountEVM       AccountKind = "evm"
)

// AccountKindOf returns the account model of a chain.
func AccountKindOf(info Info) AccountKind {
	if info.EVM {
		return AccountEVM
	}
	return AccountSubstrate
}

// IsEVMAddress reports whether address is a 20 byte hex address.
func IsEVMAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// NormalizeEVMAddress returns the EIP-55 checksummed form of an EVM address.
func NormalizeEVMAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// PartitionAddresses splits addresses into substrate and EVM formats, keeping input order.
// Duplicates and blanks are dropped.
func PartitionAddresses(addresses []string) (substrate, evm []string) {
	seen := make(map[string]struct{}, len(addresses))
	for _, raw := range addresses {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}
		key := addr
		if IsEVMAddress(addr) {
			key = strings.ToLower(addr)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if IsEVMAddress(addr) {
			evm = append(evm, addr)
		} else {
			substrate = append(substrate, addr)
		}
	}
	return substrate, evm
}

// AddressesFor picks the address set matching the chain's account model.
func AddressesFor(info Info, substrate, evm []string) []string {
	if AccountKindOf(info) == AccountEVM {
		return evm
	}
	return substrate
}

// ValidateAddress checks that address matches the chain's account model.
func ValidateAddress(info Info, address string) bool {
	if info.EVM {
		return IsEVMAddress(address)
	}
	return IsSS58Address(address)
}
