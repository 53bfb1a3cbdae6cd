package output

import (
	"io"

	"github.com/mdp/qrterminal/v3"
	"rsc.io/qr"

	"github.com/mrz1836/harvest/internal/chain"
)

// QROptions tunes terminal QR rendering.
type QROptions struct {
	Level      qr.Level
	QuietZone  int
	HalfBlocks bool
}

// DefaultQROptions draws compact half-block codes at low error correction.
func DefaultQROptions() QROptions {
	return QROptions{Level: qr.L, QuietZone: 1, HalfBlocks: true}
}

// DepositPayload is the text encoded for a deposit address. EVM addresses
// use the ethereum: URI scheme; Substrate addresses are encoded as is.
func DepositPayload(address string) string {
	if chain.IsEVMAddress(address) {
		return "ethereum:" + address
	}
	return address
}

// WriteDepositQR draws address as a QR code when w is a terminal and
// reports whether it drew anything.
func WriteDepositQR(w io.Writer, address string, opts QROptions) bool {
	if address == "" || !isTerminal(w) {
		return false
	}
	qrterminal.GenerateWithConfig(DepositPayload(address), qrterminal.Config{
		Level:          opts.Level,
		Writer:         w,
		QuietZone:      opts.QuietZone,
		HalfBlocks:     opts.HalfBlocks,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
	})
	return true
}
