package evm

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Minimal ABI encoding/decoding for the handful of calls this adapter makes.
// Everything works on 32-byte hex words.

const wordHexLen = 64

// word encodes a big.Int as a left-padded 32-byte hex word.
func word(v *big.Int) string {
	s := v.Text(16)
	return strings.Repeat("0", wordHexLen-len(s)) + s
}

// addressArg encodes an address as a call argument word.
func addressArg(addr string) string {
	a := strings.TrimPrefix(strings.ToLower(addr), "0x")
	return strings.Repeat("0", wordHexLen-len(a)) + a
}

// splitWords slices an eth_call result into 32-byte words.
func splitWords(raw string) []*big.Int {
	hexData := strings.TrimPrefix(raw, "0x")
	var out []*big.Int
	for len(hexData) >= wordHexLen {
		w, ok := new(big.Int).SetString(hexData[:wordHexLen], 16)
		if !ok {
			return out
		}
		out = append(out, w)
		hexData = hexData[wordHexLen:]
	}
	return out
}

// abiString decodes an ABI-encoded dynamic string return value.
func abiString(raw string) (string, bool) {
	hexData := strings.TrimPrefix(raw, "0x")
	if len(hexData) < 2*wordHexLen {
		return "", false
	}

	// word 0: offset (in bytes), word at offset: length, then the bytes.
	offset, ok := new(big.Int).SetString(hexData[:wordHexLen], 16)
	if !ok {
		return "", false
	}
	lenPos := int(offset.Int64()) * 2
	if lenPos+wordHexLen > len(hexData) {
		return "", false
	}
	strLen, ok := new(big.Int).SetString(hexData[lenPos:lenPos+wordHexLen], 16)
	if !ok {
		return "", false
	}
	dataPos := lenPos + wordHexLen
	dataEnd := dataPos + int(strLen.Int64())*2
	if dataEnd > len(hexData) {
		return "", false
	}

	decoded := make([]byte, 0, strLen.Int64())
	for i := dataPos; i+2 <= dataEnd; i += 2 {
		b, ok := new(big.Int).SetString(hexData[i:i+2], 16)
		if !ok {
			return "", false
		}
		decoded = append(decoded, byte(b.Int64()))
	}
	return strings.TrimRight(string(decoded), "\x00"), true
}

// addressWord extracts the address in the nth 32-byte data word.
func addressWord(data string, n int) (string, bool) {
	hexData := strings.TrimPrefix(data, "0x")
	start := n * wordHexLen
	if start+wordHexLen > len(hexData) {
		return "", false
	}
	return "0x" + hexData[start+24:start+wordHexLen], true
}

// topicAddress extracts an address from a left-padded 32-byte topic.
func topicAddress(topic string) string {
	t := strings.TrimPrefix(topic, "0x")
	if len(t) < 40 {
		return "0x" + t
	}
	return "0x" + t[len(t)-40:]
}

// hexToUint64 parses a 0x-prefixed quantity; malformed input yields zero.
func hexToUint64(s string) uint64 {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return 0
	}
	return v.Uint64()
}

// fromWei converts an integer token amount to a decimal using the token's
// decimals.
func fromWei(v *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -int32(decimals))
}
