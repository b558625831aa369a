package srp

import (
	"crypto/sha1"
	"math/big"
)

// Group parameters: the 2048-bit group from RFC 5054 Appendix A with
// generator 2 and SHA-1 as the hash, fixed for wire compatibility with
// deployed game servers. The multiplier k = H(N | PAD(g)) is computed
// once at init.
var (
	groupN *big.Int
	groupG = big.NewInt(2)
	groupK *big.Int

	// nLen is the byte width of N, used for left-padding operands
	// before hashing.
	nLen int
)

const group2048Hex = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
	"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
	"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
	"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
	"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
	"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
	"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
	"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

func init() {
	groupN = new(big.Int)
	if _, ok := groupN.SetString(group2048Hex, 16); !ok {
		panic("srp: invalid group prime")
	}
	nLen = len(groupN.Bytes())

	h := sha1.New()
	h.Write(groupN.Bytes())
	h.Write(pad(groupG))
	groupK = new(big.Int).SetBytes(h.Sum(nil))
}

// pad returns v as a big-endian byte string left-padded to the width of N.
func pad(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) >= nLen {
		return b
	}
	out := make([]byte, nLen)
	copy(out[nLen-len(b):], b)
	return out
}
