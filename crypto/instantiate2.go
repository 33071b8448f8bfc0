package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

var (
	ErrChecksumLength = errors.New("crypto: code checksum must be 32 bytes")
	ErrSaltLength     = errors.New("crypto: salt must be between 1 and 64 bytes")
)

const maxSaltLength = 64

// Instantiate2Address predicts the canonical address of a contract created
// with instantiate2 from the code checksum, the creator's canonical address and
// the salt. The derivation follows the wasm module address scheme:
// sha256(sha256("module") || "wasm\x00" || len-prefixed checksum, creator,
// salt and an empty init message).
func Instantiate2Address(checksum, creator, salt []byte) ([]byte, error) {
	if len(checksum) != sha256.Size {
		return nil, ErrChecksumLength
	}
	if len(salt) == 0 || len(salt) > maxSaltLength {
		return nil, ErrSaltLength
	}

	key := make([]byte, 0, 5+8*4+len(checksum)+len(creator)+len(salt))
	key = append(key, []byte("wasm\x00")...)
	key = appendLengthPrefixed(key, checksum)
	key = appendLengthPrefixed(key, creator)
	key = appendLengthPrefixed(key, salt)
	key = appendLengthPrefixed(key, nil)

	return moduleHash("module", key), nil
}

// ControllerSalt derives the instantiate2 salt of the controller serving
// custodian. The readable "<custodian>_<seconds>" form is used while it fits
// the salt limit; longer inputs are compressed to their 32 byte BLAKE3 digest.
func ControllerSalt(custodian string, blockSeconds int64) []byte {
	salt := []byte(fmt.Sprintf("%s_%d", custodian, blockSeconds))
	if len(salt) <= maxSaltLength {
		return salt
	}
	sum := blake3.Sum256(salt)
	return sum[:]
}

func appendLengthPrefixed(dst, data []byte) []byte {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(data)))
	dst = append(dst, size[:]...)
	return append(dst, data...)
}

func moduleHash(typ string, key []byte) []byte {
	th := sha256.Sum256([]byte(typ))
	hasher := sha256.New()
	hasher.Write(th[:])
	hasher.Write(key)
	return hasher.Sum(nil)
}
