package bachuan

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"fmt"
	"strings"
)

// bcXorKey is the fixed key used by the BcXor cipher. It is not a secret —
// every BC client and camera uses the same eight bytes — the cipher exists
// to obscure traffic from casual inspection, not to provide confidentiality.
var bcXorKey = [8]byte{0x1F, 0x2D, 0x3C, 0x4B, 0x5A, 0x69, 0x78, 0xFF}

// aesIV is the fixed CFB initialization vector. It is reset for every
// single AES operation (see Cipher.Encrypt/Decrypt below), which is what
// makes reusing a fixed IV safe here: each message is encrypted from a
// fresh IV rather than chained to the previous message's ciphertext.
var aesIV = []byte("0123456789abcdef")

// EncryptionType identifies which cipher a Cipher is currently configured
// to use.
type EncryptionType int

const (
	Unencrypted EncryptionType = iota
	BcXor
	Aes
	FullAes
)

func (t EncryptionType) String() string {
	switch t {
	case Unencrypted:
		return "unencrypted"
	case BcXor:
		return "bcxor"
	case Aes:
		return "aes"
	case FullAes:
		return "full-aes"
	default:
		return "unknown"
	}
}

// Cipher implements the BC protocol's per-message cipher state machine. A
// zero-value Cipher is Unencrypted. Install a cipher with SetBcXor/SetAES/
// SetFullAES as the login handshake negotiates it.
type Cipher struct {
	typ    EncryptionType
	aesKey [16]byte
	block  cipher.Block
}

// Type reports the cipher currently installed.
func (c *Cipher) Type() EncryptionType { return c.typ }

// EncryptsVideo reports whether this cipher decrypts/encrypts binary media
// payloads, as opposed to only the XML regions. Only FullAes does.
func (c *Cipher) EncryptsVideo() bool { return c.typ == FullAes }

// SetUnencrypted installs the no-op cipher.
func (c *Cipher) SetUnencrypted() {
	c.typ = Unencrypted
	c.block = nil
}

// SetBcXor installs the stateless keyed-XOR cipher used during login
// negotiation and whenever the camera only requires BcXor.
func (c *Cipher) SetBcXor() {
	c.typ = BcXor
	c.block = nil
}

// SetAES installs AES-128-CFB, decrypting XML but leaving binary media
// payloads untouched.
func (c *Cipher) SetAES(key [16]byte) error {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return cryptoErr("failed to initialize AES cipher", err)
	}
	c.typ = Aes
	c.aesKey = key
	c.block = block
	return nil
}

// SetFullAES installs AES-128-CFB and additionally decrypts binary media
// payloads.
func (c *Cipher) SetFullAES(key [16]byte) error {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return cryptoErr("failed to initialize AES cipher", err)
	}
	c.typ = FullAes
	c.aesKey = key
	c.block = block
	return nil
}

// Encrypt and Decrypt are the same operation for BcXor (XOR is its own
// inverse). For AES-CFB they use CFB's encrypter and decrypter
// respectively, both started from the fixed IV on every call, so each
// message is processed independently of the previous one.
func (c *Cipher) Encrypt(offset uint32, data []byte) ([]byte, error) {
	return c.crypt(offset, data, true)
}

func (c *Cipher) Decrypt(offset uint32, data []byte) ([]byte, error) {
	return c.crypt(offset, data, false)
}

func (c *Cipher) crypt(offset uint32, data []byte, encrypting bool) ([]byte, error) {
	switch c.typ {
	case Unencrypted:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case BcXor:
		return bcXorCrypt(offset, data), nil
	case Aes, FullAes:
		if c.block == nil {
			return nil, cryptoErr("AES cipher not initialized", nil)
		}
		out := make([]byte, len(data))
		var stream cipher.Stream
		if encrypting {
			stream = cipher.NewCFBEncrypter(c.block, aesIV)
		} else {
			stream = cipher.NewCFBDecrypter(c.block, aesIV)
		}
		stream.XORKeyStream(out, data)
		return out, nil
	default:
		return nil, cryptoErr("unknown cipher type", nil)
	}
}

// bcXorCrypt implements the BcXor keyed-XOR cipher: each byte is XORed
// with bcXorKey[(offset+i)%8] and with the low byte of offset. offset is
// not advanced per-byte beyond the key index; it is the caller's running
// send/recv offset that gives the cipher continuity across messages.
func bcXorCrypt(offset uint32, data []byte) []byte {
	out := make([]byte, len(data))
	offsetByte := byte(offset & 0xFF)
	for i, b := range data {
		keyIdx := (int(offset) + i) % 8
		out[i] = b ^ bcXorKey[keyIdx] ^ offsetByte
	}
	return out
}

// DeriveAESKey computes the AES key from a login nonce and the account
// password: MD5("{nonce}-{password}"), rendered as lowercase hex, and the
// first 16 ASCII characters of that hex string taken as the raw key bytes
// (not the first 16 bytes of the digest itself). Note this differs from
// HashCredential's uppercase, 31-character truncation — the two formatters
// are not interchangeable despite both starting from an MD5 digest.
func DeriveAESKey(password, nonce string) [16]byte {
	sum := md5.Sum([]byte(nonce + "-" + password))
	hexStr := fmt.Sprintf("%x", sum)
	var key [16]byte
	copy(key[:], hexStr[:16])
	return key
}

// HashCredential hashes a username or password with the login nonce the
// way the modern login request requires: MD5(value+nonce), uppercase hex,
// truncated to 31 characters (not the full 32-character digest).
func HashCredential(value, nonce string) string {
	sum := md5.Sum([]byte(value + nonce))
	hexStr := strings.ToUpper(fmt.Sprintf("%x", sum))
	return hexStr[:31]
}
