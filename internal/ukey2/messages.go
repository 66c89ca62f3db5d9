// Package ukey2 implements the authenticated key-exchange handshake that
// runs over a freshly dialed/accepted Channel before any V1 frame is
// exchanged. The suite is fixed at
// P256_SHA512: a P-256 ECDH key exchange whose shared secret is expanded
// with HKDF-SHA512 into a 32-byte human-auditable verification string, a
// 5-character human-readable token, and the AES-256-GCM session key that
// channel.Cipher uses for every subsequent frame.
package ukey2

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldCIversion           = 1
	fieldCIrandom            = 2
	fieldCIcommitments       = 3
	fieldCIcommitmentCipher  = 1
	fieldCIcommitmentDigest  = 2

	fieldSIversion    = 1
	fieldSIrandom     = 2
	fieldSIcipher     = 3
	fieldSIpublicKey  = 4

	fieldCFpublicKey = 1
)

// cipherSuite identifies a proposed/selected handshake cipher. The suite
// is fixed at P256SHA512; the field exists so the wire
// messages can name it explicitly rather than leaving it implicit.
type cipherSuite int32

const p256SHA512 cipherSuite = 1

type clientInit struct {
	version     int32
	random      [32]byte
	commitments []commitment
}

type commitment struct {
	cipher cipherSuite
	digest []byte
}

type serverInit struct {
	version   int32
	random    [32]byte
	cipher    cipherSuite
	publicKey []byte
}

type clientFinish struct {
	publicKey []byte
}

func encodeClientInit(m clientInit) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCIversion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.version))
	b = protowire.AppendTag(b, fieldCIrandom, protowire.BytesType)
	b = protowire.AppendBytes(b, m.random[:])
	for _, c := range m.commitments {
		var cb []byte
		cb = protowire.AppendTag(cb, fieldCIcommitmentCipher, protowire.VarintType)
		cb = protowire.AppendVarint(cb, uint64(c.cipher))
		cb = protowire.AppendTag(cb, fieldCIcommitmentDigest, protowire.BytesType)
		cb = protowire.AppendBytes(cb, c.digest)

		b = protowire.AppendTag(b, fieldCIcommitments, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	return b
}

func decodeClientInit(data []byte) (clientInit, error) {
	var m clientInit
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("ukey2: client_init: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldCIversion:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: client_init: malformed version")
			}
			m.version = int32(v)
			b = b[n:]
		case fieldCIrandom:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: client_init: malformed random")
			}
			copy(m.random[:], v)
			b = b[n:]
		case fieldCIcommitments:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: client_init: malformed commitment")
			}
			c, err := decodeCommitment(v)
			if err != nil {
				return m, err
			}
			m.commitments = append(m.commitments, c)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: client_init: malformed field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func decodeCommitment(data []byte) (commitment, error) {
	var c commitment
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, fmt.Errorf("ukey2: commitment: malformed tag")
		}
		b = b[n:]
		switch num {
		case fieldCIcommitmentCipher:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, fmt.Errorf("ukey2: commitment: malformed cipher")
			}
			c.cipher = cipherSuite(v)
			b = b[n:]
		case fieldCIcommitmentDigest:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return c, fmt.Errorf("ukey2: commitment: malformed digest")
			}
			c.digest = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return c, fmt.Errorf("ukey2: commitment: malformed field %d", num)
			}
			b = b[n:]
		}
	}
	return c, nil
}

func encodeServerInit(m serverInit) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSIversion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.version))
	b = protowire.AppendTag(b, fieldSIrandom, protowire.BytesType)
	b = protowire.AppendBytes(b, m.random[:])
	b = protowire.AppendTag(b, fieldSIcipher, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.cipher))
	b = protowire.AppendTag(b, fieldSIpublicKey, protowire.BytesType)
	b = protowire.AppendBytes(b, m.publicKey)
	return b
}

func decodeServerInit(data []byte) (serverInit, error) {
	var m serverInit
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("ukey2: server_init: malformed tag")
		}
		b = b[n:]
		switch num {
		case fieldSIversion:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: server_init: malformed version")
			}
			m.version = int32(v)
			b = b[n:]
		case fieldSIrandom:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: server_init: malformed random")
			}
			copy(m.random[:], v)
			b = b[n:]
		case fieldSIcipher:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: server_init: malformed cipher")
			}
			m.cipher = cipherSuite(v)
			b = b[n:]
		case fieldSIpublicKey:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: server_init: malformed public key")
			}
			m.publicKey = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: server_init: malformed field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func encodeClientFinish(m clientFinish) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCFpublicKey, protowire.BytesType)
	b = protowire.AppendBytes(b, m.publicKey)
	return b
}

func decodeClientFinish(data []byte) (clientFinish, error) {
	var m clientFinish
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("ukey2: client_finish: malformed tag")
		}
		b = b[n:]
		if num == fieldCFpublicKey {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("ukey2: client_finish: malformed public key")
			}
			m.publicKey = append([]byte(nil), v...)
			b = b[n:]
			continue
		}
		n := protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return m, fmt.Errorf("ukey2: client_finish: malformed field %d", num)
		}
		b = b[n:]
	}
	return m, nil
}
