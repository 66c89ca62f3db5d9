package ukey2

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	saltVerification = "nearby connections ukey2 v1 verification"
	saltSessionKey   = "nearby connections ukey2 v1 session key"

	verificationStringLen = 32
	sessionKeyLen         = 32
)

// authTokenLen is the number of characters shown to the user to confirm
// both sides derived the same verification string.
const authTokenLen = 5

func deriveSecret(sharedSecret, info []byte, salt string, length int) ([]byte, error) {
	r := hkdf.New(sha512.New, sharedSecret, []byte(salt), info)

	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("ukey2: derive secret: %w", err)
	}

	return out, nil
}

func deriveVerificationString(sharedSecret, info []byte) ([]byte, error) {
	return deriveSecret(sharedSecret, info, saltVerification, verificationStringLen)
}

func deriveSessionKey(sharedSecret, info []byte) ([]byte, error) {
	return deriveSecret(sharedSecret, info, saltSessionKey, sessionKeyLen)
}

func humanReadableToken(verificationString []byte) string {
	encoded := base64.StdEncoding.EncodeToString(verificationString)
	return strings.ToUpper(encoded[:authTokenLen])
}
