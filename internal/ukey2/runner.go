package ukey2

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/dantte-lp/gonearby/internal/channel"
	"github.com/dantte-lp/gonearby/internal/taskqueue"
)

// HandshakeTimeout bounds the entire UKEY2 exchange.
const HandshakeTimeout = 15 * time.Second

const protocolVersion int32 = 1

// Result is what a completed handshake hands back to the endpoint
// manager: the session cipher to install on the Channel, and the
// out-of-band verification data a host application may show the user
//.
type Result struct {
	Cipher             *Cipher
	AuthToken          string
	VerificationString []byte
}

// RunInitiator drives the client side of the handshake (the peer that
// dialed the connection) to completion or failure.
func RunInitiator(ctx context.Context, ch *channel.Channel) (*Result, error) {
	ctx, cancel := withHandshakeTimeout(ctx)
	defer cancel()

	finishKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ukey2 initiator: generate key: %w", err)
	}

	finishMsg := clientFinish{publicKey: finishKey.PublicKey().Bytes()}
	finishBytes := encodeClientFinish(finishMsg)
	commitDigest := sha256.Sum256(finishBytes)

	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return nil, fmt.Errorf("ukey2 initiator: random: %w", err)
	}

	init := clientInit{
		version: protocolVersion,
		random:  random,
		commitments: []commitment{
			{cipher: p256SHA512, digest: commitDigest[:]},
		},
	}
	initBytes := encodeClientInit(init)

	if err := ch.SendRaw(initBytes); err != nil {
		return nil, fmt.Errorf("ukey2 initiator: send client_init: %w", err)
	}

	serverInitBytes, err := ch.RecvRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("ukey2 initiator: recv server_init: %w", err)
	}

	srvInit, err := decodeServerInit(serverInitBytes)
	if err != nil {
		return nil, fmt.Errorf("ukey2 initiator: decode server_init: %w", err)
	}
	if srvInit.cipher != p256SHA512 {
		return nil, fmt.Errorf("ukey2 initiator: unsupported cipher %d", srvInit.cipher)
	}

	serverPub, err := ecdh.P256().NewPublicKey(srvInit.publicKey)
	if err != nil {
		return nil, fmt.Errorf("ukey2 initiator: parse server public key: %w", err)
	}

	if err := ch.SendRaw(finishBytes); err != nil {
		return nil, fmt.Errorf("ukey2 initiator: send client_finish: %w", err)
	}

	sharedSecret, err := finishKey.ECDH(serverPub)
	if err != nil {
		return nil, fmt.Errorf("ukey2 initiator: ecdh: %w", err)
	}

	info := append(append([]byte{}, initBytes...), serverInitBytes...)
	return finishHandshake(sharedSecret, info)
}

// RunResponder drives the server side of the handshake (the peer that
// accepted the connection) to completion or failure.
func RunResponder(ctx context.Context, ch *channel.Channel) (*Result, error) {
	ctx, cancel := withHandshakeTimeout(ctx)
	defer cancel()

	initBytes, err := ch.RecvRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("ukey2 responder: recv client_init: %w", err)
	}

	clInit, err := decodeClientInit(initBytes)
	if err != nil {
		return nil, fmt.Errorf("ukey2 responder: decode client_init: %w", err)
	}

	var chosen *commitment
	for i := range clInit.commitments {
		if clInit.commitments[i].cipher == p256SHA512 {
			chosen = &clInit.commitments[i]
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("ukey2 responder: no mutually supported cipher commitment")
	}

	serverKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ukey2 responder: generate key: %w", err)
	}

	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return nil, fmt.Errorf("ukey2 responder: random: %w", err)
	}

	srvInit := serverInit{
		version:   protocolVersion,
		random:    random,
		cipher:    p256SHA512,
		publicKey: serverKey.PublicKey().Bytes(),
	}
	serverInitBytes := encodeServerInit(srvInit)

	if err := ch.SendRaw(serverInitBytes); err != nil {
		return nil, fmt.Errorf("ukey2 responder: send server_init: %w", err)
	}

	finishBytes, err := ch.RecvRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("ukey2 responder: recv client_finish: %w", err)
	}

	gotDigest := sha256.Sum256(finishBytes)
	if subtle.ConstantTimeCompare(gotDigest[:], chosen.digest) != 1 {
		return nil, fmt.Errorf("ukey2 responder: client_finish does not match committed digest")
	}

	clFinish, err := decodeClientFinish(finishBytes)
	if err != nil {
		return nil, fmt.Errorf("ukey2 responder: decode client_finish: %w", err)
	}

	clientPub, err := ecdh.P256().NewPublicKey(clFinish.publicKey)
	if err != nil {
		return nil, fmt.Errorf("ukey2 responder: parse client public key: %w", err)
	}

	sharedSecret, err := serverKey.ECDH(clientPub)
	if err != nil {
		return nil, fmt.Errorf("ukey2 responder: ecdh: %w", err)
	}

	info := append(append([]byte{}, initBytes...), serverInitBytes...)
	return finishHandshake(sharedSecret, info)
}

func finishHandshake(sharedSecret, info []byte) (*Result, error) {
	verification, err := deriveVerificationString(sharedSecret, info)
	if err != nil {
		return nil, err
	}

	sessionKey, err := deriveSessionKey(sharedSecret, info)
	if err != nil {
		return nil, err
	}

	c, err := newCipher(sessionKey)
	if err != nil {
		return nil, err
	}

	return &Result{
		Cipher:             c,
		AuthToken:          humanReadableToken(verification),
		VerificationString: verification,
	}, nil
}

// withHandshakeTimeout derives a context canceled either by ctx itself or
// by a 15-second taskqueue.Alarm, whichever comes first.
func withHandshakeTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	child, cancel := context.WithCancel(ctx)

	alarm := taskqueue.NewAlarm(HandshakeTimeout, cancel)

	return child, func() {
		alarm.Cancel()
		cancel()
	}
}
