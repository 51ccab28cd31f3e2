package remote

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

var pemMarker = []byte("-----BEGIN ")

// DecodeKey returns the PEM text of a private key given either the PEM
// itself or its base64 encoding. The result is a fresh slice.
func DecodeKey(secret []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(secret)
	if len(trimmed) == 0 {
		return nil, errors.New("private key is empty")
	}
	if bytes.HasPrefix(trimmed, pemMarker) {
		out := make([]byte, len(trimmed))
		copy(out, trimmed)
		return out, nil
	}

	compact := bytes.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, trimmed)
	defer Zero(compact)

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		out := make([]byte, enc.DecodedLen(len(compact)))
		n, err := enc.Decode(out, compact)
		if err != nil {
			Zero(out)
			continue
		}
		out = out[:n]
		if !bytes.HasPrefix(bytes.TrimSpace(out), pemMarker) {
			Zero(out)
			return nil, errors.New("decoded private key is not PEM encoded")
		}
		return out, nil
	}
	return nil, errors.New("private key is neither PEM nor base64-encoded PEM")
}

// ParseSigner decodes secret and parses it into an ssh.Signer. An empty
// passphrase means the key is unencrypted. secret and every intermediate
// copy of the key material are zeroed before return.
func ParseSigner(secret, passphrase []byte) (ssh.Signer, error) {
	defer Zero(secret)

	pemBytes, err := DecodeKey(secret)
	if err != nil {
		return nil, err
	}
	defer Zero(pemBytes)

	var signer ssh.Signer
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.New("private key is encrypted and no passphrase was provided")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
