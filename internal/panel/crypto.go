package panel

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// credentials carries the two request parameters the panel expects on
// /default.html: p is the salted password hash, u is the username run
// through the panel's stream cipher keyed by that salted hash.
type credentials struct {
	p string
	u string
}

// to8Bits reduces every rune of s to its low 8 bits, mirroring the
// reduction the panel's login page applies before hashing, then rejects
// any byte that did not land in 7-bit ASCII. The reduction comes first:
// a rune whose low byte happens to be ASCII passes with that byte, only
// runes that stay outside ASCII after reduction fail.
func to8Bits(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b := byte(r % 256)
		if b >= 0x80 {
			return nil, &PanelError{
				Sentinel:  ErrInvalidArgument,
				Operation: "encode credentials",
				Err:       fmt.Errorf("character %q is not encodable as 8-bit text", r),
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// streamCipher implements the panel's keyed stream cipher. It resembles
// RC4 except that the key schedule iterates the index backwards, from 255
// down to 0. The deviation is deliberate on the panel's side and must be
// matched bit for bit. The result is uppercase hex, two digits per input
// byte.
func streamCipher(data, key []byte) string {
	var s [256]int
	for i := range s {
		s[i] = i
	}

	j := 0
	for i := len(key) - 1; i >= 0; i-- {
		j = (j + s[i] + int(key[i])) % 256
		s[i], s[j] = s[j], s[i]
	}

	j = 0
	var out strings.Builder
	out.Grow(len(data) * 2)
	for n, ch := range data {
		i := n % 256
		j = (j + s[i]) % 256
		s[i], s[j] = s[j], s[i]
		fmt.Fprintf(&out, "%02X", byte(int(ch)^s[(s[i]+s[j])%256]))
	}
	return out.String()
}

// encodeCredentials computes the salted login parameters from the
// per-login session salt served by the panel. Pure and deterministic;
// fails only when an input is not 8-bit encodable. MD5 here is an
// interoperability requirement of the panel firmware, not a security
// choice.
func encodeCredentials(user, password, salt string) (credentials, error) {
	pwd8, err := to8Bits(password)
	if err != nil {
		return credentials{}, err
	}
	user8, err := to8Bits(user)
	if err != nil {
		return credentials{}, err
	}

	pwdSum := md5.Sum(pwd8)
	salted := strings.ToUpper(hex.EncodeToString(pwdSum[:])) + salt

	pSum := md5.Sum([]byte(salted))
	return credentials{
		p: strings.ToUpper(hex.EncodeToString(pSum[:])),
		u: streamCipher(user8, []byte(salted)),
	}, nil
}
