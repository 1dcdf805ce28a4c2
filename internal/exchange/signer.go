package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderAccessKey       = "KALSHI-ACCESS-KEY"
	HeaderAccessSignature = "KALSHI-ACCESS-SIGNATURE"
	HeaderAccessTimestamp = "KALSHI-ACCESS-TIMESTAMP"
)

// Signer produces the per-request API key headers: an RSA-PSS SHA-256
// signature over timestamp_ms + METHOD + path.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

func NewSigner(keyID string, key *rsa.PrivateKey) *Signer {
	return &Signer{keyID: keyID, key: key, now: time.Now}
}

// LoadSigner reads a PEM encoded PKCS#1 or PKCS#8 RSA key from path.
func LoadSigner(keyID, path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyID, key), nil
}

func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("private key: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key: not an RSA key")
	}
	return key, nil
}

// Headers signs method and path. Any query string is dropped from path.
func (s *Signer) Headers(method, path string) (http.Header, error) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	digest := sha256.Sum256([]byte(ts + strings.ToUpper(method) + path))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	h := http.Header{}
	h.Set(HeaderAccessKey, s.keyID)
	h.Set(HeaderAccessSignature, base64.StdEncoding.EncodeToString(sig))
	h.Set(HeaderAccessTimestamp, ts)
	return h, nil
}

// HandshakeHeaders returns a header source for a websocket dial to rawURL.
func (s *Signer) HandshakeHeaders(rawURL string) func() (http.Header, error) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	return func() (http.Header, error) {
		return s.Headers(http.MethodGet, path)
	}
}
