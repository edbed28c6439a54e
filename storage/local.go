package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const secretFile = ".secret"

// ErrExpired reports a signed URL whose expiry has passed.
var ErrExpired = fmt.Errorf("signed url expired")

// Local is a directory-backed Uploader. Every upload gets a fresh UUID
// identifier; the blob's content digest and original name are kept in a
// sidecar record. Signed URLs are file: URLs carrying an expiry and a keyed
// BLAKE2b tag, verified on Open, so a URL cannot be forged or extended by
// editing it.
type Local struct {
	dir    string
	secret []byte
}

// Meta is the sidecar record written next to each blob.
type Meta struct {
	Name      string    `json:"name"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// NewLocal opens (or initializes) a local store rooted at dir. The signing
// secret persists in the directory so URLs stay valid across restarts.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	secretPath := filepath.Join(dir, secretFile)
	secret, err := os.ReadFile(secretPath)
	if os.IsNotExist(err) {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
		if err := os.WriteFile(secretPath, secret, 0o600); err != nil {
			return nil, fmt.Errorf("persist signing secret: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read signing secret: %w", err)
	}
	return &Local{dir: dir, secret: secret}, nil
}

// Upload stores content under a fresh identifier and records its digest.
func (l *Local) Upload(ctx context.Context, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := os.WriteFile(l.blobPath(id), content, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	meta := Meta{
		Name:      filepath.Base(name),
		Digest:    Digest(content),
		Size:      int64(len(content)),
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode blob record: %w", err)
	}
	if err := os.WriteFile(l.metaPath(id), raw, 0o644); err != nil {
		return "", fmt.Errorf("write blob record: %w", err)
	}
	return id, nil
}

// SignedURL returns a file: URL for a stored blob, valid for expiry.
func (l *Local) SignedURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(l.blobPath(id)); err != nil {
		return "", fmt.Errorf("blob %s: %w", id, err)
	}
	if expiry == 0 {
		expiry = time.Hour
	}
	expires := time.Now().Add(expiry).Unix()
	abs, err := filepath.Abs(l.blobPath(id))
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", l.sign(id, expires))
	return "file://" + abs + "?" + q.Encode(), nil
}

// Open verifies a signed URL and returns the blob content.
func (l *Local) Open(signed string) ([]byte, error) {
	u, err := url.Parse(signed)
	if err != nil {
		return nil, fmt.Errorf("parse signed url: %w", err)
	}
	id := strings.TrimSuffix(filepath.Base(u.Path), ".blob")
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("signed url has no expiry: %w", err)
	}
	sig, err := hex.DecodeString(u.Query().Get("signature"))
	if err != nil {
		return nil, fmt.Errorf("signed url has no signature: %w", err)
	}
	want, err := hex.DecodeString(l.sign(id, expires))
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(sig, want) {
		return nil, fmt.Errorf("signed url signature mismatch")
	}
	if time.Now().Unix() > expires {
		return nil, ErrExpired
	}
	return os.ReadFile(l.blobPath(id))
}

// Stat returns the sidecar record of a stored blob.
func (l *Local) Stat(id string) (Meta, error) {
	raw, err := os.ReadFile(l.metaPath(id))
	if err != nil {
		return Meta{}, fmt.Errorf("read blob record: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fmt.Errorf("decode blob record: %w", err)
	}
	return meta, nil
}

// sign computes the keyed BLAKE2b tag binding a blob id to its expiry.
func (l *Local) sign(id string, expires int64) string {
	mac, err := blake2b.New256(l.secret)
	if err != nil {
		// New256 fails only for oversized keys; the store always uses 32 bytes.
		panic(err)
	}
	fmt.Fprintf(mac, "%s\x00%d", id, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Local) blobPath(id string) string { return filepath.Join(l.dir, id+".blob") }
func (l *Local) metaPath(id string) string { return filepath.Join(l.dir, id+".json") }
