// Package migration implements the two-phase Migration Engine: capture
// and sign on the source, verify and restore on the target, coordinated
// through internal/consensus so the directory only reflects a migration
// once it has actually landed. Grounded on the base specification's
// §4.6 pipeline; signing uses stdlib crypto/ed25519 since no ecosystem
// Ed25519 implementation appears anywhere in the retrieval pack.
package migration

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/greenpdx/fipa-wasm/internal/actor"
	"github.com/greenpdx/fipa-wasm/internal/fault"
)

// Package is the signed, transferable Migration Package described in
// §3: an Agent Record snapshot plus the provenance needed to verify it
// before a target node trusts it.
type Package struct {
	Snapshot         actor.Snapshot `msgpack:"snapshot"`
	MigrationHistory []string       `msgpack:"migration_history"`
	TimestampUnixMs  int64          `msgpack:"timestamp_unix_ms"`
	SnapshotHash     [32]byte       `msgpack:"snapshot_hash"`
	Signature        []byte         `msgpack:"signature"`
	SignerPublicKey  []byte         `msgpack:"signer_public_key"`
	NewEpoch         uint64         `msgpack:"new_epoch"`
	Clone            bool           `msgpack:"clone"`
}

// hashableBytes returns the serialized form that SnapshotHash and
// Signature are computed over: the msgpack encoding of Snapshot plus the
// migration history and timestamp, so a replayed package with a
// different timestamp cannot reuse another package's signature.
func hashableBytes(snap *actor.Snapshot, history []string, timestampMs int64) ([]byte, error) {
	data, err := msgpack.Marshal(struct {
		Snapshot  *actor.Snapshot `msgpack:"snapshot"`
		History   []string        `msgpack:"history"`
		Timestamp int64           `msgpack:"timestamp"`
	}{snap, history, timestampMs})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Signer holds the node's Ed25519 key pair used to sign outgoing
// migration packages. Each node generates or loads one at startup
// (internal/vfs.NodeLayout.IdentityKeyPath). The key is used only for
// signing; the node's Raft server ID is the configured node-id.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

func GenerateSigner() (*Signer, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	return &Signer{priv: priv, pub: pub}, priv, nil
}

func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Capture runs the source-side prepare phase: the caller must already
// have transitioned the actor to migrating (actor.BeginMigration) so the
// snapshot is taken at a consistent boundary.
func (s *Signer) Capture(a *actor.Actor, history []string, newEpoch uint64, clone bool, now time.Time) (*Package, error) {
	snap, err := a.CaptureSnapshot()
	if err != nil {
		return nil, fmt.Errorf("migration: capture snapshot: %w", err)
	}

	timestampMs := now.UnixMilli()
	data, err := hashableBytes(snap, history, timestampMs)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(data)
	sig := ed25519.Sign(s.priv, hash[:])

	return &Package{
		Snapshot:         *snap,
		MigrationHistory: history,
		TimestampUnixMs:  timestampMs,
		SnapshotHash:     hash,
		Signature:        sig,
		SignerPublicKey:  s.pub,
		NewEpoch:         newEpoch,
		Clone:            clone,
	}, nil
}

// Marshal/Unmarshal serialize a Package for wire transfer as part of a
// the payload of a wire.Envelope of kind KindAgentMigration.
func (p *Package) Marshal() ([]byte, error) { return msgpack.Marshal(p) }

func Unmarshal(data []byte) (*Package, error) {
	var p Package
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TrustedKeys is the target node's allow-list of signer public keys
// accepted for inbound migrations; in a single-cluster deployment this
// is every peer's Ed25519 public key, distributed out of band.
type TrustedKeys struct {
	keys map[string]ed25519.PublicKey
}

func NewTrustedKeys() *TrustedKeys { return &TrustedKeys{keys: make(map[string]ed25519.PublicKey)} }

func (t *TrustedKeys) Trust(nodeID string, key ed25519.PublicKey) {
	t.keys[nodeID] = key
}

// Verify re-hashes the package's snapshot and checks the signature
// against a trusted key, satisfying the invariant that a package is
// accepted only if the hash recomputes and the signature verifies.
func (t *TrustedKeys) Verify(p *Package) error {
	data, err := hashableBytes(&p.Snapshot, p.MigrationHistory, p.TimestampUnixMs)
	if err != nil {
		return err
	}
	recomputed := sha256.Sum256(data)
	if recomputed != p.SnapshotHash {
		return fault.New(fault.KindHashMismatch, "recomputed snapshot hash does not match package")
	}

	trusted := false
	for _, key := range t.keys {
		if key.Equal(ed25519.PublicKey(p.SignerPublicKey)) {
			trusted = true
			break
		}
	}
	if !trusted {
		return fault.New(fault.KindSignatureInvalid, "signer public key is not trusted")
	}
	if !ed25519.Verify(ed25519.PublicKey(p.SignerPublicKey), p.SnapshotHash[:], p.Signature) {
		return fault.New(fault.KindSignatureInvalid, "signature does not verify")
	}
	return nil
}
