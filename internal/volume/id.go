package volume

import "github.com/google/uuid"

// DeriveID returns the deterministic identifier for name within namespace.
//
// The derivation is UUIDv5 (RFC 4122, SHA-1) over the UTF-8 bytes of name, so
// any implementation of the same standard derives the same id from the same
// inputs. The same name always maps to the same id; backends rely on this to
// find existing storage again after a restart.
func DeriveID(namespace uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(name))
}
