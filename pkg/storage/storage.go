// Package storage implements the permission- and cache-aware wrapper over
// the router: it is the only component that touches both the Cache and
// the Router, and the only one that knows about the reserved _default
// system store's user documents.
package storage

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rustbase/rustbase/pkg/auth"
	"github.com/rustbase/rustbase/pkg/cache"
	"github.com/rustbase/rustbase/pkg/dustdata"
	"github.com/rustbase/rustbase/pkg/metrics"
	"github.com/rustbase/rustbase/pkg/permission"
	"github.com/rustbase/rustbase/pkg/protoerr"
	"github.com/rustbase/rustbase/pkg/router"
)

// userDoc is the shape persisted for one user in the _default system
// store, keyed by username.
type userDoc struct {
	StoredKey  []byte `bson:"stored_key"`
	ServerKey  []byte `bson:"server_key"`
	Salt       []byte `bson:"salt"`
	Iters      int    `bson:"iters"`
	Permission int    `bson:"permission"`
}

// Principal is the authenticated caller of an operation. A nil Principal
// means the anonymous, unauthenticated session established when the
// system store has zero users; anonymous callers bypass every permission
// check except CreateUser's, which admits them only while the system
// store holds no users.
type Principal struct {
	Username string
	Level    permission.Level
}

// Storage wraps a Router and Cache with permission checks and the
// invalidate-before-write cache consistency ordering.
type Storage struct {
	router *router.Router
	cache  *cache.Cache
}

// New builds a Storage over an already-initialized Router and Cache.
func New(r *router.Router, c *cache.Cache) *Storage {
	return &Storage{router: r, cache: c}
}

func requirePermission(principal *Principal, want permission.Level) *protoerr.Error {
	if principal == nil {
		return nil
	}
	if !permission.Satisfies(principal.Level, want) {
		return protoerr.NotAuthorizedErr()
	}
	return nil
}

func checkNotReserved(database string) *protoerr.Error {
	if database == router.DefaultDatabase {
		return protoerr.ReservedErr()
	}
	return nil
}

// encodeValue wraps an arbitrary BSON-able value in an envelope document,
// since a bare scalar or array cannot itself be a top-level BSON document.
func encodeValue(v interface{}) ([]byte, error) {
	return bson.Marshal(bson.M{"value": v})
}

func decodeValue(data []byte) (interface{}, error) {
	var envelope bson.M
	if err := bson.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return envelope["value"], nil
}

// Insert stores value under key in database. Requires Write.
func (s *Storage) Insert(principal *Principal, database, key string, value interface{}) *protoerr.Error {
	if perr := checkNotReserved(database); perr != nil {
		return perr
	}
	if perr := requirePermission(principal, permission.Write); perr != nil {
		return perr
	}

	handle, err := s.router.GetOrCreate(database)
	if err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}

	encoded, err := encodeValue(value)
	if err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}

	if err := handle.Insert(key, encoded); err != nil {
		return protoerr.FromDustdata(err)
	}
	return nil
}

// Update replaces the value stored under key. Requires Write. The cache
// entry is invalidated before the storage write, so a concurrent reader
// observes either the old committed value or the new one, never a stale
// cache entry shadowing the committed update.
func (s *Storage) Update(principal *Principal, database, key string, value interface{}) *protoerr.Error {
	if perr := checkNotReserved(database); perr != nil {
		return perr
	}
	if perr := requirePermission(principal, permission.Write); perr != nil {
		return perr
	}

	handle, ok := s.router.Get(database)
	if !ok {
		return protoerr.New(protoerr.NotFound, fmt.Sprintf("database %q not found", database))
	}

	_ = s.cache.Remove(cache.Fingerprint(database, key))

	encoded, err := encodeValue(value)
	if err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}

	if err := handle.Update(key, encoded); err != nil {
		return protoerr.FromDustdata(err)
	}
	return nil
}

// DeleteKey removes key from database. Requires Write. The cache entry is
// invalidated before the storage delete.
func (s *Storage) DeleteKey(principal *Principal, database, key string) *protoerr.Error {
	if perr := checkNotReserved(database); perr != nil {
		return perr
	}
	if perr := requirePermission(principal, permission.Write); perr != nil {
		return perr
	}

	handle, ok := s.router.Get(database)
	if !ok {
		return protoerr.New(protoerr.NotFound, fmt.Sprintf("database %q not found", database))
	}

	_ = s.cache.Remove(cache.Fingerprint(database, key))

	if err := handle.Delete(key); err != nil {
		return protoerr.FromDustdata(err)
	}
	return nil
}

// Get returns the value stored under key in database. Requires Read.
// Serves from cache when present; on a miss, fetches from storage and
// populates the cache best-effort (a cache-full rejection does not fail
// the read).
func (s *Storage) Get(principal *Principal, database, key string) (interface{}, *protoerr.Error) {
	if perr := checkNotReserved(database); perr != nil {
		return nil, perr
	}
	if perr := requirePermission(principal, permission.Read); perr != nil {
		return nil, perr
	}

	fingerprint := cache.Fingerprint(database, key)
	if cached, ok := s.cache.Get(fingerprint); ok {
		metrics.CacheHitsTotal.Inc()
		value, err := decodeValue(cached)
		if err != nil {
			return nil, protoerr.New(protoerr.InternalError, err.Error())
		}
		return value, nil
	}
	metrics.CacheMissesTotal.Inc()

	handle, ok := s.router.Get(database)
	if !ok {
		return nil, protoerr.New(protoerr.NotFound, fmt.Sprintf("database %q not found", database))
	}

	raw, err := handle.Get(key)
	if err != nil {
		return nil, protoerr.FromDustdata(err)
	}

	_ = s.cache.Insert(fingerprint, raw)

	value, err := decodeValue(raw)
	if err != nil {
		return nil, protoerr.New(protoerr.InternalError, err.Error())
	}
	return value, nil
}

// List enumerates every key in database. Requires Read.
func (s *Storage) List(principal *Principal, database string) ([]string, *protoerr.Error) {
	if perr := checkNotReserved(database); perr != nil {
		return nil, perr
	}
	if perr := requirePermission(principal, permission.Read); perr != nil {
		return nil, perr
	}

	handle, ok := s.router.Get(database)
	if !ok {
		return nil, protoerr.New(protoerr.NotFound, fmt.Sprintf("database %q not found", database))
	}

	keys, err := handle.ListKeys()
	if err != nil {
		return nil, protoerr.FromDustdata(err)
	}
	return keys, nil
}

// ListDatabases enumerates every open, non-reserved database name.
// Requires Admin.
func (s *Storage) ListDatabases(principal *Principal) ([]string, *protoerr.Error) {
	if perr := requirePermission(principal, permission.Admin); perr != nil {
		return nil, perr
	}
	return s.router.Names(), nil
}

// DeleteDatabase drops the in-memory handle for name and spawns an
// asynchronous removal of its on-disk subtree, returning immediately.
// Requires Admin.
func (s *Storage) DeleteDatabase(principal *Principal, name string) *protoerr.Error {
	if perr := checkNotReserved(name); perr != nil {
		return perr
	}
	if perr := requirePermission(principal, permission.Admin); perr != nil {
		return perr
	}

	if err := s.router.Remove(name); err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}
	return nil
}

// CreateUser inserts a new user document into the system store. Requires
// Admin, except when the system store currently has no users at all, in
// which case an anonymous caller may bootstrap the first one.
func (s *Storage) CreateUser(principal *Principal, username, password string, level permission.Level) *protoerr.Error {
	systemHandle, err := s.router.GetOrCreate(router.DefaultDatabase)
	if err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}

	if principal == nil {
		empty, cerr := s.systemStoreEmpty(systemHandle)
		if cerr != nil {
			return protoerr.New(protoerr.InternalError, cerr.Error())
		}
		if !empty {
			return protoerr.NotAuthorizedErr()
		}
	} else if perr := requirePermission(principal, permission.Admin); perr != nil {
		return perr
	}

	salt, err := auth.GenerateSalt()
	if err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}
	creds := auth.DeriveCredentials(password, salt)

	doc := userDoc{
		StoredKey:  creds.StoredKey,
		ServerKey:  creds.ServerKey,
		Salt:       creds.Salt,
		Iters:      creds.Iters,
		Permission: int(level),
	}
	encoded, err := bson.Marshal(doc)
	if err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}

	if err := systemHandle.Insert(username, encoded); err != nil {
		return protoerr.FromDustdata(err)
	}
	return nil
}

// DeleteUser removes a user document from the system store. Requires Admin.
func (s *Storage) DeleteUser(principal *Principal, username string) *protoerr.Error {
	if perr := requirePermission(principal, permission.Admin); perr != nil {
		return perr
	}

	handle, ok := s.router.Get(router.DefaultDatabase)
	if !ok {
		return protoerr.New(protoerr.InternalError, "system store not open")
	}

	if err := handle.Delete(username); err != nil {
		return protoerr.FromDustdata(err)
	}
	return nil
}

// UpdateUser merges the supplied password and/or permission into an
// existing user document. Requires Admin. Updating the password
// regenerates the salt and re-derives both keys.
func (s *Storage) UpdateUser(principal *Principal, username string, password *string, level *permission.Level) *protoerr.Error {
	if perr := requirePermission(principal, permission.Admin); perr != nil {
		return perr
	}

	handle, ok := s.router.Get(router.DefaultDatabase)
	if !ok {
		return protoerr.New(protoerr.InternalError, "system store not open")
	}

	raw, err := handle.Get(username)
	if err != nil {
		return protoerr.FromDustdata(err)
	}

	var doc userDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}

	if password != nil {
		salt, err := auth.GenerateSalt()
		if err != nil {
			return protoerr.New(protoerr.InternalError, err.Error())
		}
		creds := auth.DeriveCredentials(*password, salt)
		doc.Salt = creds.Salt
		doc.Iters = creds.Iters
		doc.StoredKey = creds.StoredKey
		doc.ServerKey = creds.ServerKey
	}
	if level != nil {
		doc.Permission = int(*level)
	}

	encoded, err := bson.Marshal(doc)
	if err != nil {
		return protoerr.New(protoerr.InternalError, err.Error())
	}

	if err := handle.Update(username, encoded); err != nil {
		return protoerr.FromDustdata(err)
	}
	return nil
}

// LookupCredentials resolves username to its SCRAM credentials, for use
// as an auth.Lookup callback. It never distinguishes "user not found"
// from other failures via error: ok is false in both the missing-user and
// decode-failure cases, so a probe cannot learn whether a username is
// registered.
func (s *Storage) LookupCredentials(username string) (auth.Credentials, bool, error) {
	handle, ok := s.router.Get(router.DefaultDatabase)
	if !ok {
		return auth.Credentials{}, false, nil
	}

	raw, err := handle.Get(username)
	if err != nil {
		return auth.Credentials{}, false, nil
	}

	var doc userDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return auth.Credentials{}, false, nil
	}

	return auth.Credentials{
		Salt:      doc.Salt,
		Iters:     doc.Iters,
		StoredKey: doc.StoredKey,
		ServerKey: doc.ServerKey,
	}, true, nil
}

// LookupPermission resolves username to its granted Level, for use by the
// session layer once a handshake completes, to build the Principal passed
// into every subsequent operation on that connection.
func (s *Storage) LookupPermission(username string) (permission.Level, bool, error) {
	handle, ok := s.router.Get(router.DefaultDatabase)
	if !ok {
		return 0, false, nil
	}

	raw, err := handle.Get(username)
	if err != nil {
		if err == dustdata.ErrKeyNotExists {
			return 0, false, nil
		}
		return 0, false, err
	}

	var doc userDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return 0, false, err
	}
	return permission.Level(doc.Permission), true, nil
}

// HasAnyUsers reports whether the system store currently holds at least
// one user, which gates whether a session must complete the SCRAM
// handshake.
func (s *Storage) HasAnyUsers() (bool, error) {
	handle, err := s.router.GetOrCreate(router.DefaultDatabase)
	if err != nil {
		return false, err
	}
	empty, err := s.systemStoreEmpty(handle)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

func (s *Storage) systemStoreEmpty(handle *dustdata.Handle) (bool, error) {
	keys, err := handle.ListKeys()
	if err != nil {
		return false, err
	}
	return len(keys) == 0, nil
}
