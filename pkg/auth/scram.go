// Package auth implements the server side of the SCRAM-SHA-256 handshake:
// PBKDF2-HMAC-SHA-256 credential derivation (4096 iterations, 32-byte
// salt) plus the client-first/client-final conversation, delegated to
// github.com/xdg-go/scram.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/xdg-go/scram"
	"golang.org/x/crypto/pbkdf2"
)

// Iterations is the fixed PBKDF2 iteration count used when deriving a
// salted password.
const Iterations = 4096

// SaltSize is the byte length of a freshly generated salt.
const SaltSize = 32

// keyLen is the SHA-256 output size; both the salted password and the
// derived StoredKey/ServerKey are this many bytes.
const keyLen = sha256.Size

// Credentials is the tuple persisted for one user in the system store:
// the salt and the two keys derived from PBKDF2(password, salt, 4096, 32)
// per RFC 5802. The plaintext password and the raw salted password are
// never themselves stored.
type Credentials struct {
	Salt      []byte
	Iters     int
	StoredKey []byte
	ServerKey []byte
}

// GenerateSalt returns a fresh SaltSize-byte random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("auth: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveCredentials computes the StoredKey/ServerKey pair for password
// under salt, following RFC 5802 §3: SaltedPassword = PBKDF2(password,
// salt, iters, 32); ClientKey = HMAC(SaltedPassword, "Client Key");
// StoredKey = SHA256(ClientKey); ServerKey = HMAC(SaltedPassword, "Server
// Key"). The server only ever needs StoredKey and ServerKey; it never
// retains SaltedPassword or ClientKey.
func DeriveCredentials(password string, salt []byte) Credentials {
	saltedPassword := pbkdf2.Key([]byte(password), salt, Iterations, keyLen, sha256.New)

	clientKey := hmacSum(saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSum(saltedPassword, "Server Key")

	return Credentials{
		Salt:      salt,
		Iters:     Iterations,
		StoredKey: storedKey[:],
		ServerKey: serverKey,
	}
}

func hmacSum(key []byte, message string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}

// Lookup resolves a username to its stored credentials. It returns
// ok == false (with a nil error) if the user does not exist; the caller
// is expected to map that into an opaque authentication failure rather
// than surface it, so the handshake never reveals whether a username is
// registered.
type Lookup func(username string) (creds Credentials, ok bool, err error)

// errUnknownUser is never exposed to the client: scram.CredentialLookup
// requires returning *an* error for an unknown user, which fails the
// conversation at client-first. The session layer answers every failed
// step with the same generic error text, so the handshake never reveals
// whether a username is registered.
var errUnknownUser = errors.New("auth: unknown user")

// Server wraps one running instance of the SCRAM-SHA-256 server
// mechanism, bound to a Lookup callback.
type Server struct {
	mech *scram.Server
}

// NewServer builds a Server that resolves usernames via lookup.
func NewServer(lookup Lookup) (*Server, error) {
	credLookup := func(username string) (scram.StoredCredentials, error) {
		creds, ok, err := lookup(username)
		if err != nil {
			return scram.StoredCredentials{}, err
		}
		if !ok {
			return scram.StoredCredentials{}, errUnknownUser
		}
		return scram.StoredCredentials{
			KeyFactors: scram.KeyFactors{
				Salt:  string(creds.Salt),
				Iters: creds.Iters,
			},
			StoredKey: creds.StoredKey,
			ServerKey: creds.ServerKey,
		}, nil
	}

	mech, err := scram.SHA256.NewServer(credLookup)
	if err != nil {
		return nil, fmt.Errorf("auth: init scram mechanism: %w", err)
	}
	return &Server{mech: mech}, nil
}

// Conversation is one connection's handshake state machine:
//
//	Start ── client-first ──▶ ServerFirst ── client-final ──▶ ServerFinal ──▶ {Authenticated | NotAuthenticated}
//
// Each Step call advances the conversation by one leg.
type Conversation struct {
	conv *scram.ServerConversation
}

// NewConversation starts a fresh handshake.
func (s *Server) NewConversation() *Conversation {
	return &Conversation{conv: s.mech.NewConversation()}
}

// Step processes one client message and returns the server's response for
// that leg. An error here means the handshake has failed; the caller
// must treat the connection as NotAuthenticated and close the socket
// without revealing further detail.
func (c *Conversation) Step(clientMessage string) (string, error) {
	resp, err := c.conv.Step(clientMessage)
	if err != nil {
		return "", fmt.Errorf("auth: handshake step: %w", err)
	}
	return resp, nil
}

// Done reports whether the conversation has completed all legs.
func (c *Conversation) Done() bool {
	return c.conv.Done()
}

// Valid reports whether the completed conversation authenticated
// successfully. Calling Valid before Done is meaningless.
func (c *Conversation) Valid() bool {
	return c.conv.Valid()
}

// Username returns the username claimed by the client in client-first.
func (c *Conversation) Username() string {
	return c.conv.Username()
}
