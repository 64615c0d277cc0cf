package cachekey

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/PuerkitoBio/purell"
)

var ErrorNoPrincipal = fmt.Errorf("cannot resolve current principal")

const (
	// separator between the principal and the locator in the hash input
	principalSeparator = ":"
	// suffix for entry files in the storage directory
	fileSuffix = ".dat"
)

// normalization flags used for locator canonicalization.
// Equivalent locators (scheme or host case, default ports, trailing
// slashes, dot segments) must hash to the same key.
const normalizationFlags = purell.FlagsUsuallySafeGreedy

// Keyer derives cache keys and storage paths for locators.
// Keys are salted with the identity of the calling principal, so
// entries are shared between processes of one principal only.
type Keyer struct {
	// Namespace prefixes every entry file name.
	Namespace string
	// Dir is the storage directory for entry files.
	Dir string
	// Principal resolves the identity of the calling principal.
	Principal func() (string, error)
}

func NewKeyer(namespace string) Keyer {
	return Keyer{
		Namespace: namespace,
		Dir:       os.TempDir(),
		Principal: CurrentUser,
	}
}

// CurrentUser resolves the login name of the current OS user.
// It is the default principal resolver.
func CurrentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrorNoPrincipal, err)
	}
	if u.Username == "" {
		return "", ErrorNoPrincipal
	}
	return u.Username, nil
}

// Canonicalize normalizes a locator so that equivalent spellings
// map to the same key.
func Canonicalize(locator string) (string, error) {
	normalized, err := purell.NormalizeURLString(locator, normalizationFlags)
	if err != nil {
		return "", fmt.Errorf("cannot canonicalize locator %q: %w", locator, err)
	}
	return normalized, nil
}

// Key returns the hex-encoded digest identifying the entry for a locator.
// The digest covers both the principal and the canonicalized locator.
func (k Keyer) Key(locator string) (string, error) {
	principal, err := k.Principal()
	if err != nil {
		return "", err
	}
	canonical, err := Canonicalize(locator)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(principal + principalSeparator + canonical))
	return fmt.Sprintf("%x", digest), nil
}

// Path returns the storage path for the entry of a locator,
// i.e. <dir>/<namespace>.<key>.dat
func (k Keyer) Path(locator string) (string, error) {
	key, err := k.Key(locator)
	if err != nil {
		return "", err
	}
	return filepath.Join(k.Dir, k.Namespace+"."+key+fileSuffix), nil
}
