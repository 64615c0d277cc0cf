package urlcache

import (
	"fmt"

	cachekey "github.com/urlcache/urlcache/pkg/cache-key"
)

// ErrorNoPrincipal is returned when the identity of the calling OS user
// cannot be resolved. No filesystem or network activity happens in that case.
var ErrorNoPrincipal = cachekey.ErrorNoPrincipal

var (
	// ErrorTransport marks a network failure during refresh with no
	// local copy to fall back on.
	ErrorTransport = fmt.Errorf("transport failure during refresh")
	// ErrorNotCached is returned when a first-ever fetch failed and no
	// entry exists on disk.
	ErrorNotCached = fmt.Errorf("no local copy of resource")
	// ErrorDecode marks bytes that were fetched successfully but do not
	// parse as the requested format.
	ErrorDecode = fmt.Errorf("cannot decode resource")
	// ErrorPermission marks a failure to write the entry or restrict
	// its permission bits.
	ErrorPermission = fmt.Errorf("cannot write cache entry")
)
