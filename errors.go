package scalemap

import "github.com/pkg/errors"

// ErrInvalidCapacity is returned when a rehash is asked to fit the live
// entries into fewer slots than there are entries. The sizing policy never
// asks for that, so seeing it means the policy is broken.
var ErrInvalidCapacity = errors.New("scalemap: invalid capacity")
