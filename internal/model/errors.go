package model

import "errors"

// ErrUnreachable is returned (wrapped) by remote store implementations when
// the store cannot be contacted at all, as opposed to rejecting one request.
var ErrUnreachable = errors.New("remote store unreachable")
