package reconcile

import "errors"

// ErrAllRegistriesFailed means every candidate region answered with an application error.
var ErrAllRegistriesFailed = errors.New("reconcile: all registries failed")
