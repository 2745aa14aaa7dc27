package demux

import "errors"

var errNoBackend = errors.New("demux: no eligible backend available")
