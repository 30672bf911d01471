package utils

import "io"

// drainLimit bounds how much of an abandoned body is read before closing.
// Past this point a fresh connection is cheaper than finishing the read.
const drainLimit = 1 << 20

// DrainAndClose consumes the remainder of a response body and closes it,
// letting the transport reuse the underlying connection.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, drainLimit))
	return rc.Close()
}
