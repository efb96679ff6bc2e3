//go:build !linux

package flatfile

import (
	"errors"
	"os"
)

func reflink(dst, src *os.File) error {
	return errors.New("reflink not supported on this platform")
}
