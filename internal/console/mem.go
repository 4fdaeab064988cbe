package console

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"golang.org/x/term"
)

const maxBufferSize = 102400

func init() {
	Add(Cmd{
		Name:    "peek",
		Args:    2,
		Pattern: regexp.MustCompile(`^peek (0x[[:xdigit:]]+) (\d+)$`),
		Syntax:  "<hex addr> <size>",
		Help:    "pool memory display",
		Fn:      memReadCmd,
	})
}

func memReadCmd(c *Console, _ *term.Terminal, arg []string) (res string, err error) {
	if c.Mem == nil {
		return "", fmt.Errorf("pool has no host memory backing")
	}

	addr, err := strconv.ParseUint(arg[0], 0, 63)
	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	size, err := strconv.ParseUint(arg[1], 10, 32)
	if err != nil {
		return "", fmt.Errorf("invalid size, %v", err)
	}

	if size > maxBufferSize {
		return "", fmt.Errorf("size argument must be <= %d", maxBufferSize)
	}

	buf := make([]byte, size)
	n, err := c.Mem.ReadAt(buf, int64(addr))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	return hex.Dump(buf[:n]), nil
}
