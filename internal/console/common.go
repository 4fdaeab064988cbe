package console

import (
	"io"
	"regexp"

	"golang.org/x/term"
)

func init() {
	Add(Cmd{
		Name: "help",
		Help: "this help",
		Fn:   helpCmd,
	})

	Add(Cmd{
		Name:    "exit, quit",
		Args:    1,
		Pattern: regexp.MustCompile(`^(exit|quit)$`),
		Help:    "close session",
		Fn:      exitCmd,
	})
}

func helpCmd(_ *Console, term *term.Terminal, _ []string) (string, error) {
	return Help(term), nil
}

func exitCmd(_ *Console, _ *term.Terminal, _ []string) (string, error) {
	return "logout", io.EOF
}
