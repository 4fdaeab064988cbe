// Package translate renders user facing messages for the host locale.
package translate

import (
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/jeandeaual/go-locale"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	printer     atomic.Pointer[message.Printer]
	printerOnce sync.Once
)

func load() *message.Printer {
	printerOnce.Do(func() {
		locales, err := locale.GetLocales()
		if err != nil {
			log.Printf("smctl: locale: %v", err)
		}

		if len(locales) == 0 {
			locales = []string{"en-US"}
		}

		printer.Store(message.NewPrinter(message.MatchLanguage(locales...)))
	})
	return printer.Load()
}

// SetLanguage replaces the printer, overriding the detected locale.
func SetLanguage(tag language.Tag) {
	load()
	printer.Store(message.NewPrinter(tag))
}

// From an en-US Sprintf() format, translate to string.
func From(key message.Reference, args ...any) string {
	return load().Sprintf(key, args...)
}

// Fprintf writes a translated message to w.
func Fprintf(w io.Writer, key message.Reference, args ...any) (int, error) {
	return load().Fprintf(w, key, args...)
}

// Bytes formats a byte count with the locale's digit grouping.
func Bytes(n uint64) string {
	return load().Sprintf("%d bytes", n)
}
