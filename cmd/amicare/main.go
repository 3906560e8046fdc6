// Command amicare drives care sessions from the terminal: list them, book or
// cancel them, and follow a live session as it starts and ends.
package main

import (
	"errors"
	"os"

	"github.com/pterm/pterm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var r reported
		if !errors.As(err, &r) {
			pterm.Error.Println(err)
		}
		os.Exit(1)
	}
}

// reported is an error the user has already been shown.
type reported struct {
	error
}

func (r reported) Unwrap() error {
	return r.error
}
