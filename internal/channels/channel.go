// Package channels delivers agent events to a human operator and accepts
// simple commands back, so scheduled votes can be reviewed or canceled
// during their delay window.
package channels

import "context"

// Channel is a bidirectional operator surface: it pushes event messages
// out and serves commands until its context ends.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Notify(ctx context.Context, message string)
}
