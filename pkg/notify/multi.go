package notify

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// Multi delivers every discovery to all of its notifiers, in order. A
// failing notifier does not prevent delivery to the rest.
type Multi []Notifier

// Notify returns the failures of all notifiers combined, or nil.
func (m Multi) Notify(ctx context.Context, d Discovery) error {
	var result *multierror.Error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, d); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
