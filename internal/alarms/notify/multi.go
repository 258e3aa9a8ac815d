package notify

import (
	"context"
	"errors"
)

// MultiChannel fans content out to several channels.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel. Nil channels are skipped.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	kept := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch != nil {
			kept = append(kept, ch)
		}
	}
	return &MultiChannel{channels: kept}
}

// Len returns the number of configured channels.
func (m *MultiChannel) Len() int {
	if m == nil {
		return 0
	}
	return len(m.channels)
}

// Send forwards content to every channel and joins their errors.
func (m *MultiChannel) Send(ctx context.Context, content string) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, content); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
