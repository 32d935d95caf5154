package stream

import (
	"context"
	"fmt"
	"io"
	"time"
)

type chunk struct {
	data []byte
	err  error
}

// Consume reads the response body into the assembler until end of stream,
// context cancellation or idle timeout. idleTimeout bounds the gap between
// consecutive chunks, so a stalled backend cannot leave a chat "thinking"
// forever; zero disables the bound.
//
// The caller keeps ownership of body and must close it; closing unblocks a
// pending read after cancellation.
func Consume(ctx context.Context, a *Assembler, body io.Reader, idleTimeout time.Duration) (*Result, error) {
	chunks := make(chan chunk, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			var data []byte
			if n > 0 {
				data = make([]byte, n)
				copy(data, buf[:n])
			}
			select {
			case chunks <- chunk{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var idle *time.Timer
	var idleC <-chan time.Time
	if idleTimeout > 0 {
		idle = time.NewTimer(idleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-idleC:
			return nil, fmt.Errorf("stream stalled: no data for %s", idleTimeout)

		case c := <-chunks:
			if len(c.data) > 0 {
				if err := a.Feed(c.data); err != nil {
					return nil, err
				}
			}
			if c.err == io.EOF || a.State() == StateDone {
				return a.Finish()
			}
			if c.err != nil {
				return nil, fmt.Errorf("failed to read stream: %w", c.err)
			}
			if idle != nil {
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(idleTimeout)
			}
		}
	}
}
