package core

import (
	"errors"

	"github.com/rmacdonaldsmith/nodestream-go/internal/eventstream"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

type item struct {
	env events.Envelope
	err error
}

// pump moves envelopes from a blocking stream read onto a channel so the
// actor can select over stream items and commands. Items is unbuffered: the
// pump reads at most one envelope ahead of the actor.
type pump struct {
	stream *eventstream.Stream
	items  chan item
	stop   chan struct{}
	done   chan struct{}
}

func startPump(stream *eventstream.Stream) *pump {
	p := &pump{
		stream: stream,
		items:  make(chan item),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *pump) run() {
	defer close(p.done)
	for {
		env, err := p.stream.Next()
		select {
		case p.items <- item{env: env, err: err}:
		case <-p.stop:
			return
		}
		if err != nil && !isDecodingError(err) {
			return
		}
	}
}

// halt stops the pump and closes the stream. Items not yet taken by the actor
// are discarded.
func (p *pump) halt() {
	close(p.stop)
	p.stream.Close()
	<-p.done
}

func isDecodingError(err error) bool {
	var derr *events.DecodingError
	return errors.As(err, &derr)
}
