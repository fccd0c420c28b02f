package memory

import (
	"reflect"
	"time"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge"
)

// poller waits on a dynamic set of channels via reflect.Select, since
// the number of registered sockets isn't known at compile time.
type poller struct {
	sockets []*socket
}

func (p *poller) Add(s bridge.Socket) {
	if ms, ok := s.(*socket); ok {
		p.sockets = append(p.sockets, ms)
	}
}

func (p *poller) Poll(timeout time.Duration) ([]bridge.Socket, error) {
	if len(p.sockets) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}

	cases := make([]reflect.SelectCase, 0, len(p.sockets)+1)
	for _, s := range p.sockets {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(s.readable)})
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)})

	chosen, _, ok := reflect.Select(cases)
	if chosen == len(p.sockets) {
		return nil, nil
	}

	var ready []bridge.Socket
	if ok {
		ready = append(ready, p.sockets[chosen])
	}
	for i, s := range p.sockets {
		if i == chosen {
			continue
		}
		select {
		case <-s.readable:
			ready = append(ready, s)
		default:
		}
	}
	return ready, nil
}
