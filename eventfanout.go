package sessionlink

import (
	"pkt.systems/sessionlink/core"
	"pkt.systems/sessionlink/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnStatus(event schema.StatusEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnStatus(event)
	}
}

func (f eventFanout) OnError(event schema.ErrorEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnError(event)
	}
}

func (f eventFanout) OnRequest(event schema.RequestEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnRequest(event)
	}
}
