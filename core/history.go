package core

import "pkt.systems/sessionlink/schema"

// historyBuffer keeps the last N inbound frames for diagnostics. Oldest
// entries are evicted first; relative order is preserved.
type historyBuffer struct {
	frames []schema.Envelope
	max    int
}

func newHistory(max int) *historyBuffer {
	if max <= 0 {
		max = schema.DefaultHistorySize
	}
	return &historyBuffer{max: max}
}

func (h *historyBuffer) Append(frame schema.Envelope) {
	if h == nil {
		return
	}
	h.frames = append(h.frames, frame)
	if len(h.frames) > h.max {
		h.frames = h.frames[len(h.frames)-h.max:]
	}
}

func (h *historyBuffer) Frames() []schema.Envelope {
	if h == nil {
		return nil
	}
	return append([]schema.Envelope(nil), h.frames...)
}

func (h *historyBuffer) Len() int {
	if h == nil {
		return 0
	}
	return len(h.frames)
}
