package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/arcline-ai/voicebridge/internal/log"
)

const receivePoll = 100 * time.Millisecond

// FrameWriter writes one JSON frame to the caller's socket. The handler
// serializes all writes itself, so implementations need no locking.
type FrameWriter interface {
	WriteJSON(v any) error
}

// AudioHandler owns the audio path of one telephony call: a bounded inbound
// queue of caller audio, a bounded outbound queue drained by a pump that
// writes media and mark frames, and the FIFO of outstanding marks.
//
// Audio is real-time: when a queue is full the newest chunk is dropped and
// a warning logged, never blocking the caller.
type AudioHandler struct {
	callID string
	writer FrameWriter

	writeMu sync.Mutex

	inbound  chan []byte
	outbound chan []byte

	mu                   sync.Mutex
	streamSid            string
	connectedAt          time.Time
	latestMediaTimestamp int
	markQueue            []string

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAudioHandler creates a handler with the given queue depth and starts
// the output pump.
func NewAudioHandler(callID string, w FrameWriter, queueDepth int) *AudioHandler {
	if queueDepth <= 0 {
		queueDepth = 100
	}
	h := &AudioHandler{
		callID:   callID,
		writer:   w,
		inbound:  make(chan []byte, queueDepth),
		outbound: make(chan []byte, queueDepth),
		done:     make(chan struct{}),
	}
	h.wg.Add(1)
	go h.pumpOutput()
	return h
}

// HandleFrame processes one raw inbound frame and returns its event name.
// Unparseable frames return an error; the caller logs and keeps reading.
func (h *AudioHandler) HandleFrame(data []byte) (string, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("telephony: decode frame: %w", err)
	}
	if f.Event == "" {
		return "", fmt.Errorf("telephony: frame missing event field")
	}

	switch f.Event {
	case EventConnected:
		log.Debug("telephony transport connected", "call_id", h.callID, "protocol", f.Protocol)

	case EventStart:
		if f.Start != nil {
			h.bindStream(f.Start.StreamSid)
			log.Info("media stream started",
				"call_id", h.callID,
				"stream_sid", f.Start.StreamSid,
				"call_sid", f.Start.CallSid,
				"encoding", f.Start.MediaFormat.Encoding)
		}

	case EventMedia:
		if f.Media != nil && f.Media.Payload != "" {
			if ts, err := strconv.Atoi(f.Media.Timestamp); err == nil {
				h.mu.Lock()
				h.latestMediaTimestamp = ts
				h.mu.Unlock()
			}
			h.AddInboundAudio(f.Media.Payload)
		}

	case EventMark:
		h.mu.Lock()
		if len(h.markQueue) > 0 {
			h.markQueue = h.markQueue[1:]
		}
		h.mu.Unlock()

	case EventStop:
		log.Info("media stream stopped", "call_id", h.callID)

	case EventDTMF:
		if f.DTMF != nil {
			log.Debug("dtmf received", "call_id", h.callID, "digit", f.DTMF.Digit)
		}

	default:
		log.Debug("unhandled telephony event", "call_id", h.callID, "event", f.Event)
	}

	return f.Event, nil
}

func (h *AudioHandler) bindStream(streamSid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streamSid = streamSid
	h.connectedAt = time.Now()
	h.latestMediaTimestamp = 0
}

// AddInboundAudio decodes a base64 chunk from the caller and enqueues it.
// Empty or undecodable payloads are dropped.
func (h *AudioHandler) AddInboundAudio(payloadB64 string) {
	if payloadB64 == "" {
		log.Warn("empty inbound audio payload", "call_id", h.callID)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		log.Error("failed to decode inbound audio", "call_id", h.callID, "error", err)
		return
	}

	select {
	case h.inbound <- raw:
	default:
		log.Warn("inbound audio queue full, dropping chunk",
			"call_id", h.callID, "bytes", len(raw))
	}
}

// Receive returns the next inbound chunk, or nil if none arrives within
// 100 ms. A nil result is a poll miss, not an error.
func (h *AudioHandler) Receive() []byte {
	timer := time.NewTimer(receivePoll)
	defer timer.Stop()

	select {
	case chunk := <-h.inbound:
		return chunk
	case <-h.done:
		return nil
	case <-timer.C:
		return nil
	}
}

// SendOutboundAudio enqueues decoded model audio for delivery to the
// caller. Full queue drops the chunk with a warning.
func (h *AudioHandler) SendOutboundAudio(audio []byte) {
	if len(audio) == 0 {
		return
	}
	select {
	case h.outbound <- audio:
	default:
		log.Warn("outbound audio queue full, dropping chunk",
			"call_id", h.callID, "bytes", len(audio))
	}
}

// ClearBuffers drains both audio queues and the mark queue.
func (h *AudioHandler) ClearBuffers() {
	drain(h.inbound)
	drain(h.outbound)

	h.mu.Lock()
	h.markQueue = nil
	h.mu.Unlock()
	log.Debug("audio buffers cleared", "call_id", h.callID)
}

func drain(ch chan []byte) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// HandleSpeechStarted reacts to a caller barge-in: drop everything queued
// locally and tell the transport to discard its buffered audio too.
func (h *AudioHandler) HandleSpeechStarted() {
	h.ClearBuffers()

	h.mu.Lock()
	sid := h.streamSid
	h.mu.Unlock()
	if sid == "" {
		return
	}

	if err := h.writeFrame(ClearFrame(sid)); err != nil {
		log.Error("failed to send clear frame", "call_id", h.callID, "error", err)
		return
	}
	log.Info("cleared transport audio buffer", "call_id", h.callID)
}

// StreamSid returns the bound stream ID, empty before the start event.
func (h *AudioHandler) StreamSid() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streamSid
}

// LatestMediaTimestamp returns the ms offset of the newest caller chunk.
func (h *AudioHandler) LatestMediaTimestamp() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latestMediaTimestamp
}

// PendingMarks returns the number of sent marks not yet echoed back.
func (h *AudioHandler) PendingMarks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.markQueue)
}

// Shutdown stops the output pump and waits for it. Idempotent.
func (h *AudioHandler) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()
	log.Debug("audio handler shut down", "call_id", h.callID)
}

// pumpOutput drains the outbound queue, writing each chunk as a media
// frame followed by a mark so playback progress can be tracked.
func (h *AudioHandler) pumpOutput() {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return
		case audio := <-h.outbound:
			h.mu.Lock()
			sid := h.streamSid
			h.mu.Unlock()
			if sid == "" {
				// Stream not bound yet, the chunk has nowhere to go.
				continue
			}

			payload := base64.StdEncoding.EncodeToString(audio)
			if err := h.writeFrame(MediaFrame(sid, payload)); err != nil {
				log.Error("failed to write media frame", "call_id", h.callID, "error", err)
				continue
			}
			if err := h.writeFrame(MarkFrame(sid)); err != nil {
				log.Error("failed to write mark frame", "call_id", h.callID, "error", err)
				continue
			}
			h.mu.Lock()
			h.markQueue = append(h.markQueue, markName)
			h.mu.Unlock()
		}
	}
}

func (h *AudioHandler) writeFrame(f *Frame) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.writer.WriteJSON(f)
}
