package session

import (
	"context"
	"encoding/base64"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rtvb/voicebridge/internal/audioenc"
	"github.com/rtvb/voicebridge/internal/playback"
	"github.com/rtvb/voicebridge/internal/protocol"
	"github.com/rtvb/voicebridge/internal/vad"
)

// Session orchestrates one voice conversation: recognizer finals accumulate
// into an utterance buffer, a silence window flushes the buffer into the
// generator, the reply is segmented and synthesized, and a barge-in cancels
// whatever is in flight. All turn-taking state is owned by a single event
// loop; concurrent activity (audio frames, timers, generation and synthesis
// streams) only posts events into it.
type Session struct {
	id     string
	cfg    Config
	params Params

	rec        Recognizer
	translator Translator
	gen        Generator
	synth      Synthesizer

	tracker  *playback.Tracker
	detector *vad.Detector

	emit func(protocol.Outbound)
	// Encode frames a synthesized PCM segment for the wire. Defaults to WAV.
	Encode func(pcm []byte, sampleRate int) (data []byte, format string)

	events    chan event
	translate chan translateJob
	ctx       context.Context
	cancel    context.CancelFunc

	// loop-owned state. state and history are additionally readable from
	// outside the loop, so they get their own synchronization.
	state        atomicState
	pending      []string
	histMu       sync.Mutex
	history      []Turn
	handle       *genHandle
	silenceGen   int
	silenceTimer *time.Timer
}

type atomicState struct{ v atomic.Int32 }

func (a *atomicState) set(s State) { a.v.Store(int32(s)) }
func (a *atomicState) get() State  { return State(a.v.Load()) }

type translateJob struct {
	text       string
	confidence float64
}

// genHandle tracks one in-flight generation plus its synthesis pipeline.
// At most one non-cancelled handle exists per session.
type genHandle struct {
	userText string
	cancel   context.CancelFunc

	cancelled bool
	genDone   bool

	full   strings.Builder // complete reply text as streamed
	segBuf string          // unterminated tail awaiting a sentence boundary

	segQueue    chan string // feeds the synthesis worker, loop-owned
	queueClosed bool
	waiting     []string // overflow when segQueue is full

	segsSent      int // dispatched to the synthesis worker
	segsReturned  int // synthesis results received (including empty/errored)
	segsScheduled int // placed on the playback timeline
	segsPlayed    int // playback-complete events received

	// scheduledText mirrors the timeline: the concatenation of every segment
	// that was shipped as audio, in order. Barge-in computes the heard prefix
	// over this text.
	scheduledText strings.Builder
}

type event interface{ isEvent() }

type evFinal struct{ text string }
type evSilence struct{ gen int }
type evGenChunk struct {
	h    *genHandle
	text string
}
type evGenDone struct {
	h   *genHandle
	err error
}
type evSegAudio struct {
	h    *genHandle
	text string
	pcm  []byte
	err  error
}
type evPlayDone struct {
	h     *genHandle
	index int
}
type evBargeIn struct {
	source    string // "acoustic" or "client"
	threshold float64
}
type evClear struct{}

func (evFinal) isEvent()    {}
func (evSilence) isEvent()  {}
func (evGenChunk) isEvent() {}
func (evGenDone) isEvent()  {}
func (evSegAudio) isEvent() {}
func (evPlayDone) isEvent() {}
func (evBargeIn) isEvent()  {}
func (evClear) isEvent()    {}

// NewSession wires a session together. emit delivers outbound protocol events
// to the client and must be safe to call from multiple goroutines.
func NewSession(id string, cfg Config, params Params, rec Recognizer, translator Translator, gen Generator, synth Synthesizer, emit func(protocol.Outbound)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		cfg:        cfg,
		params:     params,
		rec:        rec,
		translator: translator,
		gen:        gen,
		synth:      synth,
		tracker:    playback.NewTracker(cfg.BufferLatency),
		detector:   vad.New(cfg.Detector),
		emit:       emit,
		Encode: func(pcm []byte, sampleRate int) ([]byte, string) {
			return audioenc.WAVBytes(pcm, sampleRate, 1), "wav"
		},
		events:    make(chan event, 256),
		translate: make(chan translateJob, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start connects the recognizer and launches the event loop. The ready event
// is emitted once the session can accept audio.
func (s *Session) Start() error {
	if err := s.rec.Connect(); err != nil {
		return err
	}
	go s.pumpTranscripts()
	go s.pumpTranslations()
	go s.run()
	s.emit(protocol.Ready{
		Type:       protocol.TypeReady,
		SessionID:  s.id,
		InputLang:  s.params.InputLang,
		OutputLang: s.params.OutputLang,
		Model:      s.params.Model,
		Voice:      s.params.Voice,
	})
	return nil
}

// Close tears the session down: the recognizer link, any in-flight generation
// and synthesis, and all pending playback. Safe to call more than once.
func (s *Session) Close() error {
	s.cancel()
	return s.rec.Close()
}

// CurrentState reports the loop's current turn-taking state.
func (s *Session) CurrentState() State { return s.state.get() }

// History returns a copy of the completed turns.
func (s *Session) History() []Turn {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) appendTurn(t Turn) {
	s.histMu.Lock()
	s.history = append(s.history, t)
	s.histMu.Unlock()
}

// FeedAudio forwards one binary frame of PCM16LE 16kHz mono audio to the
// recognizer and runs the acoustic barge-in detector over it. Called from the
// gateway's read loop.
func (s *Session) FeedAudio(pcm []byte) {
	if err := s.rec.SendPCM16KLE(pcm); err != nil {
		log.Printf("[session %s] recognizer send: %v", s.id, err)
	}
	frameSamples := s.cfg.SampleRate / 50 // 20ms
	if frameSamples <= 0 {
		return
	}
	samples := bytesToInt16(pcm)
	speaking := s.tracker.IsSpeaking()
	for off := 0; off+frameSamples <= len(samples); off += frameSamples {
		sample := s.detector.Process(samples[off:off+frameSamples], speaking)
		if sample.Triggered {
			s.post(evBargeIn{source: "acoustic", threshold: sample.Threshold})
		}
	}
}

// RequestBargeIn is the client-initiated barge-in path. threshold is the
// client-reported detection level, zero when the client did not measure one.
func (s *Session) RequestBargeIn(threshold float64) {
	s.post(evBargeIn{source: "client", threshold: threshold})
}

// ClearHistory drops all completed turns.
func (s *Session) ClearHistory() { s.post(evClear{}) }

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// pumpTranscripts relays recognizer output: partials go straight to the
// client, finals enter the state machine and the translation queue.
func (s *Session) pumpTranscripts() {
	partials := s.rec.Partials()
	finals := s.rec.Finals()
	for partials != nil || finals != nil {
		select {
		case <-s.ctx.Done():
			return
		case p, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.emit(protocol.Partial{Type: protocol.TypePartial, Original: p})
		case f, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			text := strings.TrimSpace(f.Text)
			if text == "" {
				continue
			}
			s.post(evFinal{text: text})
			select {
			case s.translate <- translateJob{text: text, confidence: f.Confidence}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// pumpTranslations runs sequentially so final events reach the client in
// recognizer order even though translation is a network call.
func (s *Session) pumpTranslations() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.translate:
			translation, err := s.translator.Translate(s.ctx, job.text, s.params.InputLang, s.params.OutputLang)
			if err != nil {
				log.Printf("[session %s] translate: %v", s.id, err)
				translation = ""
			}
			s.emit(protocol.Final{
				Type:        protocol.TypeFinal,
				Original:    job.text,
				Translation: translation,
				Confidence:  job.confidence,
				InputLang:   s.params.InputLang,
				OutputLang:  s.params.OutputLang,
			})
		}
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) teardown() {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	if s.handle != nil && !s.handle.cancelled {
		s.handle.cancelled = true
		s.handle.cancel()
		s.closeQueue(s.handle)
	}
	s.tracker.Stop()
}

func (s *Session) handleEvent(ev event) {
	switch e := ev.(type) {
	case evFinal:
		s.onFinal(e.text)
	case evSilence:
		s.onSilence(e.gen)
	case evGenChunk:
		s.onGenChunk(e.h, e.text)
	case evGenDone:
		s.onGenDone(e.h, e.err)
	case evSegAudio:
		s.onSegAudio(e.h, e.text, e.pcm, e.err)
	case evPlayDone:
		s.onPlayDone(e.h, e.index)
	case evBargeIn:
		if e.threshold > 0 {
			log.Printf("[session %s] %s barge-in (threshold %.3f)", s.id, e.source, e.threshold)
		}
		s.onBargeIn("")
	case evClear:
		s.histMu.Lock()
		s.history = nil
		s.histMu.Unlock()
		s.emit(protocol.ConversationCleared{Type: protocol.TypeConversationCleared})
	}
}

func (s *Session) onFinal(text string) {
	if !s.params.AgentEnabled {
		return
	}
	switch s.state.get() {
	case StateIdle:
		s.state.set(StateAccumulating)
		s.pending = append(s.pending, text)
		s.armSilence()
	case StateAccumulating:
		s.pending = append(s.pending, text)
		s.armSilence()
	case StateFlushing, StateSpeaking:
		// the user spoke over the assistant: treat the final as a barge-in
		// and restart accumulation seeded with what they said
		s.onBargeIn(text)
	}
}

func (s *Session) armSilence() {
	s.silenceGen++
	gen := s.silenceGen
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.silenceTimer = time.AfterFunc(s.cfg.SilenceDelay, func() {
		s.post(evSilence{gen: gen})
	})
}

func (s *Session) onSilence(gen int) {
	if gen != s.silenceGen {
		return // superseded by a later utterance
	}
	if s.state.get() != StateAccumulating {
		return
	}
	if len(s.pending) == 0 {
		s.state.set(StateIdle)
		return
	}
	if s.handle != nil {
		// previous turn still winding down: try again shortly
		s.armSilence()
		return
	}
	s.flush()
}

func (s *Session) flush() {
	userText := strings.Join(s.pending, " ")
	s.pending = nil
	prompt := buildPrompt(s.history, userText)

	hctx, hcancel := context.WithCancel(s.ctx)
	h := &genHandle{userText: userText, cancel: hcancel}
	s.handle = h
	s.state.set(StateFlushing)
	s.tracker.Reset()

	s.emit(protocol.AgentChunk{Type: protocol.TypeAgentChunk, Status: "start", Model: s.params.Model})

	go func() {
		chunks, errs := s.gen.Generate(hctx, prompt)
		for c := range chunks {
			s.post(evGenChunk{h: h, text: c})
		}
		s.post(evGenDone{h: h, err: <-errs})
	}()

	if s.params.TTSEnabled {
		h.segQueue = make(chan string, 64)
		go s.synthWorker(h, hctx)
	}
}

// synthWorker synthesizes one segment at a time so audio is shipped in reply
// order. Results are posted back to the loop, which owns the timeline.
func (s *Session) synthWorker(h *genHandle, ctx context.Context) {
	for seg := range h.segQueue {
		pcmCh, errCh := s.synth.Synthesize(ctx, seg)
		var buf []byte
		for b := range pcmCh {
			buf = append(buf, b...)
		}
		s.post(evSegAudio{h: h, text: seg, pcm: buf, err: <-errCh})
	}
}

func (s *Session) onGenChunk(h *genHandle, text string) {
	if h != s.handle || h.cancelled {
		return
	}
	h.full.WriteString(text)
	s.emit(protocol.AgentChunk{Type: protocol.TypeAgentChunk, Status: "streaming", Chunk: text, Model: s.params.Model})
	if s.params.TTSEnabled {
		h.segBuf += text
		complete, rest := takeCompleteSegments(h.segBuf)
		h.segBuf = rest
		s.dispatchSegments(h, complete)
	}
}

func (s *Session) dispatchSegments(h *genHandle, segs []string) {
	h.waiting = append(h.waiting, segs...)
	for len(h.waiting) > 0 && !h.queueClosed {
		select {
		case h.segQueue <- h.waiting[0]:
			h.segsSent++
			h.waiting = h.waiting[1:]
		default:
			return // queue full, retried on the next event
		}
	}
}

func (s *Session) closeQueue(h *genHandle) {
	if h.segQueue != nil && !h.queueClosed {
		close(h.segQueue)
	}
	h.queueClosed = true
	h.waiting = nil
}

func (s *Session) onGenDone(h *genHandle, err error) {
	if h != s.handle || h.cancelled {
		return
	}
	if err != nil {
		log.Printf("[session %s] generation failed: %v", s.id, err)
		s.emit(protocol.Agent{Type: protocol.TypeAgent, Status: "error", Error: err.Error(), Model: s.params.Model})
		s.failTurn(h)
		return
	}
	h.genDone = true
	s.emit(protocol.AgentChunk{Type: protocol.TypeAgentChunk, Status: "done", Model: s.params.Model})
	if s.params.TTSEnabled {
		if tail := strings.TrimSpace(h.segBuf); tail != "" {
			s.dispatchSegments(h, splitSegments(tail))
		}
		h.segBuf = ""
		if len(h.waiting) == 0 {
			s.closeQueue(h)
		}
		s.maybeComplete(h)
	} else {
		s.completeTurn(h)
	}
}

func (s *Session) onSegAudio(h *genHandle, text string, pcm []byte, err error) {
	if h == s.handle && !h.cancelled {
		h.segsReturned++
		s.dispatchSegments(h, nil) // drain any overflow now that the queue has room
		if h.genDone && len(h.waiting) == 0 {
			s.closeQueue(h)
		}
	}
	if h != s.handle || h.cancelled {
		return
	}
	if err != nil {
		log.Printf("[session %s] synthesis failed: %v", s.id, err)
		s.emit(protocol.TTSError{Type: protocol.TypeTTSError, Error: err.Error()})
		s.failTurn(h)
		return
	}
	if len(pcm) == 0 {
		s.maybeComplete(h)
		return
	}

	rate := s.synth.SampleRate()
	duration := time.Duration(len(pcm)/2) * time.Second / time.Duration(rate)
	index := s.tracker.Len()
	start := s.tracker.Schedule(duration, utf8.RuneCountInString(text))
	if h.scheduledText.Len() > 0 {
		h.scheduledText.WriteString(" ")
	}
	h.scheduledText.WriteString(text)
	h.segsScheduled++
	s.state.set(StateSpeaking)

	data, format := s.Encode(pcm, rate)
	s.emit(protocol.TTSAudio{
		Type:       protocol.TypeTTSAudio,
		Data:       base64.StdEncoding.EncodeToString(data),
		SampleRate: rate,
		Format:     format,
		Segment:    h.segsScheduled,
		Text:       text,
	})

	end := time.Until(start.Add(duration)) + 10*time.Millisecond
	time.AfterFunc(end, func() {
		s.post(evPlayDone{h: h, index: index})
	})
}

func (s *Session) onPlayDone(h *genHandle, index int) {
	if h != s.handle || h.cancelled {
		return
	}
	s.tracker.MarkEnded(index)
	h.segsPlayed++
	s.maybeComplete(h)
}

func (s *Session) maybeComplete(h *genHandle) {
	if !h.genDone || !h.queueClosed {
		return
	}
	if h.segsReturned != h.segsSent || h.segsPlayed != h.segsScheduled {
		return
	}
	if h.segsScheduled > 0 {
		s.emit(protocol.TTSComplete{Type: protocol.TypeTTSComplete, TotalSegments: h.segsScheduled})
	}
	s.completeTurn(h)
}

// completeTurn closes a turn that ran to the end of its reply and playback.
func (s *Session) completeTurn(h *genHandle) {
	s.appendTurn(Turn{User: h.userText, Agent: strings.TrimSpace(h.full.String())})
	s.emit(protocol.Agent{Type: protocol.TypeAgent, Status: "ok", Response: strings.TrimSpace(h.full.String()), Model: s.params.Model})
	s.finishHandle(h)
}

// failTurn closes a turn after a generation or synthesis failure. No retry;
// whatever partial reply exists goes into history as a normal turn.
func (s *Session) failTurn(h *genHandle) {
	h.cancelled = true
	h.cancel()
	s.closeQueue(h)
	s.tracker.Stop()
	s.appendTurn(Turn{User: h.userText, Agent: strings.TrimSpace(h.full.String())})
	s.finishHandle(h)
}

func (s *Session) finishHandle(h *genHandle) {
	h.cancel()
	s.handle = nil
	if len(s.pending) > 0 {
		s.state.set(StateAccumulating)
		s.armSilence()
	} else {
		s.state.set(StateIdle)
	}
}

// onBargeIn cancels the in-flight turn. seedText, when non-empty, is the final
// transcript that interrupted the assistant and starts the next utterance.
func (s *Session) onBargeIn(seedText string) {
	if st := s.state.get(); st != StateFlushing && st != StateSpeaking {
		return // nothing to interrupt; late triggers are no-ops
	}
	h := s.handle
	if h == nil {
		return
	}
	h.cancelled = true
	h.cancel()
	s.closeQueue(h)
	s.emit(protocol.AgentChunk{Type: protocol.TypeAgentChunk, Status: "cancelled", Model: s.params.Model})

	stats := s.tracker.Stats()
	spoken := prefixByFraction(h.scheduledText.String(), stats.PlayedTextPercent)
	s.tracker.Stop()

	if h.segsScheduled > 0 {
		s.emit(protocol.TTSInterrupted{Type: protocol.TypeTTSInterrupted, Segment: h.segsPlayed})
	}
	s.emit(protocol.TTSBargeIn{
		Type:            protocol.TypeTTSBargeIn,
		PlayedSeconds:   stats.PlayedSeconds,
		TotalSeconds:    stats.TotalSeconds,
		PlaybackPercent: stats.PlaybackPercent * 100,
		SpokenText:      spoken,
	})

	s.appendTurn(Turn{
		User:        h.userText,
		Agent:       strings.TrimSpace(h.full.String()),
		Interrupted: true,
		Spoken:      spoken,
	})
	s.handle = nil
	s.state.set(StateAccumulating)
	if seedText != "" {
		s.pending = append(s.pending, seedText)
	}
	s.armSilence()
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}
