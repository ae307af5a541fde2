// Package gateway exposes voice sessions over a websocket endpoint: binary
// frames carry caller audio inbound, JSON events carry everything outbound.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rtvb/voicebridge/internal/audioenc"
	"github.com/rtvb/voicebridge/internal/protocol"
	"github.com/rtvb/voicebridge/internal/session"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

const (
	writeTimeout = 10 * time.Second
	// outbound backlog before the writer considers the client stuck
	outboundBuffer = 256
)

// Handler builds a session per websocket connection. The factories let main
// choose concrete engines (and tests substitute fakes) without the gateway
// knowing about either.
type Handler struct {
	SessionConfig  session.Config
	DefaultModel   string
	DefaultVoice   string
	NewRecognizer  func(p session.Params) (session.Recognizer, error)
	Translator     session.Translator
	NewGenerator   func(model string) session.Generator
	NewSynthesizer func(p session.Params) (session.Synthesizer, error)
}

// Register mounts the streaming endpoint.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws/stream", h.ServeStream)
}

// paramsFromQuery reads the per-connection options. Everything has a default
// so a bare dial gets a working English agent session.
func (h *Handler) paramsFromQuery(c echo.Context) session.Params {
	q := c.QueryParams()
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
		return fallback
	}
	enabled := func(key string, fallback bool) bool {
		switch strings.ToLower(q.Get(key)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		default:
			return fallback
		}
	}
	return session.Params{
		InputLang:    get("input_lang", "en"),
		OutputLang:   get("output_lang", "en"),
		AgentEnabled: enabled("agent", true),
		Model:        get("model", h.DefaultModel),
		TTSEnabled:   enabled("tts", true),
		Voice:        get("voice", h.DefaultVoice),
		Format:       get("format", "wav"),
	}
}

// ServeStream upgrades the connection, assembles a session around it, and
// pumps frames both ways until the client hangs up.
func (h *Handler) ServeStream(c echo.Context) error {
	params := h.paramsFromQuery(c)

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	id := uuid.NewString()

	rec, err := h.NewRecognizer(params)
	if err != nil {
		log.Printf("[gateway %s] recognizer init: %v", id, err)
		return nil
	}
	synth, err := h.NewSynthesizer(params)
	if err != nil {
		log.Printf("[gateway %s] synthesizer init: %v", id, err)
		_ = rec.Close()
		return nil
	}

	// single writer goroutine; everything outbound funnels through here.
	// The stop channel, not a channel close, ends it: session goroutines may
	// still emit while the connection is tearing down.
	outbound := make(chan protocol.Outbound, outboundBuffer)
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-stop:
				return
			case ev := <-outbound:
				payload, merr := json.Marshal(ev)
				if merr != nil {
					log.Printf("[gateway %s] marshal outbound: %v", id, merr)
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if werr := conn.WriteMessage(websocket.TextMessage, payload); werr != nil {
					return
				}
			}
		}
	}()

	emit := func(ev protocol.Outbound) {
		select {
		case outbound <- ev:
		case <-stop:
		default:
			log.Printf("[gateway %s] outbound backlog full, dropping event", id)
		}
	}

	sess := session.NewSession(id, h.SessionConfig, params, rec, h.Translator, h.NewGenerator(params.Model), synth, emit)
	if params.Format == "opus" {
		if enc, oerr := audioenc.NewOpusEncoder(synth.SampleRate()); oerr != nil {
			log.Printf("[gateway %s] opus unavailable, falling back to wav: %v", id, oerr)
		} else {
			sess.Encode = func(pcm []byte, _ int) ([]byte, string) {
				data, eerr := enc.EncodeFrames(pcm)
				if eerr != nil {
					log.Printf("[gateway %s] opus encode: %v", id, eerr)
					return audioenc.WAVBytes(pcm, synth.SampleRate(), 1), "wav"
				}
				return data, "opus"
			}
		}
	}

	if err := sess.Start(); err != nil {
		log.Printf("[gateway %s] session start: %v", id, err)
		close(stop)
		<-writerDone
		return nil
	}
	log.Printf("[gateway %s] session open: %s->%s agent=%t tts=%t model=%s",
		id, params.InputLang, params.OutputLang, params.AgentEnabled, params.TTSEnabled, params.Model)

	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			if !websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[gateway %s] ws read: %v", id, rerr)
			}
			break
		}
		switch mt {
		case websocket.BinaryMessage:
			sess.FeedAudio(data)
		case websocket.TextMessage:
			msg, derr := protocol.DecodeInbound(data)
			if derr != nil {
				// malformed control frames are dropped, the stream continues
				log.Printf("[gateway %s] %v", id, derr)
				continue
			}
			switch m := msg.(type) {
			case protocol.BargeIn:
				if m.TotalSeconds > 0 {
					log.Printf("[gateway %s] client barge-in at %.2fs/%.2fs (%.0f%%)",
						id, m.PlayedSeconds, m.TotalSeconds, m.PlaybackPercent)
				}
				sess.RequestBargeIn(m.Threshold)
			case protocol.ClearHistory:
				sess.ClearHistory()
			}
		}
	}

	_ = sess.Close()
	close(stop)
	<-writerDone
	log.Printf("[gateway %s] session closed", id)
	return nil
}
