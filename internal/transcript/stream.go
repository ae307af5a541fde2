package transcript

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Final is a finalized utterance from the recognition engine.
type Final struct {
	Text       string
	Confidence float64
}

// StreamClient is a websocket client for the streaming speech-recognition
// service. It accepts PCM 16kHz little-endian mono buffers and emits
// partial and final transcripts. One client per session.
type StreamClient struct {
	endpoint   string
	lang       string
	sampleRate int

	conn      *websocket.Conn
	partials  chan string
	finals    chan Final
	audioData chan []byte
	stopCh    chan struct{}
	mu        sync.RWMutex
	connected bool
	closeOnce sync.Once
}

// recognizer wire messages
type sttConfigMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Lang       string `json:"lang,omitempty"`
}

type sttResultMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// NewStreamClient creates a recognition client for the given endpoint and
// input language.
func NewStreamClient(endpoint, lang string, sampleRate int) *StreamClient {
	return &StreamClient{
		endpoint:   endpoint,
		lang:       lang,
		sampleRate: sampleRate,
		partials:   make(chan string, 100),
		finals:     make(chan Final, 10),
		audioData:  make(chan []byte, 1000),
		stopCh:     make(chan struct{}),
	}
}

// Partials returns the channel of running transcripts; each value
// supersedes the previous one.
func (s *StreamClient) Partials() <-chan string { return s.partials }

// Finals returns the channel of finalized utterances.
func (s *StreamClient) Finals() <-chan Final { return s.finals }

// Connect establishes the websocket connection and sends the stream config.
func (s *StreamClient) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return fmt.Errorf("stt endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Printf("stt connect failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("connect to stt service: %w", err)
	}

	if err := conn.WriteJSON(sttConfigMessage{Type: "config", SampleRate: s.sampleRate, Lang: s.lang}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send stt config: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.readLoop()
	go s.writeLoop()
	return nil
}

// SendPCM16KLE queues raw audio for the recognizer. Drops when the queue
// is full rather than stalling the capture path.
func (s *StreamClient) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("not connected to stt service")
	}
	select {
	case s.audioData <- pcm:
	default:
		log.Println("stt audio buffer full, dropping packet")
	}
	return nil
}

// Close tears down the connection. The transcript channels are closed by
// the read loop, never here: a late dispatch racing the teardown must not
// send on a closed channel.
func (s *StreamClient) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.stopCh)
		if s.conn != nil {
			_ = s.conn.WriteJSON(map[string]string{"type": "stop"})
			_ = s.conn.Close()
		}
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
	})
	return nil
}

// readLoop is the sole owner and closer of the transcript channels.
func (s *StreamClient) readLoop() {
	defer close(s.partials)
	defer close(s.finals)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		var msg sttResultMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.stopCh:
			default:
				log.Printf("stt read error: %v", err)
			}
			return
		}
		s.dispatch(msg)
	}
}

func (s *StreamClient) dispatch(msg sttResultMessage) {
	switch msg.Type {
	case "partial":
		if msg.Text == "" {
			return
		}
		select {
		case s.partials <- msg.Text:
		case <-s.stopCh:
		default:
			// partials supersede each other; dropping one is harmless
		}
	case "final":
		if msg.Text == "" {
			return
		}
		// finals must not be dropped; every word goes downstream
		select {
		case s.finals <- Final{Text: msg.Text, Confidence: msg.Confidence}:
		case <-s.stopCh:
		}
	case "error":
		log.Printf("stt service error: %s", msg.Error)
	default:
		log.Printf("stt: unknown message type %q", msg.Type)
	}
}

func (s *StreamClient) writeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audioData:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				select {
				case <-s.stopCh:
				default:
					log.Printf("stt write error: %v", err)
				}
				return
			}
		}
	}
}
