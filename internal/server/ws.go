package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"

	"github.com/gorilla/websocket"

	"microstack/internal/frame"
	"microstack/internal/session"
	"microstack/internal/storage"
)

// frameHeaderSize is the binary frame message prefix: big-endian uint32
// width and height, followed by width*height*4 RGBA bytes.
const frameHeaderSize = 8

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// command is a JSON text message driving the session.
type command struct {
	Type  string `json:"type"` // capture, composite, sharpness, position, reset
	Debug bool   `json:"debug"`
}

type driftReply struct {
	Type       string  `json:"type"`
	DX         float64 `json:"dx"`
	DY         float64 `json:"dy"`
	Confidence float64 `json:"confidence"`
	StageX     float64 `json:"stage_x"`
	StageY     float64 `json:"stage_y"`
}

type errorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type sizeReply struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// handleSession upgrades the connection and runs a live capture session:
// every binary message is a frame to track, text commands trigger merges
// and composite downloads. The session is private to the connection;
// its telemetry is recorded when the socket closes.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := fmt.Sprintf("ws-%08x", rand.Uint32())
	sess := session.New(id, s.settings, s.log)
	s.log.Info("capture session opened", "session", id, "remote", r.RemoteAddr)

	var lastFrame *frame.Frame
	defer func() {
		tracked, captured := sess.Stats()
		stageX, stageY := sess.StagePosition()
		if s.store != nil {
			_ = s.store.RecordSession(storage.SessionRecord{
				ID:             id,
				Source:         r.RemoteAddr,
				FramesTracked:  tracked,
				FramesCaptured: captured,
				StageX:         stageX,
				StageY:         stageY,
			})
		}
		s.log.Info("capture session closed", "session", id, "tracked", tracked, "captured", captured)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			f, err := decodeFrameMessage(data)
			if err != nil {
				writeError(conn, err)
				continue
			}
			lastFrame = f
			res, err := sess.Track(f)
			if err != nil {
				writeError(conn, err)
				continue
			}
			stageX, stageY := sess.StagePosition()
			conn.WriteJSON(driftReply{
				Type:       "drift",
				DX:         res.DX,
				DY:         res.DY,
				Confidence: res.Confidence,
				StageX:     stageX,
				StageY:     stageY,
			})
		case websocket.TextMessage:
			var cmd command
			if err := json.Unmarshal(data, &cmd); err != nil {
				writeError(conn, err)
				continue
			}
			if err := s.runCommand(conn, sess, cmd, lastFrame); err != nil {
				writeError(conn, err)
			}
		}
	}
}

func (s *Server) runCommand(conn *websocket.Conn, sess *session.Session, cmd command, lastFrame *frame.Frame) error {
	switch cmd.Type {
	case "capture":
		if lastFrame == nil {
			return fmt.Errorf("no frame received yet")
		}
		acc, err := sess.Capture(lastFrame, cmd.Debug)
		if err != nil {
			return err
		}
		return conn.WriteJSON(sizeReply{Type: "captured", Width: acc.Pixels.Width, Height: acc.Pixels.Height})
	case "composite":
		acc := sess.Composite()
		if acc == nil {
			return fmt.Errorf("no composite yet")
		}
		if err := conn.WriteJSON(sizeReply{Type: "composite", Width: acc.Pixels.Width, Height: acc.Pixels.Height}); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, encodeFrameMessage(acc.Pixels))
	case "sharpness":
		acc := sess.Composite()
		if acc == nil {
			return fmt.Errorf("no composite yet")
		}
		if err := conn.WriteJSON(sizeReply{Type: "sharpness", Width: acc.Sharpness.Width, Height: acc.Sharpness.Height}); err != nil {
			return err
		}
		buf := make([]byte, 4*len(acc.Sharpness.Pix))
		for i, v := range acc.Sharpness.Pix {
			binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		return conn.WriteMessage(websocket.BinaryMessage, buf)
	case "position":
		stageX, stageY := sess.StagePosition()
		return conn.WriteJSON(driftReply{Type: "position", StageX: stageX, StageY: stageY})
	case "reset":
		sess.Reset()
		return conn.WriteJSON(map[string]string{"type": "reset"})
	default:
		return fmt.Errorf("unknown command: %q", cmd.Type)
	}
}

// decodeFrameMessage parses a binary frame message into a Frame.
func decodeFrameMessage(data []byte) (*frame.Frame, error) {
	if len(data) < frameHeaderSize {
		return nil, fmt.Errorf("frame message too short: %d bytes", len(data))
	}
	w := binary.BigEndian.Uint32(data[0:4])
	h := binary.BigEndian.Uint32(data[4:8])
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", w, h)
	}
	// The claimed dimensions must match the payload actually sent before
	// anything is allocated; a crafted header must not size the buffer.
	want := uint64(w) * uint64(h) * 4
	if uint64(len(data)-frameHeaderSize) != want {
		return nil, fmt.Errorf("frame payload is %d bytes, want %d for %dx%d",
			len(data)-frameHeaderSize, want, w, h)
	}
	f, err := frame.New(int(w), int(h))
	if err != nil {
		return nil, err
	}
	copy(f.Pix, data[frameHeaderSize:])
	return f, nil
}

// encodeFrameMessage renders a Frame as a binary frame message.
func encodeFrameMessage(f *frame.Frame) []byte {
	buf := make([]byte, frameHeaderSize+len(f.Pix))
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.Width))
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.Height))
	copy(buf[frameHeaderSize:], f.Pix)
	return buf
}

func writeError(conn *websocket.Conn, err error) {
	conn.WriteJSON(errorReply{Type: "error", Error: err.Error()})
}
