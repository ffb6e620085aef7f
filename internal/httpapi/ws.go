package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlo-voice/parlo/internal/audio"
	"github.com/parlo-voice/parlo/internal/protocol"
	"github.com/parlo-voice/parlo/internal/voice"
)

// pollInterval is how often the connection checks for completed turns and
// interruptions. Roughly two chunk periods: fast enough to feel immediate,
// slow enough to stay off the profile.
const pollInterval = 60 * time.Millisecond

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.factory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "pipeline factory not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	orch := s.factory(sess)
	s.registerPipeline(sessionID, orch)
	defer s.dropPipeline(sessionID)

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		s.pollPipeline(ctx, sessionID, orch, outbound)
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.ClientAudioFrame:
			samples, err := decodeFramePCM(msg.PCM16Base64)
			if err != nil {
				s.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "invalid_audio_frame",
					Source:    "gateway",
					Retryable: false,
					Detail:    err.Error(),
				})
				continue
			}
			orch.IngestFrame(samples, msg.SampleRate, msg.Channels)
			_ = s.sessions.Touch(sessionID)

		case protocol.ClientControl:
			if done := s.applyControl(sessionID, orch, msg, outbound); done {
				break readLoop
			}
		}

		select {
		case <-ctx.Done():
			break readLoop
		default:
		}
	}

	cancel()
	<-pollDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// pollPipeline drives the turn loop for one connection: it watches for the
// learner talking over the tutor, processes completed turns, and mirrors
// state changes to the client.
func (s *Server) pollPipeline(ctx context.Context, sessionID string, orch *voice.Orchestrator, outbound chan<- any) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastState := orch.State()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if orch.NoticeInterruption() {
			_ = s.sessions.Interrupt(sessionID)
			s.metrics.SessionEvents.WithLabelValues("interruption").Inc()
		}

		result, err := orch.ProcessTurn(ctx)
		if err != nil {
			s.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "turn_failed",
				Source:    "pipeline",
				Retryable: true,
				Detail:    err.Error(),
			})
		}
		if result != nil {
			s.emitTurn(sessionID, result, outbound)
			_ = s.sessions.Touch(sessionID)
		}

		if state := orch.State(); state != lastState {
			lastState = state
			s.send(outbound, protocol.StateEvent{
				Type:      protocol.TypeStateEvent,
				SessionID: sessionID,
				State:     state.String(),
				SinceMS:   orch.StateSince().Milliseconds(),
			})
		}
	}
}

func (s *Server) emitTurn(sessionID string, result *voice.TurnResult, outbound chan<- any) {
	s.send(outbound, protocol.Transcript{
		Type:       protocol.TypeTranscript,
		SessionID:  sessionID,
		Text:       result.UserText,
		Confidence: result.Confidence,
		TSMs:       time.Now().UnixMilli(),
	})
	s.send(outbound, protocol.AssistantReply{
		Type:         protocol.TypeAssistantReply,
		SessionID:    sessionID,
		Text:         result.Response,
		BufferAction: result.BufferAction.String(),
		Held:         result.Held,
	})

	if result.Held || len(result.Audio.PCM) == 0 {
		return
	}
	wav, err := audio.EncodeWAVPCM16LE(result.Audio.PCM, result.Audio.SampleRate)
	if err != nil {
		s.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "audio_encode_failed",
			Source:    "pipeline",
			Retryable: false,
			Detail:    err.Error(),
		})
		return
	}
	s.send(outbound, protocol.AssistantAudio{
		Type:       protocol.TypeAssistantAudio,
		SessionID:  sessionID,
		WAVBase64:  base64.StdEncoding.EncodeToString(wav),
		SampleRate: result.Audio.SampleRate,
		Format:     "wav",
	})
}

// applyControl handles a client control message. Reports whether the
// connection should close.
func (s *Server) applyControl(sessionID string, orch *voice.Orchestrator, msg protocol.ClientControl, outbound chan<- any) bool {
	switch msg.Action {
	case protocol.ActionStart:
		if err := orch.StartListening(); err != nil {
			s.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_state",
				Source:    "pipeline",
				Retryable: false,
				Detail:    err.Error(),
			})
		}
	case protocol.ActionFinishSpeaking:
		_ = orch.FinishSpeaking()
	case protocol.ActionReset:
		orch.ForceReset()
	case protocol.ActionStop:
		if _, err := s.sessions.End(sessionID); err == nil {
			s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
			s.metrics.SessionEvents.WithLabelValues("ended").Inc()
		}
		return true
	}
	_ = s.sessions.Touch(sessionID)
	return false
}

// send queues a message without ever blocking the caller; websocket writes
// stay single-threaded in the writer goroutine.
func (s *Server) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		if t, ok := messageTypeOf(msg); ok {
			s.metrics.WSMessages.WithLabelValues("outbound_dropped", string(t)).Inc()
		}
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioFrame:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.Transcript:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.AssistantAudio:
		return m.Type, true
	case protocol.StateEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
