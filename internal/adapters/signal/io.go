package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/DuelRelay/internal/app"
	"github.com/dkeye/DuelRelay/internal/app/orch"
	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/dkeye/DuelRelay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			// Unblocks the read pump.
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(c.id)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(c.id)
		}
		c.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		ctl.safeHandle(c.id, data)
	}
}

// safeHandle keeps a panic in one handler from taking the process down.
func (ctl *SignalWSController) safeHandle(id domain.ConnID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("conn", string(id)).Interface("panic", r).Msg("handler panic")
			ctl.Orch.Terminate(id, "panic")
		}
	}()
	ctl.handleSignal(id, data)
}

func (ctl *SignalWSController) handleSignal(id domain.ConnID, data []byte) {
	ctl.Orch.Touch(id)
	if ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("rate limited")
		ctl.Orch.SendError(id, "rate limited")
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad message")
		ctl.replyError(id, err)
		return
	}

	switch m := msg.(type) {
	case protocol.Queue:
		ctl.handleQueue(id, m)
	case protocol.LeaveQueue:
		ctl.Orch.LeaveQueue(id)
	case protocol.Join:
		ctl.handleJoin(id, m)
	case protocol.Leave:
		ctl.handleLeave(id)
	case protocol.Broadcast:
		ctl.handleBroadcast(id, m)
	case protocol.Ping:
		ctl.handlePing(id)
	case protocol.Pong:
		// Touch above already recorded it.
	case protocol.Status:
		ctl.Orch.ReportStatus(id, m)
	case protocol.Complete:
		ctl.Orch.Complete(id, m)
	default:
		log.Warn().Str("module", "signal").Str("type", msg.Kind()).Msg("unhandled message")
	}
}

func (ctl *SignalWSController) replyError(id domain.ConnID, err error) {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		ctl.Orch.SendError(id, protocol.MsgInvalidFormat)
	case errors.Is(err, protocol.ErrUnknownType),
		errors.Is(err, protocol.ErrInvalid),
		errors.Is(err, core.ErrRoomFull),
		errors.Is(err, orch.ErrNotInRoom),
		errors.Is(err, domain.ErrNegativeStake),
		errors.Is(err, domain.ErrCategoryEmpty),
		errors.Is(err, domain.ErrCategoryTooLong),
		errors.Is(err, domain.ErrRoomIDEmpty),
		errors.Is(err, domain.ErrRoomIDTooLong):
		ctl.Orch.SendError(id, err.Error())
	case errors.Is(err, app.ErrNotConnected), errors.Is(err, core.ErrPeerClosed):
		// Nobody left to tell.
	default:
		ctl.Orch.SendError(id, "internal error")
	}
}
