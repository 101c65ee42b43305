package liveview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
	"github.com/MrSnakeDoc/shelf/internal/reconcile"
)

// Commands sent by the page.
const (
	CmdAdd       = "add"
	CmdDelete    = "delete"
	CmdReconnect = "reconnect"
	CmdSignOut   = "signout"
)

// Frames sent to the page.
const (
	FrameState    = "state"
	FrameRedirect = "redirect"
)

const writeTimeout = 5 * time.Second

// Command is one user action read from the socket.
type Command struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Frame is one message written to the socket.
type Frame struct {
	Type     string          `json:"type"`
	View     *reconcile.View `json:"view,omitempty"`
	Location string          `json:"location,omitempty"`
}

// Socket drives one mounted controller from a websocket connection.
type Socket struct {
	conn   *websocket.Conn
	ctrl   *reconcile.Controller
	logger logger.Logger

	wg      sync.WaitGroup
	endOnce sync.Once
}

func NewSocket(conn *websocket.Conn, ctrl *reconcile.Controller, log logger.Logger) *Socket {
	return &Socket{conn: conn, ctrl: ctrl, logger: log}
}

// Serve mounts the controller, pushes a state frame on every change and
// applies commands until the socket closes or the user signs out. The
// controller is unmounted on return.
func (s *Socket) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
		s.ctrl.Unmount()
	}()

	if err := s.ctrl.Mount(ctx); err != nil {
		// the view shows errored; reads and writes still work
		s.logger.Warn("live view mounted without change feed", logger.Error(err))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pushLoop(ctx)
	}()

	for {
		var cmd Command
		if err := wsjson.Read(ctx, s.conn, &cmd); err != nil {
			if isClosed(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if cmd.Type == CmdSignOut {
			// handled inline: nothing else may run after the session ends
			return s.signOut(ctx)
		}

		s.wg.Add(1)
		go func(cmd Command) {
			defer s.wg.Done()
			s.apply(ctx, cmd)
		}(cmd)
	}
}

func (s *Socket) apply(ctx context.Context, cmd Command) {
	var err error
	switch cmd.Type {
	case CmdAdd:
		_, err = s.ctrl.AddBookmark(ctx, domain.Draft{Title: cmd.Title, URL: cmd.URL})
	case CmdDelete:
		err = s.ctrl.DeleteBookmark(ctx, cmd.ID)
	case CmdReconnect:
		err = s.ctrl.Resubscribe(ctx)
	default:
		s.logger.Debug("unknown live command", logger.String("type", cmd.Type))
		return
	}

	var verr *domain.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, reconcile.ErrSessionEnded):
		s.logger.Info("session ended while the view was open", logger.String("type", cmd.Type))
		s.redirect(ctx, s.ctrl.LoginPath(), "session ended")
	case errors.As(err, &verr), errors.Is(err, reconcile.ErrBusy), errors.Is(err, reconcile.ErrDeleteInFlight):
		s.logger.Debug("live command rejected", logger.String("type", cmd.Type), logger.Error(err))
	default:
		s.logger.Warn("live command failed", logger.String("type", cmd.Type), logger.Error(err))
	}
}

func (s *Socket) signOut(ctx context.Context) error {
	location, err := s.ctrl.SignOut(ctx)
	if err != nil {
		s.logger.Warn("sign out failed", logger.Error(err))
		s.push(ctx)
		return err
	}

	return s.redirect(ctx, location, "signed out")
}

// redirect sends the final frame and closes the socket, which ends Serve.
// Only the first call writes.
func (s *Socket) redirect(ctx context.Context, location, reason string) error {
	var err error
	s.endOnce.Do(func() {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err = wsjson.Write(wctx, s.conn, Frame{Type: FrameRedirect, Location: location}); err != nil {
			return
		}
		err = s.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return err
}

func (s *Socket) pushLoop(ctx context.Context) {
	s.push(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctrl.Changes():
			if !s.push(ctx) {
				return
			}
		}
	}
}

func (s *Socket) push(ctx context.Context) bool {
	v := s.ctrl.View()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, s.conn, Frame{Type: FrameState, View: &v}); err != nil {
		if !isClosed(err) && ctx.Err() == nil {
			s.logger.Debug("state push failed", logger.Error(err))
		}
		return false
	}
	return true
}

func isClosed(err error) bool {
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
