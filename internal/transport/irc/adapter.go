// Package irc is a minimal IRC client adapter: plain TCP, line
// protocol, just the commands the gateway needs (NICK/USER/JOIN/
// PRIVMSG/NOTICE/CTCP replies, PING handled internally).
//
// The adapter never reconnects on its own. A lost connection surfaces
// as an UpdateDisconnected on the updates channel; the gateway owns
// the retry policy and calls Connect again when it decides to.
package irc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"feedbot/internal/runtime/supervisor"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

// ErrNotConnected is returned by outbound calls while no server
// connection is up. Write failures on a dying socket wrap it too, so
// callers can treat both the same way.
var ErrNotConnected = errors.New("irc: not connected")

type Config struct {
	Server string
	Port   int
	Nick   string
	// Realname is sent as the USER real name field.
	Realname string

	// DialTimeout bounds the TCP connect. Default 15s.
	DialTimeout time.Duration
	// RatePerSec / Burst shape outbound chat lines so the server's
	// flood protection doesn't kill the connection mid-drain.
	// Defaults: 2 lines/s, burst 5.
	RatePerSec float64
	Burst      int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (read loops, drop logger,
	// close watcher). Created on Start(), cancelled on Stop().
	sup *supervisor.Supervisor
	ctx context.Context

	// droppedUpdates counts chat updates dropped because the consumer
	// was slower than the read loop. Logged periodically, not per drop.
	droppedUpdates uint64

	limiter *rate.Limiter

	connMu    sync.Mutex
	conn      net.Conn
	gen       uint64
	nick      string
	connected atomic.Bool

	writeMu sync.Mutex
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if cfg.Server == "" {
		return nil, errors.New("irc: server is empty")
	}
	if cfg.Nick == "" {
		return nil, errors.New("irc: nick is empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("irc: invalid port %d", cfg.Port)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "irc.adapter"))),
		// adapter errors should not take down the whole app.
		supervisor.WithCancelOnError(false),
	)
	a.ctx = a.sup.Context()
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid per-update log spam).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("inbound updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("inbound updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	// Close the live socket when the adapter context ends so the read
	// loop unblocks.
	sup.Go0("close_on_cancel", func(c context.Context) {
		<-c.Done()
		a.connMu.Lock()
		conn := a.conn
		a.connMu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})

	return nil
}

// Connect dials the configured server and registers. It returns once
// the socket is up and the registration lines are written; completion
// of the handshake arrives later as an UpdateConnected. A previous
// connection, if any, is closed first.
func (a *Adapter) Connect() error {
	a.runMu.Lock()
	sup := a.sup
	running := a.running
	a.runMu.Unlock()
	if !running || sup == nil {
		return errors.New("irc: adapter not started")
	}

	addr := net.JoinHostPort(a.cfg.Server, strconv.Itoa(a.cfg.Port))
	a.log.Info("connecting", logx.String("addr", addr), logx.String("nick", a.cfg.Nick))

	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.connected.Store(false)

	conn, err := net.DialTimeout("tcp", addr, a.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	a.conn = conn
	a.gen++
	gen := a.gen
	a.nick = a.cfg.Nick
	a.connected.Store(true)

	// Registration goes straight to the socket; the limiter only
	// paces chat traffic.
	for _, line := range []string{
		"NICK " + a.cfg.Nick,
		fmt.Sprintf("USER %s 0 * :%s", a.cfg.Nick, a.cfg.Realname),
	} {
		if err := a.writeRaw(conn, line); err != nil {
			a.conn = nil
			a.connected.Store(false)
			_ = conn.Close()
			return fmt.Errorf("register: %w", err)
		}
	}

	sup.Go0("read_loop", func(c context.Context) {
		a.readLoop(c, conn, gen)
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("irc stop called but not running")
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))

	// Best-effort polite QUIT before tearing the socket down.
	a.connMu.Lock()
	conn := a.conn
	a.conn = nil
	a.connMu.Unlock()
	a.connected.Store(false)
	if conn != nil {
		_ = a.writeRaw(conn, "QUIT :shutting down")
		_ = conn.Close()
	}

	if sup == nil {
		return nil
	}
	sup.Cancel()

	// Grace window: keep shutdown snappy even if a read loop lingers.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("irc stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("irc stop error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) IsConnected() bool { return a.connected.Load() }

func (a *Adapter) Join(channel string) error {
	return a.send("JOIN " + channel)
}

func (a *Adapter) SendMessage(target, text string) error {
	return a.send("PRIVMSG " + target + " :" + text)
}

func (a *Adapter) SendNotice(target, text string) error {
	return a.send("NOTICE " + target + " :" + text)
}

// CTCPReply answers a CTCP query. Replies travel as NOTICE per the
// CTCP convention.
func (a *Adapter) CTCPReply(nick, text string) error {
	return a.send("NOTICE " + nick + " :" + ctcpDelim + text + ctcpDelim)
}

// send paces one line through the limiter and writes it to the live
// connection. Any failure on the socket reports as ErrNotConnected so
// the caller's not-connected handling covers half-dead sockets too.
func (a *Adapter) send(line string) error {
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn == nil || !a.connected.Load() {
		return ErrNotConnected
	}

	if err := a.limiter.Wait(a.runCtx()); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	if err := a.writeRaw(conn, line); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (a *Adapter) writeRaw(conn net.Conn, line string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

func (a *Adapter) readLoop(ctx context.Context, conn net.Conn, gen uint64) {
	reason := "connection closed"
	defer func() { a.connClosed(ctx, conn, gen, reason) }()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		msg, ok := parseLine(sc.Text())
		if !ok {
			continue
		}
		if quit := a.handleLine(conn, msg); quit != "" {
			reason = quit
			return
		}
	}
	if err := sc.Err(); err != nil {
		reason = err.Error()
	}
}

// handleLine dispatches one inbound line. A non-empty return tears
// the connection down with that reason.
func (a *Adapter) handleLine(conn net.Conn, msg ircMessage) string {
	switch msg.command {
	case "PING":
		// Answer directly, skipping the limiter: a delayed PONG gets
		// the connection dropped by the server.
		if err := a.writeRaw(conn, "PONG :"+msg.last()); err != nil {
			return "pong write failed: " + err.Error()
		}
	case "001":
		a.log.Info("connected", logx.String("server", a.cfg.Server), logx.String("nick", a.currentNick()))
		a.sendUpdateBlocking(kit.Update{Kind: kit.UpdateConnected})
	case "366":
		// RPL_ENDOFNAMES: join confirmed. Params: nick channel :End of /NAMES list.
		channel := ""
		if len(msg.params) >= 2 {
			channel = msg.params[1]
		}
		a.log.Info("joined", logx.String("channel", channel))
		a.sendUpdateBlocking(kit.Update{Kind: kit.UpdateJoined, Joined: &kit.Joined{Channel: channel}})
	case "433":
		// Nick in use: retry with a trailing underscore.
		next := a.currentNick() + "_"
		a.log.Warn("nick in use, retrying", logx.String("nick", next))
		if err := a.writeRaw(conn, "NICK "+next); err != nil {
			return "nick retry write failed: " + err.Error()
		}
		a.setNick(next)
	case "PRIVMSG":
		if len(msg.params) < 2 {
			return ""
		}
		target, text := msg.params[0], msg.last()
		if payload, isCTCP := ctcpPayload(text); isCTCP {
			if payload == "VERSION" {
				a.sendUpdate(kit.Update{Kind: kit.UpdateVersion, Version: &kit.Version{Nick: msg.nick}})
			}
			return ""
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
			Nick:    msg.nick,
			Target:  target,
			Text:    text,
			Private: !isChannel(target),
		}})
	case "ERROR":
		return "server error: " + msg.last()
	}
	return ""
}

func (a *Adapter) connClosed(ctx context.Context, conn net.Conn, gen uint64, reason string) {
	a.connMu.Lock()
	current := a.gen == gen && a.conn == conn
	if current {
		a.conn = nil
		a.connected.Store(false)
	}
	a.connMu.Unlock()
	_ = conn.Close()

	// A superseded connection's read loop winding down is not a
	// disconnect, and neither is shutdown.
	if !current || ctx.Err() != nil {
		return
	}
	a.log.Warn("disconnected", logx.String("reason", reason))
	a.sendUpdateBlocking(kit.Update{Kind: kit.UpdateDisconnected, Disconnected: &kit.Disconnected{Reason: reason}})
}

func (a *Adapter) currentNick() string {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.nick
}

func (a *Adapter) setNick(nick string) {
	a.connMu.Lock()
	a.nick = nick
	a.connMu.Unlock()
}

// sendUpdate forwards chat traffic to the consumer, dropping when the
// channel is full.
func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

// sendUpdateBlocking forwards lifecycle updates. Dropping one of
// these would wedge the gateway's join/reconnect handling, so it
// waits for the consumer instead.
func (a *Adapter) sendUpdateBlocking(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	case <-a.runCtx().Done():
	}
}

func (a *Adapter) runCtx() context.Context {
	a.runMu.Lock()
	ctx := a.ctx
	a.runMu.Unlock()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
