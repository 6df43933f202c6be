// Command ws_bridge exposes an ACP agent running on stdio to WebSocket
// clients. Every connection gets its own agent process; each text message is
// written to the agent as one line and each line the agent prints is sent
// back as one text message.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := pflag.String("addr", ":8080", "Address to listen on")
	path := pflag.String("path", "/ws", "WebSocket endpoint path")
	pflag.Parse()

	command := pflag.Args()
	if len(command) == 0 {
		command = []string{"warden", "--acp"}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	http.HandleFunc(*path, handleWS(command, logger))

	logger.Info("websocket bridge listening", "addr", *addr, "path", *path, "command", command)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func handleWS(command []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		if err := bridge(ctx, conn, command, logger.With("remote", r.RemoteAddr)); err != nil {
			logger.Warn("bridge ended", "remote", r.RemoteAddr, "error", err)
		}
	}
}

// bridge runs one agent process for conn until either side goes away.
func bridge(ctx context.Context, conn *websocket.Conn, command []string, logger *slog.Logger) error {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	logger.Info("agent started", "pid", cmd.Process.Pid)

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardLines(stdout, func(line []byte) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteMessage(websocket.TextMessage, line)
		})
	}()
	go func() {
		defer wg.Done()
		forwardLines(stderr, func(line []byte) error {
			logger.Debug("agent stderr", "line", string(line))
			return nil
		})
	}()

	readErr := forwardMessages(conn, stdin)
	stdin.Close()
	wg.Wait()
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		logger.Warn("agent exited", "error", err)
	}
	return readErr
}

// forwardMessages writes every text message from conn to w as one line.
func forwardMessages(conn *websocket.Conn, w io.Writer) error {
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		if _, err := w.Write(append(msg, '\n')); err != nil {
			return fmt.Errorf("agent stdin: %w", err)
		}
	}
}

func forwardLines(r io.Reader, send func([]byte) error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := send(sc.Bytes()); err != nil {
			// Keep draining so the agent never blocks on a full pipe.
			io.Copy(io.Discard, r)
			return
		}
	}
}
