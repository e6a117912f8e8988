// Command fakesmsc is a line-oriented SMSC stand-in for integration
// testing. It accepts a single TCP client and exchanges newline-terminated
// "sender receiver text" lines: the given messages are sent round-robin at
// a fixed interval while everything the client sends back is logged.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/observability"
	"github.com/teleguys/kannel-sub001/internal/octstr"
	"github.com/teleguys/kannel-sub001/internal/threads"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: fakesmsc <port> <interval> <max> <msg>...\n")
	fmt.Fprintf(os.Stderr, "  port      TCP port to listen on\n")
	fmt.Fprintf(os.Stderr, "  interval  seconds between sent messages (fractions allowed)\n")
	fmt.Fprintf(os.Stderr, "  max       messages to send, 0 for unlimited\n")
	fmt.Fprintf(os.Stderr, "  msg       one or more message lines, sent round-robin;\n")
	fmt.Fprintf(os.Stderr, "            @path loads the line from a file\n")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 5 {
		usage()
	}
	port, err := strconv.Atoi(os.Args[1])
	if err != nil || port <= 0 || port > 65535 {
		usage()
	}
	seconds, err := strconv.ParseFloat(os.Args[2], 64)
	if err != nil || seconds < 0 {
		usage()
	}
	max, err := strconv.Atoi(os.Args[3])
	if err != nil || max < 0 {
		usage()
	}
	interval := time.Duration(seconds * float64(time.Second))

	logger := observability.InitLogger("fakesmsc")
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	msgs := make([]string, 0, len(os.Args)-4)
	for _, arg := range os.Args[4:] {
		if strings.HasPrefix(arg, "@") {
			content, err := octstr.ReadFile(arg[1:])
			if err != nil {
				logger.Fatal().Err(err).Msg("message file unreadable")
			}
			msgs = append(msgs, strings.TrimRight(content.String(), "\n"))
			continue
		}
		msgs = append(msgs, arg)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Fatal().Err(err).Int("port", port).Msg("listen failed")
	}
	logger.Info().Int("port", port).Msg("waiting for one client")

	conn, err := ln.Accept()
	if err != nil {
		logger.Fatal().Err(err).Msg("accept failed")
	}
	ln.Close()
	logger.Info().Stringer("peer", conn.RemoteAddr()).Msg("client connected")

	sender := threads.Spawn("fakesmsc-send", func(t *threads.Thread) {
		sent := 0
		for max == 0 || sent < max {
			line := msgs[sent%len(msgs)]
			if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
				logger.Warn().Err(err).Msg("send failed, client gone")
				return
			}
			sent++
			logger.Info().Int("n", sent).Str("line", line).Msg("sent")
			if t.Sleep(interval) {
				return
			}
		}
		logger.Info().Int("sent", sent).Msg("message budget spent")
	})

	received := 0
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		received++
		logger.Info().Int("n", received).Str("line", scanner.Text()).Msg("received")
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("read failed")
	}
	logger.Info().Int("received", received).Msg("client disconnected")

	sender.Wakeup()
	conn.Close()
	sender.Join()
}
