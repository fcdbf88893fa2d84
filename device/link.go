// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package device

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.bug.st/serial"
)

const softReset = 0x18

// Recorder receives every payload crossing the serial link.
// dir is "up" for board->host, "down" for host->board.
type Recorder interface {
	Record(dir string, payload string)
}

type LinkConfig struct {
	Baud        int           // default 115200
	ReadTimeout time.Duration // default 200ms
}

func (c LinkConfig) withDefaults() LinkConfig {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 200 * time.Millisecond
	}
	return c
}

// Link wraps the OS serial device. The embedded mutex serializes full
// request/response transactions; ReadLine and WriteString themselves do not
// lock, so the Controller can hold the lock across a whole exchange.
type Link struct {
	sync.Mutex
	port serial.Port
	name string
	rec  Recorder
}

func OpenLink(name string, cfg LinkConfig, rec Recorder) (*Link, error) {
	cfg = cfg.withDefaults()
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		InitialStatusBits: &serial.ModemOutputBits{
			DTR: true,
			RTS: false,
		},
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	slog.Info("Opened serial port", "port", name, "baud", cfg.Baud)
	return &Link{port: port, name: name, rec: rec}, nil
}

func (l *Link) Name() string {
	return l.name
}

// ReadLine reads until newline or read timeout, whichever comes first, and
// returns the trimmed content. A timeout with nothing buffered yields "".
// CRs and non-printables are discarded; invalid UTF-8 is dropped rather than
// surfaced as an error.
func (l *Link) ReadLine() (string, error) {
	var raw []byte
	buf := make([]byte, 1)
	for {
		n, err := l.port.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			// read timeout
			break
		}
		if buf[0] == '\n' {
			break
		}
		raw = append(raw, buf[0])
	}

	line := decodeLine(raw)
	if line != "" && l.rec != nil {
		l.rec.Record("up", line)
	}
	return line, nil
}

// decodeLine turns raw serial bytes into a clean string: lossy UTF-8
// decoding, CRs and non-printables dropped, surrounding whitespace trimmed.
func decodeLine(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "")
	s = string(bytes.Map(func(r rune) rune {
		if r == '\r' || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, []byte(s)))
	return strings.TrimSpace(s)
}

func (l *Link) WriteString(s string) error {
	_, err := l.port.Write([]byte(s))
	if err != nil {
		return err
	}
	if l.rec != nil {
		if payload := strings.TrimSpace(s); payload != "" {
			l.rec.Record("down", payload)
		}
	}
	return nil
}

// SoftReset writes the GRBL soft-reset byte (0x18).
func (l *Link) SoftReset() error {
	_, err := l.port.Write([]byte{softReset})
	return err
}

// PipeTo copies board output to w until stop is closed. Each read holds the
// transaction lock so the tap never steals response lines from an in-flight
// command.
func (l *Link) PipeTo(w io.Writer, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		l.Lock()
		line, err := l.ReadLine()
		l.Unlock()
		if err != nil {
			slog.Error("Serial port read error", "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if line != "" {
			io.WriteString(w, line+"\n")
		}
	}
}

func (l *Link) Close() error {
	return l.port.Close()
}
