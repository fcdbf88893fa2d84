// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package device

import (
	"fmt"
	"log/slog"
	"strings"

	"go.bug.st/serial/enumerator"
)

// bannerReadBudget reads cover ~3s at the 200ms read timeout, enough for the
// board to finish booting after open or soft reset.
const bannerReadBudget = 15

// isCandidate reports whether a port looks like it could be a plotter board.
// USB serial adapters and Arduinos qualify; everything else is skipped
// without probing.
func isCandidate(p *enumerator.PortDetails) bool {
	desc := strings.ToLower(p.Product)
	dev := strings.ToLower(p.Name)
	return p.IsUSB ||
		strings.Contains(desc, "usb") ||
		strings.Contains(desc, "arduino") ||
		strings.Contains(dev, "arduino") ||
		strings.Contains(dev, "ttyusb")
}

// awaitBanner reads lines until the GRBL boot banner appears or the budget
// runs out.
func awaitBanner(l *Link) bool {
	for i := 0; i < bannerReadBudget; i++ {
		msg, err := l.ReadLine()
		if err != nil {
			return false
		}
		if strings.HasPrefix(msg, "Grbl ") {
			slog.Info("GRBL banner received", "port", l.Name(), "banner", msg)
			return true
		}
	}
	return false
}

// probePort opens one candidate and waits for the banner, soft-resetting once
// if the board stays silent (it may have booted long before we connected).
func probePort(name string, cfg LinkConfig, rec Recorder) (*Link, error) {
	link, err := OpenLink(name, cfg, rec)
	if err != nil {
		return nil, err
	}

	if awaitBanner(link) {
		return link, nil
	}

	slog.Info("No banner, trying soft reset", "port", name)
	if err := link.SoftReset(); err != nil {
		link.Close()
		return nil, err
	}
	if awaitBanner(link) {
		return link, nil
	}

	link.Close()
	return nil, fmt.Errorf("no GRBL banner on %s", name)
}

// FindController enumerates serial ports, probes each candidate in OS order
// and returns a Controller on the first port that announces itself as GRBL.
// On exhaustion the returned error wraps ErrNoDeviceFound and lists every
// port with the reason it was rejected.
func FindController(cfg LinkConfig, rec Recorder) (*Controller, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	var rejected []string
	for _, p := range ports {
		if !isCandidate(p) {
			rejected = append(rejected, fmt.Sprintf("%s: %s [not a match]", p.Name, p.Product))
			continue
		}
		link, err := probePort(p.Name, cfg, rec)
		if err != nil {
			slog.Warn("Probe failed", "port", p.Name, "error", err)
			rejected = append(rejected, fmt.Sprintf("%s: %s [invalid response]", p.Name, p.Product))
			continue
		}
		return NewController(link), nil
	}

	for _, r := range rejected {
		slog.Info("Rejected port", "port", r)
	}
	if len(rejected) == 0 {
		return nil, fmt.Errorf("no serial ports present: %w", ErrNoDeviceFound)
	}
	return nil, fmt.Errorf("probed %d ports (%s): %w",
		len(rejected), strings.Join(rejected, "; "), ErrNoDeviceFound)
}

// OpenController skips probing and attaches to a known port directly. The
// handshake is still performed so a dead port fails fast.
func OpenController(name string, cfg LinkConfig, rec Recorder) (*Controller, error) {
	link, err := probePort(name, cfg, rec)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrNoDeviceFound)
	}
	return NewController(link), nil
}
