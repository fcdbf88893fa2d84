// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package device

import "errors"

var (
	// ErrNoDeviceFound is returned by FindController when every candidate
	// port has been probed without seeing a GRBL banner.
	ErrNoDeviceFound = errors.New("no compatible device found")

	// ErrTimeout is returned when a command's read budget is exhausted
	// before the board acknowledges with "ok".
	ErrTimeout = errors.New("serial timeout")

	// ErrProtocol is returned when an expected field ($10=, Buf:) is
	// missing from a board response.
	ErrProtocol = errors.New("protocol error")
)
