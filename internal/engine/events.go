// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "time"

// EventKind enumerates the notification events the engine emits.
type EventKind string

const (
	EventStartup          EventKind = "startup"
	EventShutdown         EventKind = "shutdown"
	EventMonitorStart     EventKind = "monitor_start"
	EventCycleReport      EventKind = "cycle_report"
	EventOverspeed        EventKind = "overspeed"
	EventDownLimit        EventKind = "down_limit"
	EventForcedReannounce EventKind = "forced_reannounce"
	EventCookieInvalid    EventKind = "cookie_invalid"
)

// Event is one engine notification. Key scopes the per-kind rate limit
// (torrent hash, site name, or empty for global events).
type Event struct {
	Kind    EventKind `json:"kind"`
	Key     string    `json:"key,omitempty"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// EventSink receives engine events. Implementations must not block; the
// engine emits from inside its pass.
type EventSink interface {
	Publish(event Event)
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) Publish(Event) {}
