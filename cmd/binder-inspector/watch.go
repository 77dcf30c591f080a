// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	bubbletea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fxamacker/cbor/v2"

	"github.com/cellarworks/gobinder/lib/binder"
)

// traceSink is an io.Writer a binder.Tracer can write CBOR-encoded
// binder.TraceRecord values to. Each Write call carries exactly one
// encoded record (cbor.Encoder.Encode issues one Write per call), so
// decoding it back out and forwarding it on a channel is all that's
// needed to turn the trace hook into a live event stream.
type traceSink struct {
	mu     sync.Mutex
	events chan binder.TraceRecord
}

func newTraceSink(buffer int) *traceSink {
	return &traceSink{events: make(chan binder.TraceRecord, buffer)}
}

func (s *traceSink) Write(p []byte) (int, error) {
	var rec binder.TraceRecord
	if err := cbor.Unmarshal(p, &rec); err != nil {
		return len(p), nil // a malformed record is dropped, not fatal to tracing
	}
	select {
	case s.events <- rec:
	default:
		// The TUI has fallen behind; drop the oldest record to make room
		// rather than block the Command Loop on a full channel.
		select {
		case <-s.events:
		default:
		}
		s.events <- rec
	}
	return len(p), nil
}

const maxVisibleRows = 200

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	bcStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	brStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// watchModel is a bubbletea.Model rendering a scrolling view of decoded
// BC_*/BR_* frames as they cross a Command Loop — the trace-stream analog
// of ticketui's live ticket feed, minus any dependency on bubbles'
// components.
type watchModel struct {
	device string
	events <-chan binder.TraceRecord
	rows   []binder.TraceRecord
	width  int
	height int
	err    error
}

func newWatchModel(device string, events <-chan binder.TraceRecord) watchModel {
	return watchModel{device: device, events: events, width: 80, height: 24}
}

type traceMsg binder.TraceRecord

func listenForTrace(events <-chan binder.TraceRecord) bubbletea.Cmd {
	return func() bubbletea.Msg {
		rec, ok := <-events
		if !ok {
			return nil
		}
		return traceMsg(rec)
	}
}

func (m watchModel) Init() bubbletea.Cmd {
	return listenForTrace(m.events)
}

func (m watchModel) Update(msg bubbletea.Msg) (bubbletea.Model, bubbletea.Cmd) {
	switch msg := msg.(type) {
	case bubbletea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, bubbletea.Quit
		}
		return m, nil

	case bubbletea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case traceMsg:
		m.rows = append(m.rows, binder.TraceRecord(msg))
		if len(m.rows) > maxVisibleRows {
			m.rows = m.rows[len(m.rows)-maxVisibleRows:]
		}
		return m, listenForTrace(m.events)

	default:
		return m, nil
	}
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf(" binder-inspector  %s  (%d events, q to quit) ", m.device, len(m.rows))))
	b.WriteString("\n\n")

	visible := m.rows
	maxRows := m.height - 3
	if maxRows > 0 && len(visible) > maxRows {
		visible = visible[len(visible)-maxRows:]
	}
	for _, rec := range visible {
		ts := time.Unix(0, rec.UnixNano).Format("15:04:05.000000")
		style := brStyle
		if rec.Direction == "bc" {
			style = bcStyle
		}
		line := fmt.Sprintf("%s  %-3s  %-32s", ts, strings.ToUpper(rec.Direction), rec.Opcode)
		if rec.CorrelationID != "" {
			line += "  " + dimStyle.Render(rec.CorrelationID)
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}
