package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"ebb-and-flow/server/logging"
)

type ConsoleSink struct {
	logger   *log.Logger
	useColor bool
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	prefix := ""
	flags := log.LstdFlags
	return &ConsoleSink{logger: log.New(w, prefix, flags), useColor: cfg.UseColor}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	payload := formatPayload(event.Payload)
	targets := formatTargets(event.Targets)
	branch := ""
	if event.Branch != "" {
		branch = fmt.Sprintf(" branch=%s", event.Branch)
	}
	s.logger.Printf("[%s] step=%d actor=%s severity=%s%s%s%s", event.Type, event.Step, formatEntity(event.Actor), s.formatSeverity(event.Severity), branch, targets, payload)
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func (s *ConsoleSink) formatSeverity(sev logging.Severity) string {
	name := "unknown"
	color := ""
	switch sev {
	case logging.SeverityDebug:
		name, color = "debug", "\x1b[90m"
	case logging.SeverityInfo:
		name, color = "info", ""
	case logging.SeverityWarn:
		name, color = "warn", "\x1b[33m"
	case logging.SeverityError:
		name, color = "error", "\x1b[31m"
	}
	if !s.useColor || color == "" {
		return name
	}
	return color + name + "\x1b[0m"
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatTargets(targets []logging.EntityRef) string {
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return fmt.Sprintf(" targets=%s", strings.Join(parts, ","))
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}
