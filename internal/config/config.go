// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config define as opções dos três subsistemas do npipe
// (journal, bridge, hub) e a configuração YAML do archiver.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Modos do stream hub.
const (
	StreamHTTP      = "http"
	StreamMerge     = "merge"
	StreamBroadcast = "broadcast"
)

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func (l *LoggingInfo) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

// LogOptions contém as opções do subcomando `npipe log`.
type LogOptions struct {
	Dir        string // diretório do journal
	MaxSegment string // tamanho máximo de cada segmento, ex: "100mb"
	Cursor     int64  // offset de leitura no log lógico
	Follow     bool   // aguarda dados novos ao atingir o fim
	Track      bool   // emite o cursor pós-linha em stderr

	// MaxSegmentBytes é o valor parseado de MaxSegment.
	MaxSegmentBytes int64
}

// Validate aplica defaults e valida as opções do journal.
func (o *LogOptions) Validate() error {
	if o.Dir == "" {
		return fmt.Errorf("log: path is required")
	}
	if o.MaxSegment == "" {
		o.MaxSegment = "100mb"
	}
	parsed, err := ParseByteSize(o.MaxSegment)
	if err != nil {
		return fmt.Errorf("log: max-segment: %w", err)
	}
	if parsed <= 0 {
		return fmt.Errorf("log: max-segment must be positive, got %s", o.MaxSegment)
	}
	o.MaxSegmentBytes = parsed
	if o.Cursor < 0 {
		return fmt.Errorf("log: cursor must be non-negative, got %d", o.Cursor)
	}
	return nil
}

// ExecOptions contém as opções do subcomando `npipe exec`.
type ExecOptions struct {
	Command  string   // executável do processo filho
	Args     []string // argumentos do processo filho
	MaxLines int64    // quota de linhas por filho (0 = sem rotação)
}

// Validate valida as opções do bridge.
func (o *ExecOptions) Validate() error {
	if o.Command == "" {
		return fmt.Errorf("exec: command is required")
	}
	if o.MaxLines < 0 {
		return fmt.Errorf("exec: max-lines must be non-negative, got %d", o.MaxLines)
	}
	return nil
}

// StreamOptions contém as opções do subcomando `npipe stream`.
type StreamOptions struct {
	Port int    // porta TCP do listener
	Mode string // http, merge ou broadcast

	History         int           // broadcast: linhas retidas para replay (0 = off)
	Limit           string        // broadcast: limite de escrita por conexão, ex: "1mb" (por segundo)
	ResponseTimeout time.Duration // http: espera máxima por uma resposta (0 = infinita)
	StatsInterval   time.Duration // intervalo do stats reporter

	// LimitBytes é o valor parseado de Limit, em bytes/segundo.
	LimitBytes int64
}

// Validate aplica defaults e valida as opções do hub.
func (o *StreamOptions) Validate() error {
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("stream: port must be in 1..65535, got %d", o.Port)
	}
	switch o.Mode {
	case StreamHTTP, StreamMerge, StreamBroadcast:
	case "":
		return fmt.Errorf("stream: mode is required (http, merge or broadcast)")
	default:
		return fmt.Errorf("stream: unknown mode %q", o.Mode)
	}
	if o.History < 0 {
		return fmt.Errorf("stream: history must be non-negative, got %d", o.History)
	}
	if o.History > 0 && o.Mode != StreamBroadcast {
		return fmt.Errorf("stream: history only applies to broadcast mode")
	}
	if o.Limit != "" {
		parsed, err := ParseByteSize(o.Limit)
		if err != nil {
			return fmt.Errorf("stream: limit: %w", err)
		}
		o.LimitBytes = parsed
	}
	if o.ResponseTimeout < 0 {
		return fmt.Errorf("stream: response-timeout must be non-negative")
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = 5 * time.Minute
	}
	return nil
}

// ListenAddr retorna o endereço de bind do listener.
// O hub escuta apenas em loopback — expor o hub além da máquina local
// fica a cargo de um proxy na frente dele.
func (o *StreamOptions) ListenAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", o.Port)
}

// ParseByteSize converte strings human-readable como "256mb", "1gb" para bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Ordenado do sufixo mais longo para o mais curto
	// para evitar que "mb" matche como "b"
	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	// Tenta interpretar como número puro (bytes)
	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
