// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package hub

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tópicos do framing JSON do gateway HTTP.
const (
	topicRequest     = "http.request"
	topicResponseLog = "http.response.log"
)

// defaultContentType é aplicado a toda resposta, podendo ser sobrescrito
// pelos headers vindos na resposta externa.
const defaultContentType = "text/html; charset=utf8"

// requestPacket é a linha JSON emitida no stdout para cada request HTTP.
type requestPacket struct {
	Topic   string         `json:"topic"`
	Content requestContent `json:"content"`
}

type requestContent struct {
	Method     string      `json:"method"`
	Headers    [][2]string `json:"headers"`
	RemoteAddr string      `json:"remote_addr"`
	URL        string      `json:"url"`
	Body       string      `json:"body"` // base64 URL-safe
	RequestID  string      `json:"request_id"`
}

// responseLine é a linha JSON esperada no stdin para responder um request.
type responseLine struct {
	RequestID string      `json:"request_id"`
	Body      string      `json:"body"`
	Headers   [][2]string `json:"headers,omitempty"`
}

// logPacket é a linha de log estruturado emitida no stdout.
type logPacket struct {
	Topic    string `json:"topic"`
	Content  any    `json:"content"`
	Severity string `json:"severity"`
	Error    string `json:"error,omitempty"`
}

// lineWriter serializa escritas de linha no stdout: uma linha JSON por
// Write, nunca intercalada.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling packet: %w", err)
	}
	data = append(data, '\n')

	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err = lw.w.Write(data)
	return err
}

// HTTPBridge externaliza o tratamento de requests HTTP: cada request vira
// uma linha JSON no stdout e aguarda a resposta correlacionada por
// request_id em uma linha JSON do stdin.
type HTTPBridge struct {
	in              io.Reader
	out             *lineWriter
	responseTimeout time.Duration
	counters        *Counters
	logger          *slog.Logger

	mu      sync.Mutex
	pending map[string]chan responseLine
}

// NewHTTPBridge cria um HTTPBridge. responseTimeout 0 espera para sempre
// (comportamento documentado); > 0 responde 504 no estouro.
func NewHTTPBridge(in io.Reader, out io.Writer, responseTimeout time.Duration, counters *Counters, logger *slog.Logger) *HTTPBridge {
	return &HTTPBridge{
		in:              in,
		out:             &lineWriter{w: out},
		responseTimeout: responseTimeout,
		counters:        counters,
		logger:          logger.With("component", "http_bridge"),
		pending:         make(map[string]chan responseLine),
	}
}

// Run serve HTTP em ln e consome respostas do stdin até o ctx ser cancelado.
func (h *HTTPBridge) Run(ctx context.Context, ln net.Listener) error {
	go h.readResponses(ctx)

	srv := &http.Server{
		Handler:           http.HandlerFunc(h.handle),
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// handle processa um request: registra o canal single-shot na tabela de
// pendentes, emite o pacote http.request no stdout e bloqueia até a
// resposta chegar (ou timeout/desconexão do cliente).
func (h *HTTPBridge) handle(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logResponse("ERROR", id, r, 0, fmt.Errorf("reading request body: %w", err))
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	headers := make([][2]string, 0, len(r.Header))
	for k, vals := range r.Header {
		for _, v := range vals {
			headers = append(headers, [2]string{k, v})
		}
	}

	packet := requestPacket{
		Topic: topicRequest,
		Content: requestContent{
			Method:     r.Method,
			Headers:    headers,
			RemoteAddr: r.RemoteAddr,
			URL:        r.URL.String(),
			Body:       base64.URLEncoding.EncodeToString(body),
			RequestID:  id,
		},
	}

	// Registra ANTES de emitir: a resposta pode chegar imediatamente
	ch := make(chan responseLine, 1)
	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()
	h.counters.Pending.Add(1)
	defer h.counters.Pending.Add(-1)

	if err := h.out.writeJSON(packet); err != nil {
		h.drop(id)
		h.logger.Error("emitting request packet", "request_id", id, "error", err)
		http.Error(w, "gateway output failed", http.StatusInternalServerError)
		return
	}
	h.counters.LinesOut.Add(1)

	var timeout <-chan time.Time
	if h.responseTimeout > 0 {
		t := time.NewTimer(h.responseTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case resp := <-ch:
		w.Header().Set("Content-Type", defaultContentType)
		for _, kv := range resp.Headers {
			w.Header().Set(kv[0], kv[1])
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, resp.Body); err != nil {
			h.logResponse("ERROR", id, r, http.StatusOK, fmt.Errorf("writing response body: %w", err))
			return
		}
		h.logResponse("INFO", id, r, http.StatusOK, nil)

	case <-timeout:
		h.drop(id)
		http.Error(w, "response timed out", http.StatusGatewayTimeout)
		h.logResponse("ERROR", id, r, http.StatusGatewayTimeout, fmt.Errorf("no response within %s", h.responseTimeout))

	case <-r.Context().Done():
		// Cliente desistiu — remove o pendente para não vazar a entrada
		h.drop(id)
	}
}

// drop remove um request da tabela de pendentes.
func (h *HTTPBridge) drop(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// readResponses consome o stdin linha a linha. Cada linha é uma resposta
// JSON; linha malformada ou request_id desconhecido são logados e o loop
// continua — requests em voo não são afetados.
func (h *HTTPBridge) readResponses(ctx context.Context) {
	s := bufio.NewScanner(h.in)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for s.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		h.counters.LinesIn.Add(1)

		var resp responseLine
		if err := json.Unmarshal(s.Bytes(), &resp); err != nil {
			h.logPacketLine("ERROR", map[string]any{"line": string(s.Bytes())}, fmt.Errorf("parsing response: %w", err))
			continue
		}

		h.mu.Lock()
		ch, ok := h.pending[resp.RequestID]
		if ok {
			delete(h.pending, resp.RequestID)
		}
		h.mu.Unlock()

		if !ok {
			h.logPacketLine("ERROR", map[string]any{"request_id": resp.RequestID}, fmt.Errorf("unknown request_id"))
			continue
		}

		// Canal single-shot com buffer 1: a entrega nunca bloqueia
		ch <- resp
	}
	if err := s.Err(); err != nil {
		h.logger.Error("reading responses", "error", err)
	}
}

// logResponse emite a linha http.response.log no stdout para um request.
func (h *HTTPBridge) logResponse(severity, id string, r *http.Request, status int, err error) {
	content := map[string]any{
		"request_id":  id,
		"method":      r.Method,
		"url":         r.URL.String(),
		"remote_addr": r.RemoteAddr,
	}
	if status != 0 {
		content["status"] = status
	}
	h.logPacketLine(severity, content, err)
}

func (h *HTTPBridge) logPacketLine(severity string, content any, err error) {
	p := logPacket{
		Topic:    topicResponseLog,
		Content:  content,
		Severity: severity,
	}
	if err != nil {
		p.Error = err.Error()
	}
	if werr := h.out.writeJSON(p); werr != nil {
		h.logger.Error("emitting log packet", "error", werr)
	}
}
