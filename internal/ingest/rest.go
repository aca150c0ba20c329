package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"homeguard/internal/model"
)

type ingestResult struct {
	Accepted int `json:"accepted"`
	Failed   int `json:"failed"`
	Dropped  int `json:"dropped"`
}

func StartREST(ctx context.Context, p *Pipeline) *http.Server {
	current := p.cfg.Get().Ingest.REST
	logger := p.logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	r := chi.NewRouter()
	r.Post("/events", p.HandleEvents)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: current.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

// HandleEvents accepts one JSON event or an array of them. It answers 202
// when at least one event was queued and 503 when the queue dropped all.
func (p *Pipeline) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var objs []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(trim))
	dec.UseNumber()
	if trim[0] == '[' {
		if err := dec.Decode(&objs); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		objs = append(objs, obj)
	}

	var res ingestResult
	for _, obj := range objs {
		fields := ParseJSONMap(obj)
		err := p.HandleFields("rest", *fields)
		switch {
		case err == nil:
			res.Accepted++
		case errors.Is(err, model.ErrQueueOverflow):
			res.Dropped++
		default:
			res.Failed++
		}
	}

	status := http.StatusAccepted
	switch {
	case res.Accepted == 0 && res.Dropped > 0:
		status = http.StatusServiceUnavailable
	case res.Accepted == 0:
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}
