package ingest

import (
	"bufio"
	"context"
	"errors"
	"net"
)

func StartTCPStream(ctx context.Context, p *Pipeline) {
	current := p.cfg.Get().Ingest.TCPStream
	logger := p.logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go serveTCP(ctx, ln, p)
}

func serveTCP(ctx context.Context, ln net.Listener, p *Pipeline) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if p.logger != nil {
				p.logger.Warn("tcp stream accept error", "err", err)
			}
			continue
		}
		go handleTCPStreamConn(ctx, conn, p)
	}
}

// Each connection gets its own parser so CSV headers do not leak between
// peers.
func handleTCPStreamConn(ctx context.Context, conn net.Conn, p *Pipeline) {
	defer conn.Close()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		fields, err := parser.ParseLine(scanner.Text())
		if err != nil || fields == nil {
			continue
		}
		_ = p.HandleFields("tcp_stream", *fields)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && p.logger != nil {
		p.logger.Warn("tcp stream scanner error", "err", err)
	}
}
