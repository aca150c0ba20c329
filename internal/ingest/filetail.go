package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"
)

func StartFileTail(ctx context.Context, p *Pipeline) {
	current := p.cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if p.logger != nil {
			p.logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if p.logger != nil {
			p.logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, p)
	}
}

// tailFile follows path, reopening it when it is truncated or rotated.
func tailFile(ctx context.Context, path string, startAtEnd bool, p *Pipeline) {
	logger := p.logger
	parser := NewParser()
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						startAtEnd = false
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			fields, err := parser.ParseLine(line)
			if err != nil || fields == nil {
				continue
			}
			_ = p.HandleFields("file_tail", *fields)
		}
	}
}
