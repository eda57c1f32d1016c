package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"intervox/encoder"
	"intervox/log"
	"intervox/transcriber"
)

// archiver keeps a FLAC copy of every answer before it goes out for
// transcription. A failed copy is logged and never blocks the turn.
type archiver struct {
	transcriber.Transcriber
	dir string
	now func() time.Time
	n   atomic.Int64
}

func newArchiver(t transcriber.Transcriber, dir string) *archiver {
	return &archiver{Transcriber: t, dir: dir, now: time.Now}
}

func (a *archiver) Transcribe(ctx context.Context, p encoder.Payload) (*transcriber.Result, error) {
	if _, err := a.save(p); err != nil {
		log.Warnf("archive: %v", err)
	}
	return a.Transcriber.Transcribe(ctx, p)
}

func (a *archiver) save(p encoder.Payload) (string, error) {
	data, err := encoder.CompressFLAC(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("answer_%s_%03d.flac", a.now().Format("20060102_150405"), a.n.Add(1))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	log.Info("archived: " + name)
	return path, nil
}
