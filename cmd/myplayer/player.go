package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/myplayer/myplayer-go/internal/library"
)

// trackListener receives the playback events a real audio backend would report
type trackListener interface {
	OnDuration(ms int64)
	OnPosition(ms int64)
	OnEndOfMedia() error
}

// simPlayer stands in for an audio backend. It prints what plays and, when
// a track length is set, reports position ticks and end of media.
type simPlayer struct {
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	listener trackListener
	length   time.Duration
	tick     time.Duration
	out      io.Writer
	logger   *zap.Logger
	startCh  chan library.Song
}

func newSimPlayer(ctx context.Context, length, tick time.Duration, out io.Writer, logger *zap.Logger) *simPlayer {
	if tick <= 0 {
		tick = time.Second
	}
	return &simPlayer{
		ctx:     ctx,
		length:  length,
		tick:    tick,
		out:     out,
		logger:  logger,
		startCh: make(chan library.Song, 16),
	}
}

func (p *simPlayer) setListener(l trackListener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// Play implements playback.Player
func (p *simPlayer) Play(path string, song library.Song) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	fmt.Fprintf(p.out, "Now playing: %s - %s [%s]\n", song.Title, song.ArtistString(), song.Category)
	p.logger.Debug("Simulated playback", zap.String("path", path))

	select {
	case p.startCh <- song:
	default:
	}

	if p.length <= 0 || p.listener == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel
	go p.simulate(ctx, p.listener)
	return nil
}

// Started returns a channel that receives each song as it starts
func (p *simPlayer) Started() <-chan library.Song {
	return p.startCh
}

func (p *simPlayer) simulate(ctx context.Context, l trackListener) {
	l.OnDuration(p.length.Milliseconds())

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	var pos time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos += p.tick
			if pos >= p.length {
				if err := l.OnEndOfMedia(); err != nil {
					p.logger.Warn("Failed to advance", zap.Error(err))
				}
				return
			}
			l.OnPosition(pos.Milliseconds())
		}
	}
}

func (p *simPlayer) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}
