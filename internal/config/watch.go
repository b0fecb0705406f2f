package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const debounceInterval = 250 * time.Millisecond

// Watch reloads the catalog at path whenever it changes and passes each
// valid result to onChange. Invalid edits are logged and skipped, leaving
// the previous catalog in place. It blocks until ctx ends.
//
// The parent directory is watched so editors that replace the file on save
// are still seen.
func Watch(ctx context.Context, path string, onChange func(Catalog)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			cat, err := LoadCatalog(abs)
			if err != nil {
				log.Warn().Str("path", abs).Err(err).Msg("catalog reload rejected")
				continue
			}
			log.Info().Str("path", abs).Int("servers", len(cat.Servers)).Msg("catalog reloaded")
			onChange(cat)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Str("path", abs).Err(err).Msg("catalog watcher error")
		}
	}
}
