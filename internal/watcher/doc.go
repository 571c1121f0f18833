// Package watcher detects source tree changes for incremental indexing.
//
// HybridWatcher prefers fsnotify and falls back to interval polling on
// filesystems that cannot deliver events (network mounts, exhausted
// inotify limits). Raw events are filtered against .gitignore rules and
// coalesced by a debouncer, so a git checkout or an IDE save storm
// surfaces as one batch:
//
//	w, err := watcher.NewHybridWatcher(watcher.Options{Debounce: time.Second})
//	if err != nil {
//		return err
//	}
//	defer w.Stop()
//	go w.Start(ctx, root)
//
//	for batch := range w.Events() {
//		// feed changed paths to the indexer
//	}
//
// Edits to .gitignore files and to the project config surface as
// dedicated operations (OpGitignoreChange, OpConfigChange) so consumers
// can reconcile the index or prompt for a restart instead of indexing
// the edited file.
package watcher
