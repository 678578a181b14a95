// Package watcher mirrors new commits of watched repositories into the
// shared commit log.
//
// A Coordinator consumes repository lifecycle notifications from a Source.
// Callbacks only enqueue typed events; a single dispatcher routes them to
// one worker goroutine per repository, so commits of one repository are
// evaluated strictly in order while different repositories proceed in
// parallel.
//
// For every state change a worker reads HEAD, asks the tracker whether the
// commit is new, resolves it with the inspector and appends it to the
// remote log. The tracker cursor only advances after a successful append;
// failures are reported and retried on the next notification or resync.
//
// Example usage:
//
//	coord := watcher.New(watcher.Options{
//		Source:    src,
//		Inspector: inspector.New(10 * time.Second),
//		Log:       remotelog.NewStore(session.Backend, remotelog.Options{}),
//		Reporter:  watcher.NewLogReporter(logger),
//	})
//	if err := coord.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer coord.Stop(context.Background())
//
// The daemon helpers manage a background process through a PID file and
// translate SIGHUP into re-authentication and SIGUSR1 into a resync.
package watcher
