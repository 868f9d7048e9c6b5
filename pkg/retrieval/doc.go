// Package retrieval turns repositories_<N> units into resultsets_<N> files.
//
// Every unit becomes one scheduler task:
//
//	gate -> stage -> read + batch -> governor(fetch) -> append -> commit
//
// A unit whose output already exists is skipped without touching the network.
// Any local failure, or a remote failure the governor gives up on, aborts the
// unit and leaves its output path untouched so the next run picks it up.
package retrieval
