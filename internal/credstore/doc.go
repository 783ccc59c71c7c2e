// Package credstore persists the session credentials of irisctl.
//
// A Store is a string-keyed, string-valued durable map. The session layer
// keeps every credential field under its own key (see the Key* constants);
// nothing here knows what the values mean.
//
// Three backends are provided:
//
//   - FileStore in file mode writes a single JSON document with 0600
//     permissions inside a 0700 directory (~/.config/irisctl by default).
//   - FileStore in memory mode (NewMemoryStore) keeps values for the life of
//     the process only.
//   - SQLiteStore keeps values in a small SQLite database whose schema is
//     managed with goose migrations.
//
// Ready must return successfully before Get, Set or Remove are used; until
// then those methods return ErrNotReady.
package credstore
