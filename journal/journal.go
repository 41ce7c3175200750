// Package journal records object lifecycle events in a SQLite database.
//
// A Journal is shared by any number of runtimes; each runtime gets its own
// Recorder, keyed by the runtime's task id.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/objcore/vm"
)

var log = commonlog.GetLogger("objcore.journal")

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal closed")

// Journal handles SQLite storage for lifecycle events.
type Journal struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the journal database at path. Use
// ":memory:" for a private in-memory journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS events (
		task      TEXT    NOT NULL,
		seq       INTEGER NOT NULL,
		kind      TEXT    NOT NULL,
		class     TEXT    NOT NULL,
		object_id INTEGER NOT NULL,
		detail    TEXT    NOT NULL,
		PRIMARY KEY (task, seq)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("journal opened at %s", path)
	return &Journal{db: db, path: path}, nil
}

// Path returns the database path given to Open.
func (j *Journal) Path() string { return j.path }

// Close closes the database connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func (j *Journal) insert(task uuid.UUID, seq int64, ev vm.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return ErrClosed
	}
	_, err := j.db.Exec(
		"INSERT INTO events (task, seq, kind, class, object_id, detail) VALUES (?, ?, ?, ?, ?, ?)",
		task.String(), seq, ev.Kind.String(), ev.Class, int64(ev.ObjectID), ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("recording %s event: %w", ev.Kind, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

// Recorder is a vm.Observer that appends every event to the journal under
// one task id. Observers cannot fail, so the first write error is kept and
// later events are dropped; check Err once the task is done.
type Recorder struct {
	j    *Journal
	task uuid.UUID
	seq  int64
	err  error
}

// Observer returns a Recorder for task.
func (j *Journal) Observer(task uuid.UUID) *Recorder {
	return &Recorder{j: j, task: task}
}

// ObjectEvent implements vm.Observer.
func (r *Recorder) ObjectEvent(ev vm.Event) {
	if r.err != nil {
		return
	}
	r.seq++
	if err := r.j.insert(r.task, r.seq, ev); err != nil {
		log.Errorf("task %s: %s", r.task, err)
		r.err = err
	}
}

// Err returns the first error hit while recording.
func (r *Recorder) Err() error { return r.err }

// Recorded returns the number of events written.
func (r *Recorder) Recorded() int64 {
	if r.err != nil {
		return r.seq - 1
	}
	return r.seq
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Summary counts the events recorded for task by kind name.
func (j *Journal) Summary(task uuid.UUID) (map[string]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	rows, err := j.db.Query("SELECT kind, COUNT(*) FROM events WHERE task = ? GROUP BY kind", task.String())
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// Entry is one journaled event.
type Entry struct {
	Seq      int64
	Kind     string
	Class    string
	ObjectID uint32
	Detail   string
}

// Events returns the events recorded for task, oldest first.
func (j *Journal) Events(task uuid.UUID) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	rows, err := j.db.Query(
		"SELECT seq, kind, class, object_id, detail FROM events WHERE task = ? ORDER BY seq",
		task.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var id int64
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Class, &id, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.ObjectID = uint32(id)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tasks returns the ids of every task with journaled events.
func (j *Journal) Tasks() ([]uuid.UUID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	rows, err := j.db.Query("SELECT DISTINCT task FROM events ORDER BY task")
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
