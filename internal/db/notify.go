package db

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  Notify publishes
// the ID of a session whose feed changed; Listen forwards those IDs from any
// process sharing the database.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	Log     *logrus.Entry
}

// NewNotifier constructs a new Notifier.  The channel should match the
// NOTIFY_CHANNEL environment variable.
func NewNotifier(db *sql.DB, dsn, channel string, log *logrus.Entry) *Notifier {
	return &Notifier{DB: db, DSN: dsn, Channel: channel, Log: log}
}

// Notify sends a notification to the channel with the session ID as payload.
func (n *Notifier) Notify(ctx context.Context, sessionID int64) error {
	_, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, strconv.FormatInt(sessionID, 10))
	return err
}

// Listen opens a dedicated listener connection and calls deliver for every
// session ID received on the channel until ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context, deliver func(sessionID int64)) error {
	listener := pq.NewListener(n.DSN, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.Log.WithError(err).WithField("event", ev).Warn("notification listener event")
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return err
	}

	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-listener.Notify:
				// nil after a reconnect; missed events are not replayed
				if note == nil {
					continue
				}
				id, err := strconv.ParseInt(note.Extra, 10, 64)
				if err != nil {
					n.Log.WithField("payload", note.Extra).Warn("ignoring malformed notification")
					continue
				}
				deliver(id)
			case <-time.After(90 * time.Second):
				go func() { _ = listener.Ping() }()
			}
		}
	}()
	return nil
}
