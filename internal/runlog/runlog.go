// Package runlog records session activity to a ClickHouse database.
// Recording is optional: without GOSMU_DB_USER/GOSMU_DB_PASSWORD in the
// environment, or without a reachable server, every operation is a no-op.
package runlog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "gosmu" // official SQL name of the database

// Connection is one process's link to the run database. It owns a goroutine
// that serializes all inserts; producers hand it messages through channels.
type Connection struct {
	conn     clickhouse.Conn
	err      error
	activity *ActivityMessage
	runmsg   chan *RunMessage
	sync.WaitGroup
}

// IsConnected reports whether the database link is usable.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer checks that a ClickHouse server is reachable with the
// credentials in the environment.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return db.conn.Close()
}

// Start opens the database link, records the activity entry, and launches the
// goroutine that handles run messages until abort is closed.
func Start(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.activity = activity
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

// Dummy returns a Connection on which every operation is a no-op. Use it when
// run recording is disabled.
func Dummy() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	dbUser := os.Getenv("GOSMU_DB_USER")
	dbPass := os.Getenv("GOSMU_DB_PASSWORD")
	if dbUser == "" {
		db.err = fmt.Errorf("GOSMU_DB_USER is not set")
		db.Add(1)
		return db
	}
	opt := clickhouse.Options{
		Addr: []string{"localhost:9000"},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: dbUser,
			Password: dbPass,
		},
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		db.Add(1)
		return db
	}
	db.conn = conn
	db.Add(1)

	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}
	db.runmsg = make(chan *RunMessage)
	return db
}

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	a := db.activity
	formattedStart := a.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := a.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO activity VALUES (?, ?, ?, ?, ?, ?)`, nowait,
		a.ID, a.Hostname, a.Version, a.GoVersion, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into activity ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case msg := <-db.runmsg:
			db.handleRunMessage(msg)
		}
	}
}

// Disconnect finalizes the activity entry with its end time.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.activity.End = time.Now()
		db.logActivity()
	}
}

// RecordRun takes a RunMessage and stores it in the DB (if it's open).
// This function will block until the select statement in handleConnection
// accepts the message, so a run is entered before any attempt to finish it.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.runmsg <- msg
}

// FinishRun stamps the run's end time and updates its entry asynchronously.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.runmsg <- msg }()
}

func (db *Connection) handleRunMessage(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	formattedStart := m.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := m.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.ActivityID, m.Mode, m.SampleRate, m.Nchan,
		m.Ticks, m.FramesRead, m.Drops, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into runs ", err)
		db.err = err
	}
}
